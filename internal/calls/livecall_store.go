package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LiveCall tracks the state of an in-progress pre-visit call in Redis. It is
// the hot-path view the dashboard streams from; the durable record lives in
// call_attempts.
type LiveCall struct {
	// ExternalCallID is the telephony provider's call control ID.
	ExternalCallID string `json:"external_call_id"`
	// AttemptID is the call_attempts row this call belongs to.
	AttemptID string `json:"attempt_id"`
	// AppointmentID links to the appointment being confirmed.
	AppointmentID string `json:"appointment_id"`
	// PatientID is the resolved patient identifier.
	PatientID string `json:"patient_id"`
	// PatientPhone is the dialed number in E.164.
	PatientPhone string `json:"patient_phone"`
	// AttemptNumber is 1..3.
	AttemptNumber int `json:"attempt_number"`
	// Status mirrors the attempt state while the call is live.
	Status string `json:"status"`
	// TurnCount tracks how many exchanges the interview agent has had.
	TurnCount int `json:"turn_count"`
	// StartedAt is when the call was dialed.
	StartedAt time.Time `json:"started_at"`
	// LastActivityAt tracks the most recent interaction.
	LastActivityAt time.Time `json:"last_activity_at"`
	// Urgent is set the moment an emergency signal arrives, before the
	// durable record catches up.
	Urgent bool `json:"urgent,omitempty"`
}

// TranscriptEntry is a single turn in a live call transcript.
type TranscriptEntry struct {
	Role      string    `json:"role"` // "patient" or "agent"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	liveCallKeyPrefix   = "previsit:call:"
	transcriptKeyPrefix = "previsit:transcript:"
	liveCallIndexKey    = "previsit:call:index"
	liveCallTTL         = 24 * time.Hour
)

// LiveCallStore manages in-progress call state in Redis.
type LiveCallStore struct {
	rdb *redis.Client
}

// NewLiveCallStore creates a live call store backed by Redis.
func NewLiveCallStore(rdb *redis.Client) *LiveCallStore {
	return &LiveCallStore{rdb: rdb}
}

func liveCallKey(externalCallID string) string {
	return liveCallKeyPrefix + externalCallID
}

func transcriptKey(externalCallID string) string {
	return transcriptKeyPrefix + externalCallID
}

// Save persists or updates live call state.
func (s *LiveCallStore) Save(ctx context.Context, lc *LiveCall) error {
	if lc == nil || lc.ExternalCallID == "" {
		return fmt.Errorf("live call: external_call_id required")
	}
	data, err := json.Marshal(lc)
	if err != nil {
		return fmt.Errorf("live call: marshal: %w", err)
	}
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, liveCallKey(lc.ExternalCallID), data, liveCallTTL)
	pipe.SAdd(ctx, liveCallIndexKey, lc.ExternalCallID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("live call: save: %w", err)
	}
	return nil
}

// List returns all tracked live calls. Index entries whose state has aged
// out are pruned as a side effect.
func (s *LiveCallStore) List(ctx context.Context) ([]LiveCall, error) {
	ids, err := s.rdb.SMembers(ctx, liveCallIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("live call: list index: %w", err)
	}
	out := make([]LiveCall, 0, len(ids))
	for _, id := range ids {
		lc, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if lc == nil {
			s.rdb.SRem(ctx, liveCallIndexKey, id)
			continue
		}
		out = append(out, *lc)
	}
	return out, nil
}

// Get retrieves live call state. Returns nil, nil when the call is unknown
// or has aged out.
func (s *LiveCallStore) Get(ctx context.Context, externalCallID string) (*LiveCall, error) {
	data, err := s.rdb.Get(ctx, liveCallKey(externalCallID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("live call: get: %w", err)
	}
	var lc LiveCall
	if err := json.Unmarshal(data, &lc); err != nil {
		return nil, fmt.Errorf("live call: unmarshal: %w", err)
	}
	return &lc, nil
}

// SetStatus updates the live status, touching last activity.
func (s *LiveCallStore) SetStatus(ctx context.Context, externalCallID, status string) error {
	lc, err := s.Get(ctx, externalCallID)
	if err != nil {
		return err
	}
	if lc == nil {
		return fmt.Errorf("live call: call %s not found", externalCallID)
	}
	lc.Status = status
	lc.LastActivityAt = time.Now().UTC()
	return s.Save(ctx, lc)
}

// MarkUrgent flags the live call as urgent.
func (s *LiveCallStore) MarkUrgent(ctx context.Context, externalCallID string) error {
	lc, err := s.Get(ctx, externalCallID)
	if err != nil {
		return err
	}
	if lc == nil {
		return fmt.Errorf("live call: call %s not found", externalCallID)
	}
	lc.Urgent = true
	lc.LastActivityAt = time.Now().UTC()
	return s.Save(ctx, lc)
}

// AppendTranscript adds a transcript entry and bumps the turn counter.
func (s *LiveCallStore) AppendTranscript(ctx context.Context, externalCallID string, entry TranscriptEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("live call transcript: marshal: %w", err)
	}
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, transcriptKey(externalCallID), data)
	pipe.Expire(ctx, transcriptKey(externalCallID), liveCallTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("live call transcript: append: %w", err)
	}
	lc, err := s.Get(ctx, externalCallID)
	if err != nil || lc == nil {
		return err
	}
	lc.TurnCount++
	lc.LastActivityAt = entry.Timestamp
	return s.Save(ctx, lc)
}

// Transcript retrieves the full transcript for a live or recently ended call.
func (s *LiveCallStore) Transcript(ctx context.Context, externalCallID string) ([]TranscriptEntry, error) {
	data, err := s.rdb.LRange(ctx, transcriptKey(externalCallID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("live call transcript: get: %w", err)
	}
	entries := make([]TranscriptEntry, 0, len(data))
	for _, d := range data {
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(d), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Delete removes live state once the durable record is final.
func (s *LiveCallStore) Delete(ctx context.Context, externalCallID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, liveCallKey(externalCallID), transcriptKey(externalCallID))
	pipe.SRem(ctx, liveCallIndexKey, externalCallID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("live call: delete: %w", err)
	}
	return nil
}
