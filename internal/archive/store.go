// Package archive stores raw call transcripts in S3 so the Postgres row only
// needs to keep a reference.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives transcripts to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger.Component("archive")}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// transcriptRecord is the archived JSON shape.
type transcriptRecord struct {
	AppointmentID string                  `json:"appointment_id"`
	AttemptID     string                  `json:"attempt_id"`
	Transcript    []calls.TranscriptEntry `json:"transcript"`
	ArchivedAt    time.Time               `json:"archived_at"`
}

// Archive writes the transcript as JSON and returns its s3:// reference.
// Returns an empty reference when archival is disabled.
func (s *Store) Archive(ctx context.Context, appointmentID, attemptID string, transcript []calls.TranscriptEntry) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	now := time.Now().UTC()
	record := transcriptRecord{
		AppointmentID: appointmentID,
		AttemptID:     attemptID,
		Transcript:    transcript,
		ArchivedAt:    now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("archive: marshal transcript: %w", err)
	}

	key := fmt.Sprintf("transcripts/v1/by-date/%d/%02d/%02d/%s.json",
		now.Year(), now.Month(), now.Day(), attemptID)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	ref := "s3://" + s.bucket + "/" + key
	s.logger.Info("transcript archived",
		"appointment_id", appointmentID, "attempt_id", attemptID, "s3_key", key)
	return ref, nil
}

// Fetch reads an archived transcript back by its s3:// reference.
func (s *Store) Fetch(ctx context.Context, ref string) ([]calls.TranscriptEntry, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("archive: not configured")
	}
	key, err := s.keyFromRef(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive: read object: %w", err)
	}
	var record transcriptRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("archive: decode transcript: %w", err)
	}
	return record.Transcript, nil
}

func (s *Store) keyFromRef(ref string) (string, error) {
	prefix := "s3://" + s.bucket + "/"
	if !strings.HasPrefix(ref, prefix) {
		return "", fmt.Errorf("archive: reference %q does not match bucket %s", ref, s.bucket)
	}
	return strings.TrimPrefix(ref, prefix), nil
}
