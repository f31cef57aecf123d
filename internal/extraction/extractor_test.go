package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tshla/previsit-platform/internal/responses"
)

type stubLLM struct {
	text string
	err  error
	last LLMRequest
}

func (s *stubLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.last = req
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	return LLMResponse{Text: s.text}, nil
}

const validOutput = `{
	"medications": [{"name": "lisinopril", "dosage": "10mg", "changed": true}],
	"refill_requests": ["lisinopril"],
	"lab_status": "pending",
	"concerns": [{"description": "dizzy in the mornings", "urgency_score": 4}],
	"new_symptoms": ["dizziness"],
	"patient_needs": [],
	"open_questions": ["should I fast before labs"],
	"will_attend": true,
	"risk_flag": false
}`

func sampleInput(transcript string) Input {
	return Input{
		AppointmentID: "APT-1",
		PatientID:     "P-2026-0001",
		PatientName:   "Maria Gomez",
		ProviderName:  "Dr. Patel",
		Transcript: []Turn{
			{Role: "agent", Text: "How have you been feeling?"},
			{Role: "patient", Text: transcript},
		},
	}
}

func TestExtractValidOutput(t *testing.T) {
	llm := &stubLLM{text: validOutput}
	ex := NewExtractor(llm, "claude-3", nil)

	result, err := ex.Extract(context.Background(), sampleInput("I started lisinopril and feel dizzy some mornings."))
	require.NoError(t, err)
	require.False(t, result.NeedsManualReview)
	require.False(t, result.RequiresUrgentCallback)
	require.Equal(t, responses.UrgencyModerate, result.UrgencyLevel)
	require.Len(t, result.Extraction.Medications, 1)
	require.Equal(t, "pending", result.Extraction.LabStatus)
	require.NotNil(t, result.Extraction.WillAttend)
	require.True(t, *result.Extraction.WillAttend)
}

func TestExtractKeywordOverridesCleanModel(t *testing.T) {
	// The model reports no risk; the transcript mentions chest pain anyway.
	llm := &stubLLM{text: validOutput}
	ex := NewExtractor(llm, "claude-3", nil)

	result, err := ex.Extract(context.Background(), sampleInput("I've had some chest pain this week."))
	require.NoError(t, err)
	require.True(t, result.RequiresUrgentCallback)
	require.Equal(t, responses.UrgencyUrgent, result.UrgencyLevel)
	require.Contains(t, result.RiskMatches, "chest pain")
}

func TestExtractModelRiskFlagEscalates(t *testing.T) {
	flagged := `{"medications":[],"refill_requests":[],"lab_status":"unknown","concerns":[],"new_symptoms":[],"patient_needs":[],"open_questions":[],"will_attend":null,"risk_flag":true}`
	llm := &stubLLM{text: flagged}
	ex := NewExtractor(llm, "claude-3", nil)

	result, err := ex.Extract(context.Background(), sampleInput("something felt off but hard to describe"))
	require.NoError(t, err)
	require.True(t, result.RequiresUrgentCallback)
	require.Equal(t, responses.UrgencyUrgent, result.UrgencyLevel)
	require.Empty(t, result.RiskMatches)
}

func TestExtractSchemaViolationNeedsManualReview(t *testing.T) {
	cases := map[string]string{
		"not json":       `the patient seems fine`,
		"unknown field":  `{"medications":[],"surprise":true}`,
		"bad score":      `{"medications":[],"refill_requests":[],"lab_status":"unknown","concerns":[{"description":"x","urgency_score":15}],"new_symptoms":[],"patient_needs":[],"open_questions":[],"will_attend":null,"risk_flag":false}`,
		"bad lab status": `{"medications":[],"refill_requests":[],"lab_status":"maybe","concerns":[],"new_symptoms":[],"patient_needs":[],"open_questions":[],"will_attend":null,"risk_flag":false}`,
		"empty med name": `{"medications":[{"name":""}],"refill_requests":[],"lab_status":"","concerns":[],"new_symptoms":[],"patient_needs":[],"open_questions":[],"will_attend":null,"risk_flag":false}`,
	}

	for name, output := range cases {
		t.Run(name, func(t *testing.T) {
			ex := NewExtractor(&stubLLM{text: output}, "claude-3", nil)
			result, err := ex.Extract(context.Background(), sampleInput("hello"))
			require.ErrorIs(t, err, ErrParseFailure)
			require.True(t, result.NeedsManualReview)
			require.Empty(t, result.Extraction.Medications)
		})
	}
}

func TestExtractParseFailureKeepsKeywordRisk(t *testing.T) {
	ex := NewExtractor(&stubLLM{text: "garbage"}, "claude-3", nil)
	result, err := ex.Extract(context.Background(), sampleInput("I can't breathe at night sometimes"))
	require.ErrorIs(t, err, ErrParseFailure)
	require.True(t, result.NeedsManualReview)
	require.True(t, result.RequiresUrgentCallback)
	require.Equal(t, responses.UrgencyUrgent, result.UrgencyLevel)
}

func TestExtractModelErrorNeedsManualReview(t *testing.T) {
	ex := NewExtractor(&stubLLM{err: errors.New("throttled")}, "claude-3", nil)
	result, err := ex.Extract(context.Background(), sampleInput("hello"))
	require.ErrorIs(t, err, ErrParseFailure)
	require.True(t, result.NeedsManualReview)
}

func TestExtractToleratesMarkdownFences(t *testing.T) {
	ex := NewExtractor(&stubLLM{text: "```json\n" + validOutput + "\n```"}, "claude-3", nil)
	result, err := ex.Extract(context.Background(), sampleInput("hello"))
	require.NoError(t, err)
	require.Len(t, result.Extraction.Medications, 1)
}

func TestBucketUrgency(t *testing.T) {
	require.Equal(t, responses.UrgencyRoutine, BucketUrgency(0))
	require.Equal(t, responses.UrgencyRoutine, BucketUrgency(3))
	require.Equal(t, responses.UrgencyModerate, BucketUrgency(4))
	require.Equal(t, responses.UrgencyHigh, BucketUrgency(7))
	require.Equal(t, responses.UrgencyUrgent, BucketUrgency(9))
	require.Equal(t, responses.UrgencyUrgent, BucketUrgency(10))
}
