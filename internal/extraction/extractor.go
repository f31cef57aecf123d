package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tshla/previsit-platform/internal/observability/metrics"
	"github.com/tshla/previsit-platform/internal/responses"
	"github.com/tshla/previsit-platform/pkg/logging"
)

var extractTracer = otel.Tracer("previsit.internal.extraction.extractor")

// ErrParseFailure marks model output that violated the schema. The caller
// persists the raw transcript with the manual-review flag instead of the
// structured fields.
var ErrParseFailure = errors.New("extraction: model output violates schema")

// Turn is one exchange in the conversation being extracted.
type Turn struct {
	Role string
	Text string
}

// Input carries the transcript and visit context for one extraction.
type Input struct {
	AppointmentID string
	PatientID     string
	PatientName   string
	ProviderName  string
	AppointmentAt time.Time
	Transcript    []Turn
}

// Result is the outcome of one extraction run. NeedsManualReview is set when
// the model output could not be validated; the keyword risk scan still
// applies in that case.
type Result struct {
	Extraction             responses.Extraction
	UrgencyLevel           responses.UrgencyLevel
	RequiresUrgentCallback bool
	NeedsManualReview      bool
	RiskMatches            []string
}

// Extractor converts call transcripts into structured pre-visit data.
type Extractor struct {
	llm     LLMClient
	model   string
	timeout time.Duration
	metrics *metrics.ExtractionMetrics
	logger  *logging.Logger
}

type ExtractorOption func(*Extractor)

func WithExtractionMetrics(m *metrics.ExtractionMetrics) ExtractorOption {
	return func(e *Extractor) { e.metrics = m }
}

func WithTimeout(d time.Duration) ExtractorOption {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewExtractor(llm LLMClient, model string, logger *logging.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Extractor{
		llm:     llm,
		model:   model,
		timeout: 45 * time.Second,
		logger:  logger.Component("extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const extractionSystemPrompt = `You convert a phone conversation between a clinic's automated pre-visit agent and a patient into structured JSON.

Respond with ONLY a JSON object, no prose and no markdown fences, with exactly these keys:
{
  "medications": [{"name": string, "dosage": string, "changed": boolean}],
  "refill_requests": [string],
  "lab_status": "completed" | "pending" | "not_ordered" | "unknown",
  "concerns": [{"description": string, "urgency_score": integer 1-10}],
  "new_symptoms": [string],
  "patient_needs": [string],
  "open_questions": [string],
  "will_attend": boolean or null,
  "risk_flag": boolean
}

Set risk_flag true when the patient mentions anything needing clinical attention before the visit. Use empty arrays when nothing was mentioned. Never invent information not present in the transcript.`

// Extract runs the transcript through the model and validates the output.
// A schema violation or model failure returns a Result with NeedsManualReview
// set and ErrParseFailure; the transcript is never discarded. Risk phrases are
// scanned independently of the model on every path.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	ctx, span := extractTracer.Start(ctx, "extraction.extract")
	defer span.End()
	span.SetAttributes(attribute.String("previsit.appointment_id", in.AppointmentID))

	transcript := renderTranscript(in.Transcript)
	riskMatches := ScanRisk(transcript)

	result := &Result{
		RiskMatches:            riskMatches,
		RequiresUrgentCallback: len(riskMatches) > 0,
		UrgencyLevel:           responses.UrgencyRoutine,
	}
	if len(riskMatches) > 0 {
		result.UrgencyLevel = responses.UrgencyUrgent
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.llm.Complete(ctx, LLMRequest{
		Model:       e.model,
		System:      []string{extractionSystemPrompt},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: buildUserPrompt(in, transcript)}},
		MaxTokens:   2048,
		Temperature: 0,
	})
	if err != nil {
		e.logger.Error("extraction model call failed", "error", err, "appointment_id", in.AppointmentID)
		e.metrics.ObserveFailure("model_error")
		result.NeedsManualReview = true
		return result, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	parsed, err := parseModelOutput(resp.Text)
	if err != nil {
		e.logger.Warn("extraction output rejected", "error", err, "appointment_id", in.AppointmentID)
		e.metrics.ObserveFailure("schema_violation")
		result.NeedsManualReview = true
		return result, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	result.Extraction = responses.Extraction{
		Medications:    parsed.Medications,
		RefillRequests: parsed.RefillRequests,
		LabStatus:      parsed.LabStatus,
		Concerns:       parsed.Concerns,
		NewSymptoms:    parsed.NewSymptoms,
		PatientNeeds:   parsed.PatientNeeds,
		OpenQuestions:  parsed.OpenQuestions,
		WillAttend:     parsed.WillAttend,
	}
	// The keyword scan and the model's flag are OR'ed; a clean model result
	// never clears a keyword hit.
	result.RequiresUrgentCallback = result.RequiresUrgentCallback || parsed.RiskFlag

	level := BucketUrgency(MaxConcernScore(parsed.Concerns))
	if result.RequiresUrgentCallback {
		level = responses.UrgencyUrgent
	}
	result.UrgencyLevel = level

	e.metrics.ObserveExtracted(string(level))
	e.metrics.ObserveDuration(time.Since(start).Seconds())
	return result, nil
}

func buildUserPrompt(in Input, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient: %s\n", in.PatientName)
	fmt.Fprintf(&b, "Provider: %s\n", in.ProviderName)
	if !in.AppointmentAt.IsZero() {
		fmt.Fprintf(&b, "Appointment: %s\n", in.AppointmentAt.Format("Monday, January 2 2006 at 3:04 PM"))
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

func renderTranscript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	return b.String()
}

type modelOutput struct {
	Medications    []responses.Medication `json:"medications"`
	RefillRequests []string               `json:"refill_requests"`
	LabStatus      string                 `json:"lab_status"`
	Concerns       []responses.Concern    `json:"concerns"`
	NewSymptoms    []string               `json:"new_symptoms"`
	PatientNeeds   []string               `json:"patient_needs"`
	OpenQuestions  []string               `json:"open_questions"`
	WillAttend     *bool                  `json:"will_attend"`
	RiskFlag       bool                   `json:"risk_flag"`
}

var validLabStatus = map[string]bool{
	"":            true,
	"completed":   true,
	"pending":     true,
	"not_ordered": true,
	"unknown":     true,
}

// parseModelOutput validates strictly: unknown keys, out-of-range scores or
// unexpected enum values all reject the output rather than coercing it.
func parseModelOutput(text string) (*modelOutput, error) {
	cleaned := stripFences(text)
	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.DisallowUnknownFields()

	var out modelOutput
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, errors.New("trailing content after JSON object")
	}
	if !validLabStatus[out.LabStatus] {
		return nil, fmt.Errorf("invalid lab_status %q", out.LabStatus)
	}
	for _, c := range out.Concerns {
		if strings.TrimSpace(c.Description) == "" {
			return nil, errors.New("concern with empty description")
		}
		if c.UrgencyScore < 1 || c.UrgencyScore > 10 {
			return nil, fmt.Errorf("urgency_score %d out of range", c.UrgencyScore)
		}
	}
	for _, m := range out.Medications {
		if strings.TrimSpace(m.Name) == "" {
			return nil, errors.New("medication with empty name")
		}
	}
	return &out, nil
}

// stripFences tolerates models that wrap the JSON in markdown fences despite
// the instructions.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}
