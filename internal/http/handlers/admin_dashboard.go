package handlers

import (
	"database/sql"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/tshla/previsit-platform/pkg/logging"
)

// PrevisitDashboardHandler serves the staff dashboard overview. States are
// derived purely from the persisted entities, never stored.
type PrevisitDashboardHandler struct {
	db       *sql.DB
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

func NewPrevisitDashboardHandler(db *sql.DB, logger *logging.Logger) *PrevisitDashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PrevisitDashboardHandler{db: db, logger: logger.Component("admin-dashboard")}
}

// WithGatherer adds webhook latency percentiles to the overview, sourced from
// the process metrics registry.
func (h *PrevisitDashboardHandler) WithGatherer(g prometheus.Gatherer) *PrevisitDashboardHandler {
	h.gatherer = g
	return h
}

// AppointmentMetrics summarizes upcoming pre-visit workload.
type AppointmentMetrics struct {
	Upcoming          int `json:"upcoming"`
	Pending           int `json:"pending"`
	Completed         int `json:"completed"`
	NeedsManualReview int `json:"needs_manual_review"`
	NoResponse        int `json:"no_response_after_max_attempts"`
}

// CallMetrics summarizes today's outbound call activity.
type CallMetrics struct {
	DispatchedToday int `json:"dispatched_today"`
	AnsweredHuman   int `json:"answered_human"`
	VoicemailsLeft  int `json:"voicemails_left"`
	NoAnswer        int `json:"no_answer"`
	Failed          int `json:"failed"`
}

// PendingAction represents an item requiring staff attention.
type PendingAction struct {
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// LatencySnapshot aggregates a histogram family into staff-readable
// percentiles.
type LatencySnapshot struct {
	Total int64   `json:"total"`
	P90Ms float64 `json:"p90_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// DashboardResponse is the previsit dashboard overview payload.
type DashboardResponse struct {
	GeneratedAt     time.Time          `json:"generated_at"`
	HorizonDays     int                `json:"horizon_days"`
	Appointments    AppointmentMetrics `json:"appointments"`
	Calls           CallMetrics        `json:"calls"`
	UrgentCallbacks int                `json:"urgent_callbacks"`
	PendingActions  []PendingAction    `json:"pending_actions"`
	WebhookLatency  *LatencySnapshot   `json:"webhook_latency,omitempty"`
}

// GetOverview returns the main previsit dashboard overview.
// GET /admin/dashboard/previsit
func (h *PrevisitDashboardHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	const horizonDays = 3

	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)
	horizon := today.AddDate(0, 0, horizonDays+1)

	resp := DashboardResponse{
		GeneratedAt: now,
		HorizonDays: horizonDays,
	}

	// Upcoming appointments within the calling horizon.
	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM appointments
		 WHERE status = 'scheduled' AND starts_at >= $1 AND starts_at < $2`,
		today, horizon,
	).Scan(&resp.Appointments.Upcoming)

	// Completed: a pre-visit response exists.
	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM appointments a
		 JOIN previsit_responses pr ON pr.appointment_id = a.id
		 WHERE a.status = 'scheduled' AND a.starts_at >= $1 AND a.starts_at < $2`,
		today, horizon,
	).Scan(&resp.Appointments.Completed)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM appointments a
		 JOIN previsit_responses pr ON pr.appointment_id = a.id
		 WHERE a.starts_at >= $1 AND a.starts_at < $2 AND pr.needs_manual_review`,
		today, horizon,
	).Scan(&resp.Appointments.NeedsManualReview)

	// No response: attempt cap reached without a completed conversation.
	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM appointments a
		 WHERE a.starts_at >= $1 AND a.starts_at < $2
		   AND NOT EXISTS (SELECT 1 FROM previsit_responses pr WHERE pr.appointment_id = a.id)
		   AND (SELECT COUNT(*) FROM call_attempts ca WHERE ca.appointment_id = a.id) >= 3
		   AND NOT EXISTS (
			SELECT 1 FROM call_attempts ca
			WHERE ca.appointment_id = a.id AND ca.state NOT IN
				('completed','no_answer','busy','provider_failure','voicemail_left','abandoned'))`,
		today, horizon,
	).Scan(&resp.Appointments.NoResponse)

	resp.Appointments.Pending = resp.Appointments.Upcoming - resp.Appointments.Completed - resp.Appointments.NoResponse
	if resp.Appointments.Pending < 0 {
		resp.Appointments.Pending = 0
	}

	// Today's call activity.
	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM call_attempts WHERE initiated_at >= $1`, today,
	).Scan(&resp.Calls.DispatchedToday)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM call_attempts
		 WHERE initiated_at >= $1 AND state IN ('answered_human','completed')`, today,
	).Scan(&resp.Calls.AnsweredHuman)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM call_attempts WHERE initiated_at >= $1 AND state = 'voicemail_left'`, today,
	).Scan(&resp.Calls.VoicemailsLeft)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM call_attempts WHERE initiated_at >= $1 AND state IN ('no_answer','busy')`, today,
	).Scan(&resp.Calls.NoAnswer)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM call_attempts WHERE initiated_at >= $1 AND state = 'provider_failure'`, today,
	).Scan(&resp.Calls.Failed)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM previsit_responses
		 WHERE requires_urgent_callback AND reviewed_at IS NULL`,
	).Scan(&resp.UrgentCallbacks)

	resp.PendingActions = []PendingAction{}
	if resp.UrgentCallbacks > 0 {
		resp.PendingActions = append(resp.PendingActions, PendingAction{
			Type:        "urgent_callback",
			Priority:    "high",
			Description: "Patients flagged for urgent callback awaiting provider review",
			Count:       resp.UrgentCallbacks,
		})
	}
	if resp.Appointments.NeedsManualReview > 0 {
		resp.PendingActions = append(resp.PendingActions, PendingAction{
			Type:        "manual_review",
			Priority:    "medium",
			Description: "Transcripts persisted without a clean extraction",
			Count:       resp.Appointments.NeedsManualReview,
		})
	}
	if resp.Appointments.NoResponse > 0 {
		resp.PendingActions = append(resp.PendingActions, PendingAction{
			Type:        "manual_outreach",
			Priority:    "medium",
			Description: "Appointments unreachable after all call attempts",
			Count:       resp.Appointments.NoResponse,
		})
	}

	if h.gatherer != nil {
		resp.WebhookLatency = snapshotWebhookLatency(h.gatherer)
	}

	writeJSON(w, http.StatusOK, resp)
}

func snapshotWebhookLatency(gatherer prometheus.Gatherer) *LatencySnapshot {
	mfs, err := gatherer.Gather()
	if err != nil {
		return nil
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == "previsit_calls_webhook_latency_seconds" {
			family = mf
			break
		}
	}
	if family == nil {
		return nil
	}

	// Aggregate the histogram across event types.
	cumulativeByUpper := map[float64]uint64{}
	var sampleCount uint64
	for _, metric := range family.Metric {
		if metric == nil {
			continue
		}
		hist := metric.GetHistogram()
		if hist == nil {
			continue
		}
		sampleCount += hist.GetSampleCount()
		for _, b := range hist.Bucket {
			if b == nil {
				continue
			}
			cumulativeByUpper[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if sampleCount == 0 || len(cumulativeByUpper) == 0 {
		return nil
	}

	uppers := make([]float64, 0, len(cumulativeByUpper))
	for upper := range cumulativeByUpper {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	return &LatencySnapshot{
		Total: int64(sampleCount),
		P90Ms: histogramQuantile(0.90, sampleCount, uppers, cumulativeByUpper) * 1000.0,
		P95Ms: histogramQuantile(0.95, sampleCount, uppers, cumulativeByUpper) * 1000.0,
	}
}

func histogramQuantile(q float64, total uint64, uppers []float64, cumulativeByUpper map[float64]uint64) float64 {
	if total == 0 || q <= 0 {
		return 0
	}
	rank := q * float64(total)
	var lowerBound float64
	var prev uint64
	for _, upper := range uppers {
		cum := cumulativeByUpper[upper]
		if float64(cum) >= rank {
			bucketCount := cum - prev
			if bucketCount == 0 {
				return upper
			}
			// Linear interpolation inside the bucket, the open-ended
			// bucket reports its lower bound.
			if upper > lowerBound && !math.IsInf(upper, 1) {
				return lowerBound + (upper-lowerBound)*(rank-float64(prev))/float64(bucketCount)
			}
			return lowerBound
		}
		if !math.IsInf(upper, 1) {
			lowerBound = upper
		}
		prev = cum
	}
	return lowerBound
}
