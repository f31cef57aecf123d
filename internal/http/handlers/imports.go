package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tshla/previsit-platform/internal/patients"
	"github.com/tshla/previsit-platform/pkg/logging"
)

type patientResolver interface {
	Resolve(ctx context.Context, rec patients.ImportRecord) (*patients.Resolution, error)
}

// ImportHandler accepts appointment-feed batches and resolves each record to
// a canonical patient identity.
type ImportHandler struct {
	resolver patientResolver
	logger   *logging.Logger
}

func NewImportHandler(resolver patientResolver, logger *logging.Logger) *ImportHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ImportHandler{resolver: resolver, logger: logger.Component("imports")}
}

type importRequest struct {
	Records []patients.ImportRecord `json:"records"`
}

// ImportResult reports the resolution outcome for one feed record.
type ImportResult struct {
	Index           int                `json:"index"`
	PatientID       string             `json:"patient_id,omitempty"`
	Tier            patients.MatchTier `json:"tier,omitempty"`
	MatchConfidence float64            `json:"match_confidence,omitempty"`
	Created         bool               `json:"created,omitempty"`
	Error           string             `json:"error,omitempty"`
}

type importResponse struct {
	Results  []ImportResult `json:"results"`
	Resolved int            `json:"resolved"`
	Failed   int            `json:"failed"`
}

// HandleImport processes POST /imports/appointments. Records fail
// individually; one malformed row never rejects the batch.
func (h *ImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var req importRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, "no records", http.StatusBadRequest)
		return
	}

	resp := importResponse{Results: make([]ImportResult, 0, len(req.Records))}
	for i, rec := range req.Records {
		result := ImportResult{Index: i}
		res, err := h.resolver.Resolve(r.Context(), rec)
		switch {
		case err == nil:
			result.PatientID = res.PatientID
			result.Tier = res.Tier
			result.MatchConfidence = res.MatchConfidence
			result.Created = res.Created
			resp.Resolved++
		case errors.Is(err, patients.ErrValidation) || errors.Is(err, patients.ErrMissingProvider):
			result.Error = err.Error()
			resp.Failed++
		default:
			h.logger.Error("resolution failed", "index", i, "error", err)
			result.Error = "internal error"
			resp.Failed++
		}
		resp.Results = append(resp.Results, result)
	}

	status := http.StatusOK
	if resp.Resolved == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}
