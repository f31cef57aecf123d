package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/tshla/previsit-platform/pkg/logging"
)

// Resolver finds or creates the canonical patient for an import record.
// Matching is tiered, first match wins: exact phone, then name+DOB, then a
// single-candidate fuzzy match scoped to the provider, then creation.
type Resolver struct {
	repo      Repository
	threshold float64
	logger    *logging.Logger
	now       func() time.Time
}

// NewResolver creates a resolver with the given fuzzy-match threshold.
func NewResolver(repo Repository, threshold float64, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &Resolver{
		repo:      repo,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Resolve runs the match tiers and returns the canonical patient id. Every
// successful match touches the patient's last-appointment date; name+DOB
// matches also backfill a missing phone.
func (r *Resolver) Resolve(ctx context.Context, rec ImportRecord) (*Resolution, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	res, err := r.lookup(ctx, rec)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	res, err = r.create(ctx, rec)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrIdentifierTaken) {
		return nil, err
	}

	// Lost a creation race: a concurrent import may have just created this
	// same person. Re-run the lookup tiers once before creating again.
	r.logger.Warn("patient creation race, retrying lookup", "name", rec.Name)
	res, lookupErr := r.lookup(ctx, rec)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if res != nil {
		return res, nil
	}
	res, err = r.create(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrIdentifierTaken) {
			return nil, ErrCreationRace
		}
		return nil, err
	}
	return res, nil
}

func (r *Resolver) lookup(ctx context.Context, rec ImportRecord) (*Resolution, error) {
	phone := NormalizePhone(rec.Phone)

	// Tier 1: exact normalized phone.
	if phone != "" {
		p, err := r.repo.FindByPhone(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("patients: phone lookup: %w", err)
		}
		if p != nil {
			if err := r.repo.Touch(ctx, p.ID, rec.AppointmentDate, ""); err != nil {
				return nil, fmt.Errorf("patients: touch: %w", err)
			}
			return r.matched(p.ID, MatchPhone), nil
		}
	}

	// Tier 2: normalized name + date of birth, backfilling a missing phone.
	if rec.DateOfBirth != "" {
		p, err := r.repo.FindByNameDOB(ctx, NormalizeName(rec.Name), rec.DateOfBirth)
		if err != nil {
			return nil, fmt.Errorf("patients: name+dob lookup: %w", err)
		}
		if p != nil {
			backfill := ""
			if p.Phone == "" && phone != "" {
				backfill = phone
			}
			if err := r.repo.Touch(ctx, p.ID, rec.AppointmentDate, backfill); err != nil {
				return nil, fmt.Errorf("patients: touch: %w", err)
			}
			return r.matched(p.ID, MatchNameDOB), nil
		}
	}

	// Tier 3: fuzzy name match restricted to the same provider. Exactly one
	// candidate may clear the threshold; ambiguity falls through to creation.
	candidate, err := r.fuzzyCandidate(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrAmbiguousMatch) {
			r.logger.Info("ambiguous fuzzy match, creating new patient",
				"name", rec.Name, "provider_id", rec.ProviderID)
			return nil, nil
		}
		return nil, err
	}
	if candidate != nil {
		if err := r.repo.Touch(ctx, candidate.ID, rec.AppointmentDate, ""); err != nil {
			return nil, fmt.Errorf("patients: touch: %w", err)
		}
		return r.matched(candidate.ID, MatchFuzzy), nil
	}

	return nil, nil
}

func (r *Resolver) fuzzyCandidate(ctx context.Context, rec ImportRecord) (*Patient, error) {
	candidates, err := r.repo.ListByProvider(ctx, rec.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("patients: provider scan: %w", err)
	}
	target := NormalizeName(rec.Name)
	var match *Patient
	for i := range candidates {
		if NameSimilarity(target, NormalizeName(candidates[i].FullName)) >= r.threshold {
			if match != nil {
				return nil, ErrAmbiguousMatch
			}
			match = &candidates[i]
		}
	}
	return match, nil
}

func (r *Resolver) create(ctx context.Context, rec ImportRecord) (*Resolution, error) {
	year := r.now().UTC().Year()
	id, err := r.repo.NextIdentifier(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("patients: allocate identifier: %w", err)
	}
	p := &Patient{
		ID:                id,
		Phone:             NormalizePhone(rec.Phone),
		FullName:          strings.TrimSpace(rec.Name),
		DateOfBirth:       strings.TrimSpace(rec.DateOfBirth),
		Email:             strings.TrimSpace(rec.Email),
		ProviderID:        rec.ProviderID,
		Status:            StatusActive,
		LastAppointmentAt: rec.AppointmentDate,
		CreatedAt:         r.now().UTC(),
	}
	if err := r.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	r.logger.Info("patient created", "patient_id", p.ID, "provider_id", p.ProviderID)
	return &Resolution{PatientID: p.ID, Tier: MatchCreated, Created: true}, nil
}

func (r *Resolver) matched(id string, tier MatchTier) *Resolution {
	return &Resolution{PatientID: id, Tier: tier, MatchConfidence: tier.Confidence()}
}

// NameSimilarity returns an edit-distance-derived ratio in [0,1]: 1 minus the
// Levenshtein distance over the longer length.
func NameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
