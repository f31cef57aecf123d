package patients

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Repository defines the storage contract the resolver depends on.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Patient, error)
	FindByPhone(ctx context.Context, phone string) (*Patient, error)
	FindByNameDOB(ctx context.Context, normalizedName, dob string) (*Patient, error)
	ListByProvider(ctx context.Context, providerID string) ([]Patient, error)
	// Create persists a new patient with a freshly allocated identifier.
	// It returns ErrIdentifierTaken when a concurrent creation won the
	// sequence slot; callers retry per the resolution contract.
	Create(ctx context.Context, p *Patient) error
	// Touch updates last-appointment date and optionally backfills phone.
	Touch(ctx context.Context, id string, appointmentDate time.Time, backfillPhone string) error
	NextIdentifier(ctx context.Context, year int) (string, error)
}

// InMemoryRepository backs tests and local development.
type InMemoryRepository struct {
	mu       sync.Mutex
	byID     map[string]*Patient
	seq      map[int]int
	failNext int // forces ErrIdentifierTaken on the next N creates
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID: make(map[string]*Patient),
		seq:  make(map[int]int),
	}
}

// FailNextCreates makes the following n Create calls return
// ErrIdentifierTaken, simulating a lost uniqueness race.
func (r *InMemoryRepository) FailNextCreates(n int) {
	r.mu.Lock()
	r.failNext = n
	r.mu.Unlock()
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryRepository) FindByPhone(ctx context.Context, phone string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.Phone != "" && p.Phone == phone {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepository) FindByNameDOB(ctx context.Context, normalizedName, dob string) (*Patient, error) {
	if normalizedName == "" || dob == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if NormalizeName(p.FullName) == normalizedName && p.DateOfBirth == dob {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepository) ListByProvider(ctx context.Context, providerID string) ([]Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Patient
	for _, p := range r.byID {
		if p.ProviderID == providerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) Create(ctx context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return ErrIdentifierTaken
	}
	if _, exists := r.byID[p.ID]; exists {
		return ErrIdentifierTaken
	}
	// mirrors the unique index on phone
	if p.Phone != "" {
		for _, existing := range r.byID {
			if existing.Phone == p.Phone {
				return ErrIdentifierTaken
			}
		}
	}
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *InMemoryRepository) Touch(ctx context.Context, id string, appointmentDate time.Time, backfillPhone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.LastAppointmentAt = appointmentDate
	if backfillPhone != "" && p.Phone == "" {
		p.Phone = backfillPhone
	}
	return nil
}

func (r *InMemoryRepository) NextIdentifier(ctx context.Context, year int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Recompute the max from stored ids so a failed Create does not burn a slot.
	max := 0
	prefix := fmt.Sprintf("P-%d-", year)
	for id := range r.byID {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(id[len(prefix):], "%d", &n); err == nil && n > max {
			max = n
		}
	}
	if max < r.seq[year] {
		max = r.seq[year]
	}
	r.seq[year] = max + 1
	return fmt.Sprintf("%s%04d", prefix, max+1), nil
}
