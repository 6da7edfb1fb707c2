package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iago/support-inbox-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// ErrStatusConflict means an update's status guard rejected the write.
var ErrStatusConflict = errors.New("resource status conflict")

// EmailRepository abstracts email persistence. Update must apply the whole
// partial update to a single record atomically.
type EmailRepository interface {
	Create(ctx context.Context, email *domain.Email) error
	Get(ctx context.Context, id string) (*domain.Email, error)
	ListAll(ctx context.Context) ([]*domain.Email, error)
	List(ctx context.Context, filter domain.EmailFilter) ([]*domain.Email, error)
	Update(ctx context.Context, id string, update domain.EmailUpdate) (*domain.Email, error)
	Delete(ctx context.Context, id string) error
}

// MemoryEmailRepository stores emails in memory for local development.
type MemoryEmailRepository struct {
	mu     sync.RWMutex
	emails map[string]*domain.Email
}

func NewMemoryEmailRepository() *MemoryEmailRepository {
	return &MemoryEmailRepository{
		emails: make(map[string]*domain.Email),
	}
}

func (r *MemoryEmailRepository) Create(_ context.Context, email *domain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.emails[email.ID] = email.Clone()
	return nil
}

func (r *MemoryEmailRepository) Get(_ context.Context, id string) (*domain.Email, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email, ok := r.emails[id]
	if !ok {
		return nil, ErrNotFound
	}
	return email.Clone(), nil
}

func (r *MemoryEmailRepository) ListAll(ctx context.Context) ([]*domain.Email, error) {
	return r.List(ctx, domain.EmailFilter{})
}

func (r *MemoryEmailRepository) List(_ context.Context, filter domain.EmailFilter) ([]*domain.Email, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*domain.Email, 0, len(r.emails))
	for _, email := range r.emails {
		if !filter.Matches(email) {
			continue
		}
		items = append(items, email.Clone())
	}
	SortForDisplay(items)
	return items, nil
}

func (r *MemoryEmailRepository) Update(
	_ context.Context,
	id string,
	update domain.EmailUpdate,
) (*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.emails[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !update.Permits(current.ResponseStatus) {
		return nil, ErrStatusConflict
	}
	next := current.Clone()
	update.Apply(next)
	r.emails[id] = next
	return next.Clone(), nil
}

func (r *MemoryEmailRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.emails[id]; !ok {
		return ErrNotFound
	}
	delete(r.emails, id)
	return nil
}

// SortForDisplay orders urgent emails first, newest first within a priority.
func SortForDisplay(items []*domain.Email) {
	sort.SliceStable(items, func(i, j int) bool {
		left, right := items[i], items[j]
		if left.Priority != right.Priority {
			return left.Priority == domain.PriorityUrgent
		}
		if !left.SentDate.Equal(right.SentDate) {
			return left.SentDate.After(right.SentDate)
		}
		return left.ID < right.ID
	})
}
