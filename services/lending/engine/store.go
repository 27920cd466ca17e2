package engine

import (
	"context"
	"sort"
	"sync"
)

// Store persists loan state. Save writes every non-nil part of the state
// atomically; Archive stores the archived loan record and removes its account
// and position in one step.
type Store interface {
	Load(ctx context.Context, loanID string) (*LoanState, error)
	Save(ctx context.Context, state *LoanState) error
	Archive(ctx context.Context, loan *Loan) error
	// ListFunded returns the identifiers of loans in the funded state.
	ListFunded(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-process Store used by tests and single-node
// deployments that do not need durability.
type MemoryStore struct {
	mu    sync.RWMutex
	loans map[string]*LoanState
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{loans: make(map[string]*LoanState)}
}

func (m *MemoryStore) Load(ctx context.Context, loanID string) (*LoanState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.loans[loanID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, state *LoanState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil || state.Loan == nil {
		return ErrInternal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.loans[state.Loan.ID]
	next := state.Clone()
	if ok {
		if next.Account == nil {
			next.Account = existing.Account.Clone()
		}
		if next.Position == nil {
			next.Position = existing.Position.Clone()
		}
	}
	m.loans[state.Loan.ID] = next
	return nil
}

func (m *MemoryStore) Archive(ctx context.Context, loan *Loan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if loan == nil {
		return ErrInternal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[loan.ID]; !ok {
		return ErrNotFound
	}
	m.loans[loan.ID] = &LoanState{Loan: loan.Clone()}
	return nil
}

func (m *MemoryStore) ListFunded(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.loans))
	for id, state := range m.loans {
		if state.Loan != nil && state.Loan.Status == LoanFunded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
