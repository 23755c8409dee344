// Package memory implementa store.Store em memória.
//
// Cada transação trabalha sobre uma cópia do estado confirmado e troca o
// ponteiro no commit. O estado confirmado nunca é alterado no lugar, então
// um snapshot é só o ponteiro lido sob RLock.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/sides"
	"github.com/radieske/surebet-ledger/internal/core/store"
)

type state struct {
	bets        map[string]domain.Bet
	surebets    map[string]domain.Surebet
	members     map[string][]string // surebet -> bets, em ordem de entrada
	betSurebet  map[string]string
	assignments map[string]domain.SideAssignment // "surebet|bet"
	ledger      []domain.LedgerEntry
	nextID      int64
}

func newState() *state {
	return &state{
		bets:        make(map[string]domain.Bet),
		surebets:    make(map[string]domain.Surebet),
		members:     make(map[string][]string),
		betSurebet:  make(map[string]string),
		assignments: make(map[string]domain.SideAssignment),
	}
}

func (s *state) clone() *state {
	c := &state{
		bets:        make(map[string]domain.Bet, len(s.bets)),
		surebets:    make(map[string]domain.Surebet, len(s.surebets)),
		members:     make(map[string][]string, len(s.members)),
		betSurebet:  make(map[string]string, len(s.betSurebet)),
		assignments: make(map[string]domain.SideAssignment, len(s.assignments)),
		// capacidade travada: append na cópia nunca escreve no array confirmado
		ledger: s.ledger[:len(s.ledger):len(s.ledger)],
		nextID: s.nextID,
	}
	for k, v := range s.bets {
		c.bets[k] = v
	}
	for k, v := range s.surebets {
		c.surebets[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v[:len(v):len(v)]
	}
	for k, v := range s.betSurebet {
		c.betSurebet[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	return c
}

type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store { return &Store{st: newState()} }

// WithinTx serializa as escritas e só publica o estado se fn não falhar
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &memTx{view: view{st: work}}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, v store.View) error) error {
	s.mu.RLock()
	st := s.st
	s.mu.RUnlock()
	return fn(ctx, view{st: st})
}

type view struct{ st *state }

func (v view) GetBet(_ context.Context, id string) (domain.Bet, error) {
	b, ok := v.st.bets[id]
	if !ok {
		return domain.Bet{}, fmt.Errorf("bet %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (v view) ListBetsByStatus(_ context.Context, status domain.BetStatus) ([]domain.Bet, error) {
	var out []domain.Bet
	for _, b := range v.st.bets {
		if b.Status == status {
			out = append(out, b)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (v view) GetSurebet(_ context.Context, id string) (domain.Surebet, error) {
	s, ok := v.st.surebets[id]
	if !ok {
		return domain.Surebet{}, fmt.Errorf("surebet %s: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (v view) SurebetOfBet(_ context.Context, betID string) (string, bool, error) {
	id, ok := v.st.betSurebet[betID]
	return id, ok, nil
}

func (v view) ListSurebetBets(_ context.Context, surebetID string) ([]domain.Bet, error) {
	ids := v.st.members[surebetID]
	out := make([]domain.Bet, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.st.bets[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) ListSideAssignments(_ context.Context, surebetID string) ([]domain.SideAssignment, error) {
	ids := v.st.members[surebetID]
	out := make([]domain.SideAssignment, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.st.assignments[surebetID+"|"+id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BetID < out[j].BetID })
	return out, nil
}

func (v view) LedgerEntries(_ context.Context, f store.LedgerFilter) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range v.st.ledger {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v view) LedgerEntry(_ context.Context, id int64) (domain.LedgerEntry, error) {
	// ids são densos a partir de 1
	if id < 1 || id > int64(len(v.st.ledger)) {
		return domain.LedgerEntry{}, fmt.Errorf("ledger entry %d: %w", id, domain.ErrNotFound)
	}
	return v.st.ledger[id-1], nil
}

type memTx struct{ view }

func (t *memTx) LockBet(ctx context.Context, id string) (domain.Bet, error) { return t.GetBet(ctx, id) }

func (t *memTx) LockSurebet(ctx context.Context, id string) (domain.Surebet, error) {
	return t.GetSurebet(ctx, id)
}

func (t *memTx) InsertBet(_ context.Context, b domain.Bet) (bool, error) {
	if prev, ok := t.st.bets[b.ID]; ok {
		if prev.Status != domain.BetVerified {
			return false, nil
		}
		// ainda sem surebet: o reenvio corrige a aposta e mantém a data original
		b.Status, b.CreatedAt = prev.Status, prev.CreatedAt
	}
	t.st.bets[b.ID] = b
	return true, nil
}

func (t *memTx) FindOppositeCandidates(_ context.Context, key domain.GroupingKey, labels []domain.Outcome) ([]domain.Bet, error) {
	want := make(map[domain.Outcome]struct{}, len(labels))
	for _, l := range labels {
		want[sides.Normalize(l)] = struct{}{}
	}
	k := key.String()

	var out []domain.Bet
	for _, b := range t.st.bets {
		if b.Status != domain.BetVerified || b.MultiLeg || b.Key.String() != k {
			continue
		}
		if _, ok := want[sides.Normalize(b.Outcome)]; ok {
			out = append(out, b)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (t *memTx) TransitionBet(_ context.Context, id string, from, to domain.BetStatus, result domain.Result, at time.Time) error {
	b, ok := t.st.bets[id]
	if !ok {
		return fmt.Errorf("bet %s: %w", id, domain.ErrNotFound)
	}
	if b.Status != from {
		return fmt.Errorf("bet %s %s->%s (is %s): %w", id, from, to, b.Status, domain.ErrInvalidTransition)
	}
	b.Status = to
	switch to {
	case domain.BetMatched:
		b.MatchedAt = &at
	case domain.BetSettled:
		b.Result = result
		b.SettledAt = &at
	}
	t.st.bets[id] = b
	return nil
}

func (t *memTx) FindOpenSurebet(_ context.Context, key domain.GroupingKey) (domain.Surebet, bool, error) {
	k := key.String()
	for _, s := range t.st.surebets {
		if s.Status == domain.SurebetOpen && s.Key.String() == k {
			return s, true, nil
		}
	}
	return domain.Surebet{}, false, nil
}

func (t *memTx) CreateSurebet(ctx context.Context, s domain.Surebet) error {
	if _, ok := t.st.surebets[s.ID]; ok {
		return fmt.Errorf("surebet %s already exists", s.ID)
	}
	if _, open, _ := t.FindOpenSurebet(ctx, s.Key); open {
		return fmt.Errorf("open surebet for %s: %w", s.Key, domain.ErrConcurrentMutation)
	}
	t.st.surebets[s.ID] = s
	return nil
}

func (t *memTx) UpdateSurebetRisk(_ context.Context, id string, r *domain.Risk) error {
	s, ok := t.st.surebets[id]
	if !ok {
		return fmt.Errorf("surebet %s: %w", id, domain.ErrNotFound)
	}
	s.Risk = r
	t.st.surebets[id] = s
	return nil
}

func (t *memTx) MarkSurebetSettled(_ context.Context, id, batchID string, at time.Time) error {
	s, ok := t.st.surebets[id]
	if !ok {
		return fmt.Errorf("surebet %s: %w", id, domain.ErrNotFound)
	}
	if s.Status != domain.SurebetOpen {
		return fmt.Errorf("surebet %s is %s: %w", id, s.Status, domain.ErrInvalidTransition)
	}
	s.Status = domain.SurebetSettled
	s.BatchID = batchID
	s.SettledAt = &at
	t.st.surebets[id] = s
	return nil
}

func (t *memTx) AddSideAssignment(_ context.Context, a domain.SideAssignment) error {
	k := a.SurebetID + "|" + a.BetID
	if _, ok := t.st.assignments[k]; ok {
		return fmt.Errorf("surebet %s bet %s: %w", a.SurebetID, a.BetID, domain.ErrSideReassignment)
	}
	if other, ok := t.st.betSurebet[a.BetID]; ok {
		return fmt.Errorf("bet %s already in surebet %s: %w", a.BetID, other, domain.ErrSideReassignment)
	}
	if _, ok := t.st.surebets[a.SurebetID]; !ok {
		return fmt.Errorf("surebet %s: %w", a.SurebetID, domain.ErrNotFound)
	}
	t.st.assignments[k] = a
	t.st.members[a.SurebetID] = append(t.st.members[a.SurebetID], a.BetID)
	t.st.betSurebet[a.BetID] = a.SurebetID
	return nil
}

func (t *memTx) AppendLedgerEntries(_ context.Context, entries []domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	out := make([]domain.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		t.st.nextID++
		e.ID = t.st.nextID
		t.st.ledger = append(t.st.ledger, e)
		out = append(out, e)
	}
	return out, nil
}

func sortByCreation(bets []domain.Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if !bets[i].CreatedAt.Equal(bets[j].CreatedAt) {
			return bets[i].CreatedAt.Before(bets[j].CreatedAt)
		}
		return bets[i].ID < bets[j].ID
	})
}
