package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/store"
)

type Status string

const (
	Balanced Status = "BALANCED"
	Collect  Status = "COLLECT" // modelado acima do direito: cobrar do participante
	Owed     Status = "OWED"
)

// Tolerance absorve o arredondamento por linha
var Tolerance = decimal.RequireFromString("0.01")

// Position é a posição de um participante derivada só do ledger
type Position struct {
	ParticipantID   string          `json:"participantId"`
	Cutoff          *time.Time      `json:"cutoff,omitempty"`
	NetFunding      decimal.Decimal `json:"netFunding"`
	Entitlement     decimal.Decimal `json:"entitlement"`
	RawProfit       decimal.Decimal `json:"rawProfit"`
	ModeledHoldings decimal.Decimal `json:"modeledHoldings"`
	Imbalance       decimal.Decimal `json:"imbalance"`
	Status          Status          `json:"status"`
	Entries         int             `json:"entries"`
}

// Compute reproduz as linhas de um participante
// Linhas de outros participantes ou posteriores ao cutoff são ignoradas
func Compute(participantID string, entries []domain.LedgerEntry, cutoff *time.Time) Position {
	p := Position{
		ParticipantID:   participantID,
		Cutoff:          cutoff,
		NetFunding:      decimal.Zero,
		Entitlement:     decimal.Zero,
		ModeledHoldings: decimal.Zero,
	}
	for _, e := range entries {
		if e.ParticipantID != participantID {
			continue
		}
		if cutoff != nil && e.CreatedAt.After(*cutoff) {
			continue
		}
		p.Entries++
		switch e.Type {
		case domain.EntryDeposit:
			p.NetFunding = p.NetFunding.Add(e.Amount)
			p.ModeledHoldings = p.ModeledHoldings.Add(e.Amount)
		case domain.EntryWithdrawal:
			p.NetFunding = p.NetFunding.Sub(e.Amount)
			p.ModeledHoldings = p.ModeledHoldings.Sub(e.Amount)
		case domain.EntryBetResult:
			v := e.PrincipalReturned.Add(e.BookedShare())
			p.Entitlement = p.Entitlement.Add(v)
			p.ModeledHoldings = p.ModeledHoldings.Add(v)
		case domain.EntryCorrection:
			p.ModeledHoldings = p.ModeledHoldings.Add(e.Amount)
		}
	}
	p.RawProfit = p.Entitlement.Sub(p.NetFunding)
	p.Imbalance = p.ModeledHoldings.Sub(p.Entitlement)
	p.Status = statusOf(p.Imbalance)
	return p
}

func statusOf(imbalance decimal.Decimal) Status {
	switch {
	case imbalance.Abs().LessThanOrEqual(Tolerance):
		return Balanced
	case imbalance.IsPositive():
		return Collect
	default:
		return Owed
	}
}

// Reconciler calcula posições a partir de um snapshot único do ledger
type Reconciler struct {
	store store.Store
}

func NewReconciler(st store.Store) *Reconciler { return &Reconciler{store: st} }

func (r *Reconciler) Reconcile(ctx context.Context, participantID string, cutoff *time.Time) (Position, error) {
	var entries []domain.LedgerEntry
	err := r.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		var err error
		entries, err = v.LedgerEntries(ctx, store.LedgerFilter{ParticipantID: participantID, Cutoff: cutoff})
		return err
	})
	if err != nil {
		return Position{}, err
	}
	return Compute(participantID, entries, cutoff), nil
}

// ReconcileAll devolve todos os participantes com linhas até o cutoff, ordenados por id
func (r *Reconciler) ReconcileAll(ctx context.Context, cutoff *time.Time) ([]Position, error) {
	var entries []domain.LedgerEntry
	err := r.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		var err error
		entries, err = v.LedgerEntries(ctx, store.LedgerFilter{Cutoff: cutoff})
		return err
	})
	if err != nil {
		return nil, err
	}

	byParticipant := map[string][]domain.LedgerEntry{}
	for _, e := range entries {
		byParticipant[e.ParticipantID] = append(byParticipant[e.ParticipantID], e)
	}
	ids := make([]string, 0, len(byParticipant))
	for id := range byParticipant {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, Compute(id, byParticipant[id], cutoff))
	}
	return out, nil
}
