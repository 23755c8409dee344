// Package settlement liquida surebets graduadas num lote atômico do ledger.
//
// A taxa de câmbio é capturada no momento da liquidação e congelada em cada
// linha. O lucro da surebet é dividido igualmente entre os assentos: cada
// participante que apostou, mais o coordenador quando ele não apostou
// naquela surebet.
package settlement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/fx"
	"github.com/radieske/surebet-ledger/internal/core/store"
	"github.com/radieske/surebet-ledger/internal/shared/lock"
	"github.com/radieske/surebet-ledger/pkg/contracts/events"
)

// Publisher recebe o lote postado depois do commit
type Publisher interface {
	PublishSettlementPosted(ctx context.Context, e events.SettlementPosted) error
}

// Plan é o lote calculado, antes de qualquer escrita
type Plan struct {
	SurebetID       string                     `json:"surebetId"`
	BatchID         string                     `json:"batchId"`
	Currency        string                     `json:"currency"`
	Profit          decimal.Decimal            `json:"profit"`
	Share           decimal.Decimal            `json:"share"`
	Seats           int                        `json:"seats"`
	CoordinatorSeat bool                       `json:"coordinatorSeat"`
	Principal       map[string]decimal.Decimal `json:"principal"` // por participante
	Entries         []domain.LedgerEntry       `json:"entries"`
	Bets            []string                   `json:"bets"`
	At              time.Time                  `json:"at"`
}

type Engine struct {
	log         *zap.Logger
	store       store.Store
	locker      lock.Locker
	fx          fx.Source
	currency    string
	coordinator string

	Publisher Publisher
	Now       func() time.Time
	NewID     func() string

	OnSettled func(p Plan)
	OnError   func(stage string)
}

func NewEngine(log *zap.Logger, st store.Store, l lock.Locker, src fx.Source, settlementCurrency, coordinatorID string) *Engine {
	return &Engine{
		log:         log,
		store:       st,
		locker:      l,
		fx:          src,
		currency:    settlementCurrency,
		coordinator: coordinatorID,
		Now:         time.Now,
		NewID:       uuid.NewString,
	}
}

// Preview calcula o lote sem gravar nada
func (e *Engine) Preview(ctx context.Context, surebetID string, outcomes map[string]domain.Result) (Plan, error) {
	var plan Plan
	err := e.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		sb, err := v.GetSurebet(ctx, surebetID)
		if err != nil {
			return err
		}
		bets, err := v.ListSurebetBets(ctx, surebetID)
		if err != nil {
			return err
		}
		plan, err = e.plan(ctx, sb, bets, outcomes, e.Now().UTC())
		return err
	})
	return plan, err
}

// Settle liquida a surebet com a graduação de todas as apostas
// Tudo ou nada: falha em qualquer etapa não altera status nem ledger
func (e *Engine) Settle(ctx context.Context, surebetID string, outcomes map[string]domain.Result) (string, error) {
	unlock, err := store.Guard(ctx, e.locker, store.SurebetLock(surebetID))
	if err != nil {
		e.failed("lock")
		return "", err
	}
	defer unlock()

	// 1) Calcula o lote fora da transação de escrita (inclui a consulta de câmbio)
	plan, err := e.Preview(ctx, surebetID, outcomes)
	if err != nil {
		e.failed("plan")
		return "", err
	}

	// 2) Grava lote, transições e status numa única transação
	var posted []domain.LedgerEntry
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sb, err := tx.LockSurebet(ctx, surebetID)
		if err != nil {
			return err
		}
		if sb.Status != domain.SurebetOpen {
			return fmt.Errorf("surebet %s: %w", surebetID, domain.ErrSurebetNotOpen)
		}
		members, err := tx.ListSurebetBets(ctx, surebetID)
		if err != nil {
			return err
		}
		if !sameMembers(members, plan.Bets) {
			return fmt.Errorf("surebet %s membership changed: %w", surebetID, domain.ErrConcurrentMutation)
		}

		if posted, err = tx.AppendLedgerEntries(ctx, plan.Entries); err != nil {
			return err
		}
		for _, id := range plan.Bets {
			if err := tx.TransitionBet(ctx, id, domain.BetMatched, domain.BetSettled, outcomes[id], plan.At); err != nil {
				return err
			}
		}
		return tx.MarkSurebetSettled(ctx, surebetID, plan.BatchID, plan.At)
	})
	if err != nil {
		e.failed("write")
		return "", err
	}
	plan.Entries = posted

	e.log.Info("surebet settled",
		zap.String("surebetId", surebetID),
		zap.String("batchId", plan.BatchID),
		zap.String("profit", plan.Profit.StringFixed(2)),
		zap.String("share", plan.Share.StringFixed(2)),
		zap.Int("seats", plan.Seats),
		zap.Int("entries", len(posted)),
	)
	if e.OnSettled != nil {
		e.OnSettled(plan)
	}
	e.publish(ctx, plan)
	return plan.BatchID, nil
}

func (e *Engine) plan(ctx context.Context, sb domain.Surebet, bets []domain.Bet, outcomes map[string]domain.Result, at time.Time) (Plan, error) {
	if sb.Status != domain.SurebetOpen {
		return Plan{}, fmt.Errorf("surebet %s: %w", sb.ID, domain.ErrSurebetNotOpen)
	}
	if err := checkGrading(sb.ID, bets, outcomes); err != nil {
		return Plan{}, err
	}
	for _, b := range bets {
		if b.Status != domain.BetMatched {
			return Plan{}, fmt.Errorf("bet %s is %s: %w", b.ID, b.Status, domain.ErrInvalidTransition)
		}
	}

	sort.Slice(bets, func(i, j int) bool { return bets[i].ID < bets[j].ID })

	p := Plan{
		SurebetID: sb.ID,
		BatchID:   e.NewID(),
		Currency:  e.currency,
		Profit:    decimal.Zero,
		Principal: map[string]decimal.Decimal{},
		At:        at,
	}

	// congela uma taxa por moeda para o lote inteiro
	rates := map[string]decimal.Decimal{}
	type leg struct {
		bet       domain.Bet
		rate      decimal.Decimal
		net       decimal.Decimal
		nativeNet decimal.Decimal
		principal decimal.Decimal
	}
	legs := make([]leg, 0, len(bets))
	for _, b := range bets {
		rate, ok := rates[b.Currency]
		if !ok {
			r, err := e.fx.RateToSettlement(ctx, b.Currency, at)
			if err != nil {
				return Plan{}, fmt.Errorf("settle surebet %s bet %s: %w", sb.ID, b.ID, err)
			}
			rate = r
			rates[b.Currency] = r
		}

		stake := fx.Convert(b.Stake, rate)
		l := leg{bet: b, rate: rate, net: decimal.Zero, nativeNet: decimal.Zero, principal: decimal.Zero}
		switch outcomes[b.ID] {
		case domain.ResultWon:
			l.net = fx.Convert(b.ContractedPayout(), rate).Sub(stake)
			l.nativeNet = b.ContractedPayout().Sub(b.Stake)
			l.principal = stake
		case domain.ResultLost:
			l.net = stake.Neg()
			l.nativeNet = b.Stake.Neg()
		case domain.ResultVoid:
			l.principal = stake
		}
		p.Profit = p.Profit.Add(l.net)
		p.Principal[b.ParticipantID] = p.Principal[b.ParticipantID].Add(l.principal)
		legs = append(legs, l)
		p.Bets = append(p.Bets, b.ID)
	}

	p.Seats = len(p.Principal)
	if e.coordinator != "" {
		if _, staked := p.Principal[e.coordinator]; !staked {
			p.Seats++
			p.CoordinatorSeat = true
		}
	}
	p.Share = p.Profit.Div(decimal.NewFromInt(int64(p.Seats))).Round(2)

	seated := map[string]bool{}
	for _, l := range legs {
		p.Entries = append(p.Entries, domain.LedgerEntry{
			Type:              domain.EntryBetResult,
			ParticipantID:     l.bet.ParticipantID,
			BookmakerID:       l.bet.BookmakerID,
			BetID:             l.bet.ID,
			SurebetID:         sb.ID,
			NativeAmount:      l.nativeNet,
			NativeCurrency:    l.bet.Currency,
			FXRate:            l.rate,
			Amount:            l.net,
			PrincipalReturned: l.principal,
			EqualSplitShare:   p.Share,
			SeatHolder:        !seated[l.bet.ParticipantID],
			BatchID:           p.BatchID,
			CreatedAt:         at,
			Note:              fmt.Sprintf("%s %s", l.bet.Outcome, outcomes[l.bet.ID]),
		})
		seated[l.bet.ParticipantID] = true
	}
	if p.CoordinatorSeat {
		p.Entries = append(p.Entries, domain.LedgerEntry{
			Type:              domain.EntryBetResult,
			ParticipantID:     e.coordinator,
			SurebetID:         sb.ID,
			NativeAmount:      decimal.Zero,
			NativeCurrency:    e.currency,
			FXRate:            decimal.NewFromInt(1),
			Amount:            decimal.Zero,
			PrincipalReturned: decimal.Zero,
			EqualSplitShare:   p.Share,
			SeatHolder:        true,
			BatchID:           p.BatchID,
			CreatedAt:         at,
			Note:              "coordinator seat",
		})
	}
	return p, nil
}

func (e *Engine) publish(ctx context.Context, p Plan) {
	if e.Publisher == nil {
		return
	}
	ids := make([]int64, len(p.Entries))
	for i, en := range p.Entries {
		ids[i] = en.ID
	}
	if err := e.Publisher.PublishSettlementPosted(ctx, events.SettlementPosted{
		SurebetID: p.SurebetID,
		BatchID:   p.BatchID,
		Currency:  p.Currency,
		Profit:    p.Profit,
		Share:     p.Share,
		Seats:     p.Seats,
		EntryIDs:  ids,
		SettledAt: p.At,
	}); err != nil {
		// ledger já é a fonte da verdade; evento é best effort
		e.log.Warn("settlement event publish failed", zap.String("batchId", p.BatchID), zap.Error(err))
		e.failed("publish")
	}
}

func (e *Engine) failed(stage string) {
	if e.OnError != nil {
		e.OnError(stage)
	}
}

func checkGrading(surebetID string, bets []domain.Bet, outcomes map[string]domain.Result) error {
	pge := &domain.PartialGradingError{SurebetID: surebetID}
	member := make(map[string]bool, len(bets))
	for _, b := range bets {
		member[b.ID] = true
		r, ok := outcomes[b.ID]
		switch {
		case !ok:
			pge.Missing = append(pge.Missing, b.ID)
		case !r.Valid():
			pge.Invalid = append(pge.Invalid, b.ID)
		}
	}
	for id := range outcomes {
		if !member[id] {
			pge.Unknown = append(pge.Unknown, id)
		}
	}
	if len(pge.Missing)+len(pge.Invalid)+len(pge.Unknown) > 0 {
		sort.Strings(pge.Missing)
		sort.Strings(pge.Invalid)
		sort.Strings(pge.Unknown)
		return pge
	}
	return nil
}

func sameMembers(bets []domain.Bet, ids []string) bool {
	if len(bets) != len(ids) {
		return false
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, b := range bets {
		if !want[b.ID] {
			return false
		}
	}
	return true
}
