package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/risk"
	"github.com/radieske/surebet-ledger/internal/core/sides"
	"github.com/radieske/surebet-ledger/internal/core/store"
	"github.com/radieske/surebet-ledger/internal/shared/lock"
)

// Outcome é o resultado de uma tentativa de matching
type Outcome struct {
	BetID     string `json:"betId"`
	SurebetID string `json:"surebetId,omitempty"`
	Matched   bool   `json:"matched"`
	Err       error  `json:"-"`
}

// Engine agrupa apostas verificadas em surebets
// Callbacks de métricas são opcionais
type Engine struct {
	log    *zap.Logger
	store  store.Store
	locker lock.Locker
	risk   *risk.Calculator

	Publisher risk.Publisher
	Now       func() time.Time
	NewID     func() string

	OnIngested func(result string)
	OnMatched  func(surebetID string, attached int)
	OnRisk     func(c domain.Classification)
}

func NewEngine(log *zap.Logger, st store.Store, l lock.Locker, calc *risk.Calculator) *Engine {
	return &Engine{
		log:    log,
		store:  st,
		locker: l,
		risk:   calc,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// Ingest recebe uma aposta do feed de verificação, grava e tenta casar
// Rótulo desconhecido ou valor inválido é fatal: a aposta não é gravada
// Outcome vazio conta como chave incompleta: grava e fica pendente
// Reenvio de uma aposta ainda verificada substitui a gravada
func (e *Engine) Ingest(ctx context.Context, b domain.Bet) (Outcome, error) {
	if !b.Stake.IsPositive() || !b.Odds.GreaterThan(decimal.NewFromInt(1)) {
		e.ingested("invalid_amount")
		return Outcome{BetID: b.ID}, fmt.Errorf("bet %s: stake %s odds %s: %w", b.ID, b.Stake, b.Odds, domain.ErrInvalidAmount)
	}
	b.Outcome = sides.Normalize(b.Outcome)
	if b.Outcome != "" {
		if _, err := sides.SideOf(b.Outcome); err != nil {
			e.ingested("unknown_outcome")
			return Outcome{BetID: b.ID}, err
		}
	}
	if b.ID == "" {
		b.ID = e.NewID()
	}
	b.Status = domain.BetVerified
	b.Result = ""
	b.MatchedAt, b.SettledAt = nil, nil
	if b.CreatedAt.IsZero() {
		b.CreatedAt = e.Now().UTC()
	}

	var written bool
	if err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		written, err = tx.InsertBet(ctx, b)
		return err
	}); err != nil {
		e.ingested("error")
		return Outcome{BetID: b.ID}, fmt.Errorf("insert bet %s: %w", b.ID, err)
	}
	if !written {
		e.log.Debug("bet already matched, resend ignored", zap.String("betId", b.ID))
	}

	id, matched, err := e.AttemptMatch(ctx, b.ID)
	out := Outcome{BetID: b.ID, SurebetID: id, Matched: matched}
	switch {
	case errors.Is(err, domain.ErrMultiLegExcluded):
		// gravada para auditoria, nunca casa
		e.ingested("multi_leg")
		return out, nil
	case err != nil:
		e.ingested("pending")
		return out, err
	case matched:
		e.ingested("matched")
	default:
		e.ingested("unmatched")
	}
	return out, nil
}

// AttemptMatch tenta casar a aposta com candidatas opostas de mesma chave
// Retorna a surebet e true quando casou; ("", false, nil) quando não há par
func (e *Engine) AttemptMatch(ctx context.Context, betID string) (string, bool, error) {
	var b domain.Bet
	if err := e.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		var err error
		b, err = v.GetBet(ctx, betID)
		return err
	}); err != nil {
		return "", false, err
	}
	if b.Status == domain.BetMatched {
		return e.alreadyMatched(ctx, b.ID)
	}
	if err := checkPreconditions(b); err != nil {
		return "", false, err
	}

	unlock, err := store.Guard(ctx, e.locker, store.BetLock(b.ID), store.GroupLock(b.Key))
	if err != nil {
		return "", false, err
	}
	defer unlock()

	var (
		surebetID string
		already   bool
		attached  int
		riskSnap  *domain.Risk
	)
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.LockBet(ctx, b.ID)
		if err != nil {
			return err
		}
		if cur.Status == domain.BetMatched {
			// outro gatilho casou a aposta entre o snapshot e o lock
			surebetID, already, err = tx.SurebetOfBet(ctx, cur.ID)
			return err
		}
		if err := checkPreconditions(cur); err != nil {
			return err
		}

		opposite, err := sides.OppositeLabels(cur.Outcome)
		if err != nil {
			return err
		}
		cands, err := tx.FindOppositeCandidates(ctx, cur.Key, opposite)
		if err != nil {
			return err
		}

		sb, found, err := tx.FindOpenSurebet(ctx, cur.Key)
		if err != nil {
			return err
		}
		if len(cands) == 0 {
			// sem candidata oposta verificada a aposta continua verificada
			return nil
		}

		now := e.Now().UTC()
		if !found {
			sb = domain.Surebet{ID: e.NewID(), Key: cur.Key, Status: domain.SurebetOpen, CreatedAt: now}
			if err := tx.CreateSurebet(ctx, sb); err != nil {
				return err
			}
		}

		for _, c := range append(cands, cur) {
			if err := e.attach(ctx, tx, sb.ID, c, now); err != nil {
				return err
			}
			attached++
		}

		members, err := tx.ListSurebetBets(ctx, sb.ID)
		if err != nil {
			return err
		}
		asg, err := tx.ListSideAssignments(ctx, sb.ID)
		if err != nil {
			return err
		}
		rk, err := e.risk.Compute(ctx, members, asg)
		if err != nil {
			// risco é consultivo: não bloqueia o matching, fica vazio até o próximo refresh
			e.log.Warn("risk compute failed", zap.String("surebetId", sb.ID), zap.Error(err))
		} else {
			riskSnap = &rk
		}
		if err := tx.UpdateSurebetRisk(ctx, sb.ID, riskSnap); err != nil {
			return err
		}

		surebetID = sb.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSideReassignment) {
			e.log.DPanic("side assignment rewrite attempted", zap.String("betId", b.ID), zap.Error(err))
		}
		return "", false, err
	}
	if surebetID == "" {
		return "", false, nil
	}
	if already {
		return surebetID, true, nil
	}

	e.log.Info("bet matched",
		zap.String("betId", b.ID),
		zap.String("surebetId", surebetID),
		zap.Int("attached", attached),
	)
	if e.OnMatched != nil {
		e.OnMatched(surebetID, attached)
	}
	if riskSnap != nil {
		e.publish(ctx, surebetID, *riskSnap)
	}
	return surebetID, true, nil
}

// RematchPending tenta casar de novo toda aposta ainda verificada
// Falha de uma aposta é reportada e não impede as demais
func (e *Engine) RematchPending(ctx context.Context) ([]Outcome, error) {
	var pending []domain.Bet
	if err := e.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		var err error
		pending, err = v.ListBetsByStatus(ctx, domain.BetVerified)
		return err
	}); err != nil {
		return nil, err
	}

	out := make([]Outcome, 0, len(pending))
	for _, b := range pending {
		if b.MultiLeg {
			continue
		}
		id, matched, err := e.AttemptMatch(ctx, b.ID)
		if err != nil {
			e.log.Warn("rematch failed", zap.String("betId", b.ID), zap.Error(err))
		}
		out = append(out, Outcome{BetID: b.ID, SurebetID: id, Matched: matched, Err: err})
	}
	return out, nil
}

// RefreshRisk recalcula o risco ao vivo de uma surebet aberta e regrava o cache
func (e *Engine) RefreshRisk(ctx context.Context, surebetID string) (domain.Risk, error) {
	var sb domain.Surebet
	if err := e.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		var err error
		sb, err = v.GetSurebet(ctx, surebetID)
		return err
	}); err != nil {
		return domain.Risk{}, err
	}
	if sb.Status != domain.SurebetOpen {
		return domain.Risk{}, fmt.Errorf("surebet %s: %w", surebetID, domain.ErrSurebetNotOpen)
	}

	unlock, err := store.Guard(ctx, e.locker, store.GroupLock(sb.Key))
	if err != nil {
		return domain.Risk{}, err
	}
	defer unlock()

	var rk domain.Risk
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.LockSurebet(ctx, surebetID)
		if err != nil {
			return err
		}
		if cur.Status != domain.SurebetOpen {
			return fmt.Errorf("surebet %s: %w", surebetID, domain.ErrSurebetNotOpen)
		}
		members, err := tx.ListSurebetBets(ctx, surebetID)
		if err != nil {
			return err
		}
		asg, err := tx.ListSideAssignments(ctx, surebetID)
		if err != nil {
			return err
		}
		if rk, err = e.risk.Compute(ctx, members, asg); err != nil {
			return err
		}
		return tx.UpdateSurebetRisk(ctx, surebetID, &rk)
	})
	if err != nil {
		return domain.Risk{}, err
	}
	e.publish(ctx, surebetID, rk)
	return rk, nil
}

// attach grava o lado da aposta (write-once) e marca como matched
func (e *Engine) attach(ctx context.Context, tx store.Tx, surebetID string, b domain.Bet, at time.Time) error {
	side, err := sides.SideOf(b.Outcome)
	if err != nil {
		return err
	}
	if err := tx.AddSideAssignment(ctx, domain.SideAssignment{
		SurebetID:      surebetID,
		BetID:          b.ID,
		Side:           side,
		MappingVersion: sides.MappingVersion,
		AssignedAt:     at,
	}); err != nil {
		return err
	}
	return tx.TransitionBet(ctx, b.ID, domain.BetVerified, domain.BetMatched, "", at)
}

func (e *Engine) alreadyMatched(ctx context.Context, betID string) (string, bool, error) {
	var (
		id string
		ok bool
	)
	err := e.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		var err error
		id, ok, err = v.SurebetOfBet(ctx, betID)
		return err
	})
	return id, ok && err == nil, err
}

func (e *Engine) publish(ctx context.Context, surebetID string, r domain.Risk) {
	if e.OnRisk != nil {
		e.OnRisk(r.Classification)
	}
	if e.Publisher == nil {
		return
	}
	if err := e.Publisher.PublishRisk(ctx, surebetID, r); err != nil {
		e.log.Warn("risk publish failed", zap.String("surebetId", surebetID), zap.Error(err))
	}
}

func (e *Engine) ingested(result string) {
	if e.OnIngested != nil {
		e.OnIngested(result)
	}
}

func checkPreconditions(b domain.Bet) error {
	switch {
	case b.MultiLeg:
		return fmt.Errorf("bet %s: %w", b.ID, domain.ErrMultiLegExcluded)
	case b.Status != domain.BetVerified:
		return fmt.Errorf("bet %s is %s: %w", b.ID, b.Status, domain.ErrNotVerified)
	case !b.Key.Complete():
		return fmt.Errorf("bet %s: %w", b.ID, domain.ErrIncompleteGroupingKey)
	case b.Outcome == "":
		return fmt.Errorf("bet %s: outcome: %w", b.ID, domain.ErrIncompleteGroupingKey)
	}
	if _, err := sides.SideOf(b.Outcome); err != nil {
		return fmt.Errorf("bet %s: %w", b.ID, err)
	}
	return nil
}
