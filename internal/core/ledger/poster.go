package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/fx"
	"github.com/radieske/surebet-ledger/internal/core/store"
	"github.com/radieske/surebet-ledger/internal/shared/lock"
)

// FundingRequest é um aporte ou saque em moeda nativa
type FundingRequest struct {
	ParticipantID string          `json:"participantId"`
	BookmakerID   string          `json:"bookmakerId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Note          string          `json:"note,omitempty"`
}

// CorrectionRequest é um ajuste manual com sinal
type CorrectionRequest struct {
	ParticipantID string          `json:"participantId"`
	BookmakerID   string          `json:"bookmakerId,omitempty"`
	SurebetID     string          `json:"surebetId,omitempty"`
	BetID         string          `json:"betId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Note          string          `json:"note"`
}

// Poster grava movimentações manuais com a taxa do momento
type Poster struct {
	log      *zap.Logger
	store    store.Store
	locker   lock.Locker
	fx       fx.Source
	currency string

	Now   func() time.Time
	NewID func() string

	OnPosted func(t domain.EntryType)
}

func NewPoster(log *zap.Logger, st store.Store, l lock.Locker, src fx.Source, settlementCurrency string) *Poster {
	return &Poster{
		log:      log,
		store:    st,
		locker:   l,
		fx:       src,
		currency: settlementCurrency,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

func (p *Poster) Deposit(ctx context.Context, r FundingRequest) (domain.LedgerEntry, error) {
	if !r.Amount.IsPositive() {
		return domain.LedgerEntry{}, fmt.Errorf("deposit %s: %w", r.Amount, domain.ErrInvalidAmount)
	}
	return p.post(ctx, domain.EntryDeposit, r.ParticipantID, r.BookmakerID, "", "", r.Amount, r.Currency, r.Note)
}

// Withdraw grava o saque com valor positivo; o sinal vem do tipo
func (p *Poster) Withdraw(ctx context.Context, r FundingRequest) (domain.LedgerEntry, error) {
	if !r.Amount.IsPositive() {
		return domain.LedgerEntry{}, fmt.Errorf("withdrawal %s: %w", r.Amount, domain.ErrInvalidAmount)
	}
	return p.post(ctx, domain.EntryWithdrawal, r.ParticipantID, r.BookmakerID, "", "", r.Amount, r.Currency, r.Note)
}

func (p *Poster) Correct(ctx context.Context, r CorrectionRequest) (domain.LedgerEntry, error) {
	if r.Amount.IsZero() {
		return domain.LedgerEntry{}, fmt.Errorf("correction: %w", domain.ErrInvalidAmount)
	}
	if strings.TrimSpace(r.Note) == "" {
		return domain.LedgerEntry{}, fmt.Errorf("correction needs a note: %w", domain.ErrInvalidAmount)
	}
	return p.post(ctx, domain.EntryCorrection, r.ParticipantID, r.BookmakerID, r.SurebetID, r.BetID, r.Amount, r.Currency, r.Note)
}

func (p *Poster) post(ctx context.Context, t domain.EntryType, participant, bookmaker, surebetID, betID string,
	amount decimal.Decimal, currency, note string) (domain.LedgerEntry, error) {
	if strings.TrimSpace(participant) == "" {
		return domain.LedgerEntry{}, fmt.Errorf("%s: participant required: %w", t, domain.ErrInvalidAmount)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = p.currency
	}

	at := p.Now().UTC()
	rate, err := p.fx.RateToSettlement(ctx, currency, at)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("%s for %s: %w", t, participant, err)
	}

	unlock, err := store.Guard(ctx, p.locker, store.ParticipantLock(participant))
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer unlock()

	entry := domain.LedgerEntry{
		Type:              t,
		ParticipantID:     participant,
		BookmakerID:       bookmaker,
		BetID:             betID,
		SurebetID:         surebetID,
		NativeAmount:      amount,
		NativeCurrency:    currency,
		FXRate:            rate,
		Amount:            fx.Convert(amount, rate),
		PrincipalReturned: decimal.Zero,
		EqualSplitShare:   decimal.Zero,
		BatchID:           p.NewID(),
		CreatedAt:         at,
		Note:              note,
	}

	var posted []domain.LedgerEntry
	if err := p.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		posted, err = tx.AppendLedgerEntries(ctx, []domain.LedgerEntry{entry})
		return err
	}); err != nil {
		return domain.LedgerEntry{}, err
	}

	p.log.Info("ledger entry posted",
		zap.Int64("entryId", posted[0].ID),
		zap.String("type", string(t)),
		zap.String("participantId", participant),
		zap.String("amount", posted[0].Amount.StringFixed(2)),
	)
	if p.OnPosted != nil {
		p.OnPosted(t)
	}
	return posted[0], nil
}
