package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/surebet-ledger/internal/core/domain"
)

// Evento consumido do tópico "bet_verified", emitido pela revisão
type BetVerified struct {
	BetID         string           `json:"betId"`
	ParticipantID string           `json:"participantId"`
	BookmakerID   string           `json:"bookmakerId"`
	EventID       string           `json:"eventId"`
	Market        string           `json:"market"`
	Period        string           `json:"period"`
	Line          *decimal.Decimal `json:"line,omitempty"`
	Outcome       string           `json:"outcome"`
	Stake         decimal.Decimal  `json:"stake"`
	Currency      string           `json:"currency"`
	Odds          decimal.Decimal  `json:"odds"`
	Payout        decimal.Decimal  `json:"payout"`
	MultiLeg      bool             `json:"multiLeg"`
	VerifiedAt    time.Time        `json:"verifiedAt"`
}

// Bet converte o evento no registro de aposta verificada
func (e BetVerified) Bet() domain.Bet {
	return domain.Bet{
		ID:            e.BetID,
		ParticipantID: e.ParticipantID,
		BookmakerID:   e.BookmakerID,
		Key: domain.GroupingKey{
			EventID: e.EventID,
			Market:  e.Market,
			Period:  e.Period,
			Line:    e.Line,
		},
		Outcome:   domain.Outcome(e.Outcome),
		Stake:     e.Stake,
		Currency:  e.Currency,
		Odds:      e.Odds,
		Payout:    e.Payout,
		MultiLeg:  e.MultiLeg,
		Status:    domain.BetVerified,
		CreatedAt: e.VerifiedAt,
	}
}
