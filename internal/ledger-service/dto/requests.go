package dto

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/surebet-ledger/internal/core/domain"
)

// IngestBetRequest é o corpo de POST /bets, mesmo formato do feed verificado
type IngestBetRequest struct {
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
}

func (r IngestBetRequest) Valid() bool {
	return r.ParticipantID != "" && r.Currency != "" && r.Stake.IsPositive() && r.Odds.GreaterThan(decimal.NewFromInt(1))
}

func (r IngestBetRequest) Bet() domain.Bet {
	return domain.Bet{
		ID:            r.BetID,
		ParticipantID: r.ParticipantID,
		BookmakerID:   r.BookmakerID,
		Key:           domain.GroupingKey{EventID: r.EventID, Market: r.Market, Period: r.Period, Line: r.Line},
		Outcome:       domain.Outcome(r.Outcome),
		Stake:         r.Stake,
		Currency:      r.Currency,
		Odds:          r.Odds,
		Payout:        r.Payout,
		MultiLeg:      r.MultiLeg,
	}
}

// SettleRequest é a graduação manual: {"outcomes": {"betId": "won"}}
type SettleRequest struct {
	Outcomes map[string]domain.Result `json:"outcomes"`
}
