package dto

import (
	"github.com/radieske/surebet-ledger/internal/core/domain"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	BetID   string   `json:"betId,omitempty"` // aposta gravada mas pendente
	Missing []string `json:"missing,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
	Unknown []string `json:"unknown,omitempty"`
}

type IngestBetResponse struct {
	BetID     string `json:"betId"`
	SurebetID string `json:"surebetId,omitempty"`
	Matched   bool   `json:"matched"`
}

type RematchItem struct {
	BetID     string `json:"betId"`
	SurebetID string `json:"surebetId,omitempty"`
	Matched   bool   `json:"matched"`
	Error     string `json:"error,omitempty"`
}

type BetResponse struct {
	Bet       domain.Bet `json:"bet"`
	SurebetID string     `json:"surebetId,omitempty"`
}

type SurebetResponse struct {
	Surebet     domain.Surebet          `json:"surebet"`
	Bets        []domain.Bet            `json:"bets"`
	Assignments []domain.SideAssignment `json:"assignments"`
}

type RiskResponse struct {
	SurebetID string      `json:"surebetId"`
	Source    string      `json:"source"` // cache | stored | live
	Risk      domain.Risk `json:"risk"`
}

type SettleResponse struct {
	SurebetID string `json:"surebetId"`
	BatchID   string `json:"batchId"`
}
