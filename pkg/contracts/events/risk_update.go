package events

import "github.com/radieske/surebet-ledger/internal/core/domain"

// Evento publicado no canal Redis "surebet_risk_broadcast"
type RiskUpdate struct {
	SurebetID string      `json:"surebetId"`
	Risk      domain.Risk `json:"risk"`
}
