package ws

import "github.com/radieske/surebet-ledger/internal/core/domain"

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
type ClientMsg struct {
	Type      string `json:"type"`
	SurebetID string `json:"surebetId"` // requerido em subscribe/unsubscribe
}

// RiskUpdate é o quadro enviado aos clientes inscritos na surebet
type RiskUpdate struct {
	Type      string      `json:"type"` // sempre "risk"
	SurebetID string      `json:"surebetId"`
	Risk      domain.Risk `json:"risk"`
}
