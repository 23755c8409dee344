package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Evento publicado no tópico "settlement_posted" após o commit do lote
type SettlementPosted struct {
	SurebetID string          `json:"surebetId"`
	BatchID   string          `json:"batchId"`
	Currency  string          `json:"currency"`
	Profit    decimal.Decimal `json:"profit"`
	Share     decimal.Decimal `json:"share"`
	Seats     int             `json:"seats"`
	EntryIDs  []int64         `json:"entryIds"`
	SettledAt time.Time       `json:"settledAt"`
	TsUnixMs  int64           `json:"tsUnixMs"`
}
