package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side é o balde canônico de uma aposta dentro da surebet
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Outcome é o rótulo lógico do resultado apostado (ex.: OVER, UNDER)
type Outcome string

type BetStatus string

const (
	BetVerified BetStatus = "verified"
	BetMatched  BetStatus = "matched"
	BetSettled  BetStatus = "settled"
)

// Result é a graduação manual de uma aposta, fornecida pelo operador
type Result string

const (
	ResultWon  Result = "won"
	ResultLost Result = "lost"
	ResultVoid Result = "void"
)

func (r Result) Valid() bool {
	switch r {
	case ResultWon, ResultLost, ResultVoid:
		return true
	}
	return false
}

type SurebetStatus string

const (
	SurebetOpen    SurebetStatus = "open"
	SurebetSettled SurebetStatus = "settled"
)

type Classification string

const (
	Unsafe    Classification = "UNSAFE"
	LowReturn Classification = "LOW_RETURN"
	Safe      Classification = "SAFE"
)

type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
	EntryBetResult  EntryType = "bet_result"
	EntryCorrection EntryType = "correction"
)

// GroupingKey identifica evento/mercado/período/linha de uma aposta
// Line nil é parte da chave: sem linha nunca casa com linha numérica
type GroupingKey struct {
	EventID string           `json:"eventId"`
	Market  string           `json:"market"`
	Period  string           `json:"period"`
	Line    *decimal.Decimal `json:"line,omitempty"`
}

// Complete indica se os campos obrigatórios da chave estão preenchidos
func (k GroupingKey) Complete() bool {
	return strings.TrimSpace(k.EventID) != "" &&
		strings.TrimSpace(k.Market) != "" &&
		strings.TrimSpace(k.Period) != ""
}

// String retorna a forma canônica da chave, usada em índices e locks
func (k GroupingKey) String() string {
	line := "-"
	if k.Line != nil {
		line = k.Line.String()
	}
	return strings.Join([]string{k.EventID, k.Market, k.Period, line}, "|")
}

func (k GroupingKey) Equal(o GroupingKey) bool { return k.String() == o.String() }

// Bet é uma aposta verificada pela revisão
type Bet struct {
	ID            string          `json:"id"`
	ParticipantID string          `json:"participantId"`
	BookmakerID   string          `json:"bookmakerId"`
	Key           GroupingKey     `json:"key"`
	Outcome       Outcome         `json:"outcome"`
	Stake         decimal.Decimal `json:"stake"`
	Currency      string          `json:"currency"`
	Odds          decimal.Decimal `json:"odds"`
	Payout        decimal.Decimal `json:"payout"`
	MultiLeg      bool            `json:"multiLeg"`
	Status        BetStatus       `json:"status"`
	Result        Result          `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	MatchedAt     *time.Time      `json:"matchedAt,omitempty"`
	SettledAt     *time.Time      `json:"settledAt,omitempty"`
}

// ContractedPayout retorna o payout informado ou stake x odds quando ausente
func (b Bet) ContractedPayout() decimal.Decimal {
	if b.Payout.IsPositive() {
		return b.Payout
	}
	return b.Stake.Mul(b.Odds)
}

// Risk é o snapshot de risco ao vivo de uma surebet aberta
type Risk struct {
	WorstCaseProfit decimal.Decimal          `json:"worstCaseProfit"`
	TotalStaked     decimal.Decimal          `json:"totalStaked"`
	ROI             decimal.Decimal          `json:"roi"`
	Classification  Classification           `json:"classification"`
	Scenarios       map[Side]decimal.Decimal `json:"scenarios"`
	Currency        string                   `json:"currency"`
	ComputedAt      time.Time                `json:"computedAt"`
}

type Surebet struct {
	ID        string        `json:"id"`
	Key       GroupingKey   `json:"key"`
	Status    SurebetStatus `json:"status"`
	Risk      *Risk         `json:"risk,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	SettledAt *time.Time    `json:"settledAt,omitempty"`
	BatchID   string        `json:"batchId,omitempty"`
}

// SideAssignment é o fato imutável (surebet, aposta, lado)
type SideAssignment struct {
	SurebetID      string    `json:"surebetId"`
	BetID          string    `json:"betId"`
	Side           Side      `json:"side"`
	MappingVersion int       `json:"mappingVersion"`
	AssignedAt     time.Time `json:"assignedAt"`
}

// LedgerEntry é uma linha append-only do ledger
// FXRate é congelada na criação e nunca revisada
type LedgerEntry struct {
	ID                int64           `json:"id"`
	Type              EntryType       `json:"type"`
	ParticipantID     string          `json:"participantId"`
	BookmakerID       string          `json:"bookmakerId,omitempty"`
	BetID             string          `json:"betId,omitempty"`
	SurebetID         string          `json:"surebetId,omitempty"`
	NativeAmount      decimal.Decimal `json:"nativeAmount"`
	NativeCurrency    string          `json:"nativeCurrency"`
	FXRate            decimal.Decimal `json:"fxRate"`
	Amount            decimal.Decimal `json:"amount"`
	PrincipalReturned decimal.Decimal `json:"principalReturned"`
	EqualSplitShare   decimal.Decimal `json:"equalSplitShare"`
	SeatHolder        bool            `json:"seatHolder"` // linha que carrega o assento do participante no lote
	BatchID           string          `json:"batchId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	Note              string          `json:"note,omitempty"`
}

// BookedShare retorna a cota efetivamente contabilizada por esta linha
func (e LedgerEntry) BookedShare() decimal.Decimal {
	if e.Type != EntryBetResult || !e.SeatHolder {
		return decimal.Zero
	}
	return e.EqualSplitShare
}
