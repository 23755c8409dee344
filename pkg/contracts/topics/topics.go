package topics

const (
	// Apostas verificadas (entrada do matching)
	BetVerified = "bet_verified"

	// Liquidações postadas no ledger
	SettlementPosted = "settlement_posted"

	// DLQs
	BetVerifiedDLQ = "bet_verified_dlq"

	// Canal Redis Pub/Sub de risco ao vivo
	RiskBroadcast = "surebet_risk_broadcast"
)
