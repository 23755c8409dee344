// Package store define a fronteira transacional do núcleo contábil.
//
// Escritas acontecem dentro de WithinTx: ou tudo é aplicado, ou nada.
// Leituras para relatório usam ReadSnapshot, uma visão consistente de um
// único instante.
package store

import (
	"context"
	"time"

	"github.com/radieske/surebet-ledger/internal/core/domain"
)

// LedgerFilter restringe a leitura do ledger
// Cutoff inclui entradas criadas em ou antes do instante
type LedgerFilter struct {
	ParticipantID string
	SurebetID     string
	BatchID       string
	Types         []domain.EntryType
	Cutoff        *time.Time
}

// Match verifica se a entrada passa pelo filtro
func (f LedgerFilter) Match(e domain.LedgerEntry) bool {
	if f.ParticipantID != "" && e.ParticipantID != f.ParticipantID {
		return false
	}
	if f.SurebetID != "" && e.SurebetID != f.SurebetID {
		return false
	}
	if f.BatchID != "" && e.BatchID != f.BatchID {
		return false
	}
	if f.Cutoff != nil && e.CreatedAt.After(*f.Cutoff) {
		return false
	}
	if len(f.Types) > 0 {
		for _, t := range f.Types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
	return true
}

// View são as leituras disponíveis em snapshot e em transação
type View interface {
	GetBet(ctx context.Context, id string) (domain.Bet, error)
	ListBetsByStatus(ctx context.Context, status domain.BetStatus) ([]domain.Bet, error)
	GetSurebet(ctx context.Context, id string) (domain.Surebet, error)
	SurebetOfBet(ctx context.Context, betID string) (string, bool, error)
	ListSurebetBets(ctx context.Context, surebetID string) ([]domain.Bet, error)
	ListSideAssignments(ctx context.Context, surebetID string) ([]domain.SideAssignment, error)
	LedgerEntries(ctx context.Context, f LedgerFilter) ([]domain.LedgerEntry, error)
	LedgerEntry(ctx context.Context, id int64) (domain.LedgerEntry, error)
}

// Tx é uma unidade de escrita atômica
type Tx interface {
	View

	// LockBet e LockSurebet travam a linha para o resto da transação
	LockBet(ctx context.Context, id string) (domain.Bet, error)
	LockSurebet(ctx context.Context, id string) (domain.Surebet, error)

	// InsertBet grava a aposta ou substitui uma ainda verificada com o mesmo id
	// Aposta já casada ou liquidada não muda; retorna false nesse caso
	InsertBet(ctx context.Context, b domain.Bet) (bool, error)
	FindOppositeCandidates(ctx context.Context, key domain.GroupingKey, labels []domain.Outcome) ([]domain.Bet, error)
	TransitionBet(ctx context.Context, id string, from, to domain.BetStatus, result domain.Result, at time.Time) error

	FindOpenSurebet(ctx context.Context, key domain.GroupingKey) (domain.Surebet, bool, error)
	CreateSurebet(ctx context.Context, s domain.Surebet) error
	UpdateSurebetRisk(ctx context.Context, id string, r *domain.Risk) error
	MarkSurebetSettled(ctx context.Context, id, batchID string, at time.Time) error

	// AddSideAssignment é write-once: repetir (surebet, bet) é defeito
	AddSideAssignment(ctx context.Context, a domain.SideAssignment) error

	// AppendLedgerEntries atribui ids crescentes e devolve as linhas gravadas
	AppendLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) ([]domain.LedgerEntry, error)
}

type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context, v View) error) error
}
