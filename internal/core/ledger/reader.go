// Package ledger escreve e lê o livro append-only.
//
// Linhas nunca são alteradas ou removidas: ajustes são sempre novas
// entradas do tipo correction. Reader é o único caminho de leitura usado
// por relatórios e não expõe escrita.
package ledger

import (
	"context"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/store"
)

// Filter restringe a exportação do ledger
type Filter = store.LedgerFilter

type Reader struct {
	store store.Store
}

func NewReader(st store.Store) *Reader { return &Reader{store: st} }

// Entries lista as linhas em ordem de id
func (r *Reader) Entries(ctx context.Context, f Filter) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := r.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		var err error
		out, err = v.LedgerEntries(ctx, f)
		return err
	})
	return out, err
}

func (r *Reader) Entry(ctx context.Context, id int64) (domain.LedgerEntry, error) {
	var out domain.LedgerEntry
	err := r.store.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		var err error
		out, err = v.LedgerEntry(ctx, id)
		return err
	})
	return out, err
}
