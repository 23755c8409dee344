package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/store"
)

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "b.id, b.name", prefixed("b", "id,\n\tname"))
}

func TestMapErrLockNotAvailable(t *testing.T) {
	err := mapErr(fmt.Errorf("lock bet: %w", &pq.Error{Code: codeLockNotAvailable, Message: "could not obtain lock"}))
	assert.ErrorIs(t, err, domain.ErrConcurrentMutation)

	plain := fmt.Errorf("other")
	assert.Equal(t, plain, mapErr(plain))
	assert.NoError(t, mapErr(nil))
}

// integração: roda só com POSTGRES_TEST_DSN definido
func openTestStore(t *testing.T) *Store {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestPostgresLedgerIsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	participant := "p-" + uuid.NewString()

	var id int64
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out, err := tx.AppendLedgerEntries(ctx, []domain.LedgerEntry{{
			Type: domain.EntryDeposit, ParticipantID: participant,
			NativeAmount: decimal.NewFromInt(100), NativeCurrency: "EUR", FXRate: decimal.NewFromInt(1),
			Amount: decimal.NewFromInt(100), CreatedAt: time.Now().UTC(),
		}})
		if err == nil {
			id = out[0].ID
		}
		return err
	}))

	_, err := s.db.ExecContext(ctx, `UPDATE ledger_entries SET amount=0 WHERE id=$1`, id)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id=$1`, id)
	assert.Error(t, err)

	require.NoError(t, s.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		e, err := v.LedgerEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "100", e.Amount.String())
		return nil
	}))
}

func TestPostgresBetLockIsNoWait(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := "b-" + uuid.NewString()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertBet(ctx, domain.Bet{
			ID: id, ParticipantID: "p", Key: domain.GroupingKey{EventID: "e", Market: "m", Period: "p"},
			Outcome: "OVER", Stake: decimal.NewFromInt(1), Currency: "EUR", Odds: decimal.NewFromInt(2),
			Status: domain.BetVerified, CreatedAt: time.Now().UTC(),
		})
		return err
	}))

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.LockBet(ctx, id)
			close(holding)
			<-release
			return err
		})
	}()
	<-holding

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockBet(ctx, id)
		return err
	})
	close(release)
	assert.ErrorIs(t, err, domain.ErrConcurrentMutation)
}

func TestPostgresInsertBetReplacesVerified(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := "b-" + uuid.NewString()
	created := time.Now().UTC().Truncate(time.Second)

	insert := func(period string) bool {
		var written bool
		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			written, err = tx.InsertBet(ctx, domain.Bet{
				ID: id, ParticipantID: "p", Key: domain.GroupingKey{EventID: "e", Market: "m", Period: period},
				Outcome: "OVER", Stake: decimal.NewFromInt(1), Currency: "EUR", Odds: decimal.NewFromInt(2),
				Status: domain.BetVerified, CreatedAt: created,
			})
			return err
		}))
		return written
	}

	require.True(t, insert(""))
	require.True(t, insert("FT"))

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.TransitionBet(ctx, id, domain.BetVerified, domain.BetMatched, "", created)
	}))
	assert.False(t, insert("HT"))

	require.NoError(t, s.ReadSnapshot(ctx, func(ctx context.Context, v store.View) error {
		b, err := v.GetBet(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "FT", b.Key.Period)
		assert.Equal(t, domain.BetMatched, b.Status)
		return nil
	}))
}
