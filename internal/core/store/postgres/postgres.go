package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/core/store"
)

//go:embed schema.sql
var schema string

// códigos SQLSTATE tratados
const (
	codeLockNotAvailable = "55P03"
	codeUniqueViolation  = "23505"
)

// Store implementa store.Store sobre Postgres
// Linhas disputadas são travadas com FOR UPDATE NOWAIT: quem perde falha na hora
type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store { return &Store{db: db} }

// Migrate aplica o schema (idempotente)
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{view{q: tx}}); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}

// ReadSnapshot abre uma transação REPEATABLE READ somente leitura
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, v store.View) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(ctx, view{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeLockNotAvailable:
			return fmt.Errorf("%w: %s", domain.ErrConcurrentMutation, pqErr.Message)
		}
	}
	return err
}

const betCols = `id, participant_id, bookmaker_id, event_id, market, period, line, outcome,
	stake, currency, odds, payout, multi_leg, status, result, created_at, matched_at, settled_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBet(row scanner) (domain.Bet, error) {
	var (
		b                domain.Bet
		line             decimal.NullDecimal
		matched, settled sql.NullTime
		outcome, st, res string
	)
	if err := row.Scan(&b.ID, &b.ParticipantID, &b.BookmakerID, &b.Key.EventID, &b.Key.Market, &b.Key.Period, &line,
		&outcome, &b.Stake, &b.Currency, &b.Odds, &b.Payout, &b.MultiLeg, &st, &res, &b.CreatedAt, &matched, &settled); err != nil {
		return domain.Bet{}, err
	}
	if line.Valid {
		l := line.Decimal
		b.Key.Line = &l
	}
	b.Outcome = domain.Outcome(outcome)
	b.Status = domain.BetStatus(st)
	b.Result = domain.Result(res)
	if matched.Valid {
		t := matched.Time
		b.MatchedAt = &t
	}
	if settled.Valid {
		t := settled.Time
		b.SettledAt = &t
	}
	return b, nil
}

func scanBets(rows *sql.Rows) ([]domain.Bet, error) {
	defer rows.Close()
	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const surebetCols = `id, event_id, market, period, line, status, risk, batch_id, created_at, settled_at`

func scanSurebet(row scanner) (domain.Surebet, error) {
	var (
		s       domain.Surebet
		line    decimal.NullDecimal
		st      string
		risk    []byte
		settled sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.Key.EventID, &s.Key.Market, &s.Key.Period, &line, &st, &risk, &s.BatchID, &s.CreatedAt, &settled); err != nil {
		return domain.Surebet{}, err
	}
	if line.Valid {
		l := line.Decimal
		s.Key.Line = &l
	}
	s.Status = domain.SurebetStatus(st)
	if len(risk) > 0 {
		var r domain.Risk
		if err := json.Unmarshal(risk, &r); err != nil {
			return domain.Surebet{}, fmt.Errorf("decode risk: %w", err)
		}
		s.Risk = &r
	}
	if settled.Valid {
		t := settled.Time
		s.SettledAt = &t
	}
	return s, nil
}

const entryCols = `id, type, participant_id, bookmaker_id, bet_id, surebet_id, native_amount, native_currency,
	fx_rate, amount, principal_returned, equal_split_share, seat_holder, batch_id, created_at, note`

func scanEntry(row scanner) (domain.LedgerEntry, error) {
	var (
		e  domain.LedgerEntry
		tp string
	)
	if err := row.Scan(&e.ID, &tp, &e.ParticipantID, &e.BookmakerID, &e.BetID, &e.SurebetID, &e.NativeAmount, &e.NativeCurrency,
		&e.FXRate, &e.Amount, &e.PrincipalReturned, &e.EqualSplitShare, &e.SeatHolder, &e.BatchID, &e.CreatedAt, &e.Note); err != nil {
		return domain.LedgerEntry{}, err
	}
	e.Type = domain.EntryType(tp)
	return e, nil
}

func lineValue(l *decimal.Decimal) any {
	if l == nil {
		return nil
	}
	return *l
}

type view struct{ q *sql.Tx }

func (v view) GetBet(ctx context.Context, id string) (domain.Bet, error) {
	b, err := scanBet(v.q.QueryRowContext(ctx, `SELECT `+betCols+` FROM bets WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bet{}, fmt.Errorf("bet %s: %w", id, domain.ErrNotFound)
	}
	return b, err
}

func (v view) ListBetsByStatus(ctx context.Context, status domain.BetStatus) ([]domain.Bet, error) {
	rows, err := v.q.QueryContext(ctx, `SELECT `+betCols+` FROM bets WHERE status=$1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, err
	}
	return scanBets(rows)
}

func (v view) GetSurebet(ctx context.Context, id string) (domain.Surebet, error) {
	s, err := scanSurebet(v.q.QueryRowContext(ctx, `SELECT `+surebetCols+` FROM surebets WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Surebet{}, fmt.Errorf("surebet %s: %w", id, domain.ErrNotFound)
	}
	return s, err
}

func (v view) SurebetOfBet(ctx context.Context, betID string) (string, bool, error) {
	var id string
	err := v.q.QueryRowContext(ctx, `SELECT surebet_id FROM surebet_bets WHERE bet_id=$1`, betID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (v view) ListSurebetBets(ctx context.Context, surebetID string) ([]domain.Bet, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT `+prefixed("b", betCols)+`
		FROM bets b
		JOIN surebet_bets sb ON sb.bet_id = b.id
		WHERE sb.surebet_id=$1
		ORDER BY b.id`, surebetID)
	if err != nil {
		return nil, err
	}
	return scanBets(rows)
}

func (v view) ListSideAssignments(ctx context.Context, surebetID string) ([]domain.SideAssignment, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT surebet_id, bet_id, side, mapping_version, assigned_at
		FROM surebet_bets WHERE surebet_id=$1 ORDER BY bet_id`, surebetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SideAssignment
	for rows.Next() {
		var (
			a    domain.SideAssignment
			side string
		)
		if err := rows.Scan(&a.SurebetID, &a.BetID, &side, &a.MappingVersion, &a.AssignedAt); err != nil {
			return nil, err
		}
		a.Side = domain.Side(side)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (v view) LedgerEntries(ctx context.Context, f store.LedgerFilter) ([]domain.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ParticipantID != "" {
		add("participant_id=$%d", f.ParticipantID)
	}
	if f.SurebetID != "" {
		add("surebet_id=$%d", f.SurebetID)
	}
	if f.BatchID != "" {
		add("batch_id=$%d", f.BatchID)
	}
	if f.Cutoff != nil {
		add("created_at<=$%d", *f.Cutoff)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("type = ANY($%d)", pq.Array(types))
	}

	q := `SELECT ` + entryCols + ` FROM ledger_entries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id`

	rows, err := v.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (v view) LedgerEntry(ctx context.Context, id int64) (domain.LedgerEntry, error) {
	e, err := scanEntry(v.q.QueryRowContext(ctx, `SELECT `+entryCols+` FROM ledger_entries WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, fmt.Errorf("ledger entry %d: %w", id, domain.ErrNotFound)
	}
	return e, err
}

type pgTx struct{ view }

func (t *pgTx) LockBet(ctx context.Context, id string) (domain.Bet, error) {
	b, err := scanBet(t.q.QueryRowContext(ctx, `SELECT `+betCols+` FROM bets WHERE id=$1 FOR UPDATE NOWAIT`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bet{}, fmt.Errorf("bet %s: %w", id, domain.ErrNotFound)
	}
	return b, mapErr(err)
}

func (t *pgTx) LockSurebet(ctx context.Context, id string) (domain.Surebet, error) {
	s, err := scanSurebet(t.q.QueryRowContext(ctx, `SELECT `+surebetCols+` FROM surebets WHERE id=$1 FOR UPDATE NOWAIT`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Surebet{}, fmt.Errorf("surebet %s: %w", id, domain.ErrNotFound)
	}
	return s, mapErr(err)
}

func (t *pgTx) InsertBet(ctx context.Context, b domain.Bet) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO bets (id, participant_id, bookmaker_id, event_id, market, period, line, grouping_key, outcome,
			stake, currency, odds, payout, multi_leg, status, result, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			participant_id=EXCLUDED.participant_id, bookmaker_id=EXCLUDED.bookmaker_id,
			event_id=EXCLUDED.event_id, market=EXCLUDED.market, period=EXCLUDED.period, line=EXCLUDED.line,
			grouping_key=EXCLUDED.grouping_key, outcome=EXCLUDED.outcome, stake=EXCLUDED.stake,
			currency=EXCLUDED.currency, odds=EXCLUDED.odds, payout=EXCLUDED.payout, multi_leg=EXCLUDED.multi_leg
		WHERE bets.status='verified'`,
		b.ID, b.ParticipantID, b.BookmakerID, b.Key.EventID, b.Key.Market, b.Key.Period, lineValue(b.Key.Line), b.Key.String(),
		string(b.Outcome), b.Stake, b.Currency, b.Odds, b.Payout, b.MultiLeg, string(b.Status), string(b.Result), b.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *pgTx) FindOppositeCandidates(ctx context.Context, key domain.GroupingKey, labels []domain.Outcome) ([]domain.Bet, error) {
	ls := make([]string, len(labels))
	for i, l := range labels {
		ls[i] = string(l)
	}
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+betCols+` FROM bets
		WHERE grouping_key=$1 AND status='verified' AND NOT multi_leg AND outcome = ANY($2)
		ORDER BY created_at, id
		FOR UPDATE NOWAIT`, key.String(), pq.Array(ls))
	if err != nil {
		return nil, mapErr(err)
	}
	return scanBets(rows)
}

func (t *pgTx) TransitionBet(ctx context.Context, id string, from, to domain.BetStatus, result domain.Result, at time.Time) error {
	var q string
	args := []any{id, string(from), string(to), at}
	switch to {
	case domain.BetMatched:
		q = `UPDATE bets SET status=$3, matched_at=$4 WHERE id=$1 AND status=$2`
	case domain.BetSettled:
		q = `UPDATE bets SET status=$3, settled_at=$4, result=$5 WHERE id=$1 AND status=$2`
		args = append(args, string(result))
	default:
		return fmt.Errorf("bet %s ->%s: %w", id, to, domain.ErrInvalidTransition)
	}

	res, err := t.q.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("bet %s %s->%s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	return nil
}

func (t *pgTx) FindOpenSurebet(ctx context.Context, key domain.GroupingKey) (domain.Surebet, bool, error) {
	s, err := scanSurebet(t.q.QueryRowContext(ctx,
		`SELECT `+surebetCols+` FROM surebets WHERE grouping_key=$1 AND status='open' FOR UPDATE NOWAIT`, key.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Surebet{}, false, nil
	}
	if err != nil {
		return domain.Surebet{}, false, mapErr(err)
	}
	return s, true, nil
}

func (t *pgTx) CreateSurebet(ctx context.Context, s domain.Surebet) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO surebets (id, grouping_key, event_id, market, period, line, status, batch_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'',$8)`,
		s.ID, s.Key.String(), s.Key.EventID, s.Key.Market, s.Key.Period, lineValue(s.Key.Line), string(s.Status), s.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
		return fmt.Errorf("open surebet for %s: %w", s.Key, domain.ErrConcurrentMutation)
	}
	return err
}

func (t *pgTx) UpdateSurebetRisk(ctx context.Context, id string, r *domain.Risk) error {
	var payload any
	if r != nil {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		payload = b
	}
	res, err := t.q.ExecContext(ctx, `UPDATE surebets SET risk=$2 WHERE id=$1`, id, payload)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("surebet %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (t *pgTx) MarkSurebetSettled(ctx context.Context, id, batchID string, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE surebets SET status='settled', batch_id=$2, settled_at=$3 WHERE id=$1 AND status='open'`, id, batchID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("surebet %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

func (t *pgTx) AddSideAssignment(ctx context.Context, a domain.SideAssignment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO surebet_bets (surebet_id, bet_id, side, mapping_version, assigned_at)
		VALUES ($1,$2,$3,$4,$5)`, a.SurebetID, a.BetID, string(a.Side), a.MappingVersion, a.AssignedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
		return fmt.Errorf("surebet %s bet %s: %w", a.SurebetID, a.BetID, domain.ErrSideReassignment)
	}
	return err
}

func (t *pgTx) AppendLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	out := make([]domain.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if err := t.q.QueryRowContext(ctx, `
			INSERT INTO ledger_entries (type, participant_id, bookmaker_id, bet_id, surebet_id, native_amount, native_currency,
				fx_rate, amount, principal_returned, equal_split_share, seat_holder, batch_id, created_at, note)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			RETURNING id`,
			string(e.Type), e.ParticipantID, e.BookmakerID, e.BetID, e.SurebetID, e.NativeAmount, e.NativeCurrency,
			e.FXRate, e.Amount, e.PrincipalReturned, e.EqualSplitShare, e.SeatHolder, e.BatchID, e.CreatedAt, e.Note,
		).Scan(&e.ID); err != nil {
			return nil, fmt.Errorf("append ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// prefixed qualifica cada coluna com o alias da tabela
func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
