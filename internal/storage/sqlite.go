package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hearth/internal/core"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the production Store backed by a single sqlite database.
// sqlite serializes writers, so each unit of work sees and writes a
// consistent snapshot of the balances it touches.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WithTx implements Store.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

const timeLayout = time.RFC3339

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// dayKey is the date-only prefix of the stored RFC3339 value, used for
// calendar-day equality in SQL.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- accounts ---

const accountColumns = `id, household_id, name, type, currency,
	total_balance, available_balance, allocated_balance, balance,
	credit_limit, total_limit, available_limit,
	closing_day, due_day, linked_account_id, is_active, created_at, updated_at`

func (t *sqliteTx) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("account %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*core.Account, error) {
	var (
		a                   core.Account
		total, avail, alloc string
		balance             string
		climit, tlimit      string
		alimit              string
		linked              sql.NullString
		createdAt           string
		updatedAt           string
	)
	if err := row.Scan(&a.ID, &a.HouseholdID, &a.Name, &a.Type, &a.Currency,
		&total, &avail, &alloc, &balance,
		&climit, &tlimit, &alimit,
		&a.ClosingDay, &a.DueDay, &linked, &a.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if a.TotalBalance, err = core.ParseAmount(total); err != nil {
		return nil, fmt.Errorf("total_balance: %w", err)
	}
	if a.AvailableBalance, err = core.ParseAmount(avail); err != nil {
		return nil, fmt.Errorf("available_balance: %w", err)
	}
	if a.AllocatedBalance, err = core.ParseAmount(alloc); err != nil {
		return nil, fmt.Errorf("allocated_balance: %w", err)
	}
	if a.Balance, err = core.ParseAmount(balance); err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	if a.CreditLimit, err = core.ParseAmount(climit); err != nil {
		return nil, fmt.Errorf("credit_limit: %w", err)
	}
	if a.TotalLimit, err = core.ParseAmount(tlimit); err != nil {
		return nil, fmt.Errorf("total_limit: %w", err)
	}
	if a.AvailableLimit, err = core.ParseAmount(alimit); err != nil {
		return nil, fmt.Errorf("available_limit: %w", err)
	}
	a.LinkedAccountID = linked.String
	if a.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if a.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return &a, nil
}

func (t *sqliteTx) InsertAccount(ctx context.Context, a *core.Account) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.HouseholdID, a.Name, string(a.Type), a.Currency,
		a.TotalBalance.String(), a.AvailableBalance.String(), a.AllocatedBalance.String(), a.Balance.String(),
		a.CreditLimit.String(), a.TotalLimit.String(), a.AvailableLimit.String(),
		a.ClosingDay, a.DueDay, nullStr(a.LinkedAccountID), a.IsActive,
		encodeTime(a.CreatedAt), encodeTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateAccountBalances(ctx context.Context, a *core.Account) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE accounts SET
		total_balance = ?, available_balance = ?, allocated_balance = ?, balance = ?, updated_at = ?
		WHERE id = ?`,
		a.TotalBalance.String(), a.AvailableBalance.String(), a.AllocatedBalance.String(),
		a.Balance.String(), encodeTime(time.Now()), a.ID)
	if err != nil {
		return fmt.Errorf("update account balances: %w", err)
	}
	return requireRow(res, "account", a.ID)
}

func (t *sqliteTx) UpdateAccountLimits(ctx context.Context, a *core.Account) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE accounts SET
		credit_limit = ?, total_limit = ?, available_limit = ?, updated_at = ?
		WHERE id = ?`,
		a.CreditLimit.String(), a.TotalLimit.String(), a.AvailableLimit.String(),
		encodeTime(time.Now()), a.ID)
	if err != nil {
		return fmt.Errorf("update account limits: %w", err)
	}
	return requireRow(res, "account", a.ID)
}

func (t *sqliteTx) RetireAccount(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET is_active = 0, updated_at = ? WHERE id = ?`,
		encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("retire account: %w", err)
	}
	return requireRow(res, "account", id)
}

func (t *sqliteTx) DetachAccountTransactions(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE transactions SET
		account_id = CASE WHEN account_id = ? THEN NULL ELSE account_id END,
		from_account_id = CASE WHEN from_account_id = ? THEN NULL ELSE from_account_id END,
		to_account_id = CASE WHEN to_account_id = ? THEN NULL ELSE to_account_id END
		WHERE account_id = ? OR from_account_id = ? OR to_account_id = ?`,
		id, id, id, id, id, id)
	if err != nil {
		return fmt.Errorf("detach account transactions: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteAccount(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireRow(res, "account", id)
}

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.NotFoundf("%s %s not found", entity, id)
	}
	return nil
}

// --- transactions ---

const transactionColumns = `id, household_id, type, amount, account_id,
	from_account_id, to_account_id, related_entity_id, category, description,
	date, paid, is_split, split_parent_id, recurring_transaction_id,
	attachment_url, created_at`

func (t *sqliteTx) InsertTransaction(ctx context.Context, tr *core.Transaction) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.HouseholdID, string(tr.Type), tr.Amount.String(), nullStr(tr.AccountID),
		nullStr(tr.FromAccountID), nullStr(tr.ToAccountID), nullStr(tr.RelatedEntityID),
		tr.CategoryTag, tr.Description,
		encodeTime(tr.Date), tr.Paid, tr.IsSplit, nullStr(tr.SplitParentID),
		nullStr(tr.RecurringTransactionID), nullStr(tr.Attachment.String()),
		encodeTime(tr.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var (
		tr                  core.Transaction
		amount              string
		account, from, to   sql.NullString
		related             sql.NullString
		date, createdAt     string
		splitParent         sql.NullString
		recurring, attached sql.NullString
	)
	if err := row.Scan(&tr.ID, &tr.HouseholdID, &tr.Type, &amount, &account,
		&from, &to, &related, &tr.CategoryTag, &tr.Description,
		&date, &tr.Paid, &tr.IsSplit, &splitParent, &recurring,
		&attached, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if tr.Amount, err = core.ParseAmount(amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	tr.AccountID = account.String
	tr.FromAccountID = from.String
	tr.ToAccountID = to.String
	tr.RelatedEntityID = related.String
	tr.SplitParentID = splitParent.String
	tr.RecurringTransactionID = recurring.String
	tr.Attachment = core.ParseAttachment(attached.String)
	if tr.Date, err = decodeTime(date); err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}
	if tr.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	return &tr, nil
}

func (t *sqliteTx) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tr, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("transaction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tr, nil
}

func (t *sqliteTx) UpdateTransaction(ctx context.Context, tr *core.Transaction) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE transactions SET
		type = ?, amount = ?, account_id = ?, from_account_id = ?, to_account_id = ?,
		related_entity_id = ?, category = ?, description = ?, date = ?, paid = ?,
		is_split = ?, split_parent_id = ?, recurring_transaction_id = ?, attachment_url = ?
		WHERE id = ?`,
		string(tr.Type), tr.Amount.String(), nullStr(tr.AccountID), nullStr(tr.FromAccountID),
		nullStr(tr.ToAccountID), nullStr(tr.RelatedEntityID), tr.CategoryTag, tr.Description,
		encodeTime(tr.Date), tr.Paid, tr.IsSplit, nullStr(tr.SplitParentID),
		nullStr(tr.RecurringTransactionID), nullStr(tr.Attachment.String()), tr.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireRow(res, "transaction", tr.ID)
}

func (t *sqliteTx) DeleteTransaction(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireRow(res, "transaction", id)
}

func (t *sqliteTx) ListSplitChildren(ctx context.Context, parentID string) ([]core.Transaction, error) {
	return t.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE split_parent_id = ? ORDER BY created_at`,
		parentID)
}

func (t *sqliteTx) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

// --- splits ---

func (t *sqliteTx) InsertSplit(ctx context.Context, s *core.TransactionSplit) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO transaction_splits (id, transaction_id, user_id, amount, paid) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.TransactionID, s.UserID, s.Amount.String(), s.Paid)
	if err != nil {
		return fmt.Errorf("insert split: %w", err)
	}
	return nil
}

func (t *sqliteTx) ListSplits(ctx context.Context, transactionID string) ([]core.TransactionSplit, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, transaction_id, user_id, amount, paid FROM transaction_splits WHERE transaction_id = ?`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("query splits: %w", err)
	}
	defer rows.Close()

	var out []core.TransactionSplit
	for rows.Next() {
		var (
			s      core.TransactionSplit
			amount string
		)
		if err := rows.Scan(&s.ID, &s.TransactionID, &s.UserID, &amount, &s.Paid); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		if s.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("split amount: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *sqliteTx) DeleteSplits(ctx context.Context, transactionID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM transaction_splits WHERE transaction_id = ?`, transactionID)
	if err != nil {
		return fmt.Errorf("delete splits: %w", err)
	}
	return nil
}

// --- card ledger queries ---

func (t *sqliteTx) ListCardEntries(ctx context.Context, cardID string, f EntryFilter) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = ? AND type IN ('INCOME', 'EXPENSE') AND is_split = 0
		AND (attachment_url IS NULL OR attachment_url NOT LIKE 'invoice_pay:%')`
	args := []any{cardID}

	if f.Unpaid != nil {
		query += ` AND paid = ?`
		args = append(args, !*f.Unpaid)
	}
	if !f.Before.IsZero() {
		query += ` AND date < ?`
		args = append(args, encodeTime(f.Before))
	}
	if !f.From.IsZero() {
		query += ` AND date >= ?`
		args = append(args, encodeTime(f.From))
	}
	if !f.Until.IsZero() {
		query += ` AND date < ?`
		args = append(args, encodeTime(f.Until))
	}
	query += ` ORDER BY date, created_at`

	return t.queryTransactions(ctx, query, args...)
}

func (t *sqliteTx) ListAccountTransfers(ctx context.Context, accountID string) ([]core.Transaction, error) {
	return t.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE type = 'TRANSFER' AND (from_account_id = ? OR to_account_id = ?)
		ORDER BY date, created_at`,
		accountID, accountID)
}

func (t *sqliteTx) ListInvoicePayments(ctx context.Context, cardID, exactMarker string, before time.Time) ([]core.Transaction, error) {
	if exactMarker != "" {
		return t.queryTransactions(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE attachment_url = ? ORDER BY date`,
			exactMarker)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE attachment_url LIKE ?`
	args := []any{"invoice_pay:" + cardID + ":%"}
	if !before.IsZero() {
		query += ` AND date < ?`
		args = append(args, encodeTime(before))
	}
	query += ` ORDER BY date`

	return t.queryTransactions(ctx, query, args...)
}

// --- recurring rules ---

const ruleColumns = `id, household_id, account_id, category, description,
	amount, frequency, start_date, end_date, next_run_at, last_run_date, is_active`

func (t *sqliteTx) InsertRule(ctx context.Context, r *core.RecurringRule) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO recurring_transactions (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.HouseholdID, r.AccountID, r.CategoryTag, r.Description,
		r.Amount.String(), string(r.Frequency), encodeTime(r.StartDate),
		nullTime(r.EndDate), encodeTime(r.NextRunAt), nullTime(r.LastRunDate), r.IsActive)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func scanRule(row rowScanner) (*core.RecurringRule, error) {
	var (
		r                  core.RecurringRule
		amount             string
		startDate, nextRun string
		endDate, lastRun   sql.NullString
	)
	if err := row.Scan(&r.ID, &r.HouseholdID, &r.AccountID, &r.CategoryTag, &r.Description,
		&amount, &r.Frequency, &startDate, &endDate, &nextRun, &lastRun, &r.IsActive); err != nil {
		return nil, err
	}

	var err error
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("rule amount: %w", err)
	}
	if r.StartDate, err = decodeTime(startDate); err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}
	if r.NextRunAt, err = decodeTime(nextRun); err != nil {
		return nil, fmt.Errorf("next_run_at: %w", err)
	}
	if endDate.Valid {
		v, err := decodeTime(endDate.String)
		if err != nil {
			return nil, fmt.Errorf("end_date: %w", err)
		}
		r.EndDate = &v
	}
	if lastRun.Valid {
		v, err := decodeTime(lastRun.String)
		if err != nil {
			return nil, fmt.Errorf("last_run_date: %w", err)
		}
		r.LastRunDate = &v
	}
	return &r, nil
}

func (t *sqliteTx) GetRule(ctx context.Context, id string) (*core.RecurringRule, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurring_transactions WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("recurring rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

func (t *sqliteTx) UpdateRule(ctx context.Context, r *core.RecurringRule) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE recurring_transactions SET
		account_id = ?, category = ?, description = ?, amount = ?, frequency = ?,
		start_date = ?, end_date = ?, next_run_at = ?, last_run_date = ?, is_active = ?
		WHERE id = ?`,
		r.AccountID, r.CategoryTag, r.Description, r.Amount.String(), string(r.Frequency),
		encodeTime(r.StartDate), nullTime(r.EndDate), encodeTime(r.NextRunAt),
		nullTime(r.LastRunDate), r.IsActive, r.ID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return requireRow(res, "recurring rule", r.ID)
}

func (t *sqliteTx) DeleteRule(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM recurring_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return requireRow(res, "recurring rule", id)
}

func (t *sqliteTx) ListDueRules(ctx context.Context, now time.Time, householdID string) ([]core.RecurringRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurring_transactions WHERE is_active = 1 AND next_run_at <= ?`
	args := []any{encodeTime(now)}
	if householdID != "" {
		query += ` AND household_id = ?`
		args = append(args, householdID)
	}
	query += ` ORDER BY next_run_at`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due rules: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (t *sqliteTx) FindRecurrence(ctx context.Context, householdID, ruleID string, date time.Time) (*core.Transaction, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE household_id = ? AND recurring_transaction_id = ? AND substr(date, 1, 10) = ?
		LIMIT 1`,
		householdID, ruleID, dayKey(date))
	tr, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recurrence: %w", err)
	}
	return tr, nil
}
