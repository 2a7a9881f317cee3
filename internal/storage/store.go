// Package storage persists the ledger. Every mutating operation runs inside
// a single unit of work obtained from Store.WithTx; the services compose
// balance mutation, limit recalculation and row changes within that scope so
// they commit or roll back together.
package storage

import (
	"context"
	"time"

	"hearth/internal/core"
)

// Store opens units of work against the underlying state.
type Store interface {
	// WithTx runs fn inside one atomic unit of work. If fn returns an
	// error the unit rolls back and the error is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// EntryFilter narrows card ledger queries. Zero time bounds are ignored.
type EntryFilter struct {
	// Unpaid filters on the paid flag when non-nil.
	Unpaid *bool
	// Before is an exclusive upper bound on the transaction date.
	Before time.Time
	// From/Until select the half-open interval [From, Until).
	From  time.Time
	Until time.Time
}

// Tx is the set of typed operations available inside one unit of work.
// Lookups return KindNotFound ledger errors when the row is absent, except
// where noted.
type Tx interface {
	// accounts
	GetAccount(ctx context.Context, id string) (*core.Account, error)
	InsertAccount(ctx context.Context, a *core.Account) error
	// UpdateAccountBalances writes the balance fields (total, available,
	// allocated and the legacy mirror).
	UpdateAccountBalances(ctx context.Context, a *core.Account) error
	// UpdateAccountLimits writes the credit-limit fields.
	UpdateAccountLimits(ctx context.Context, a *core.Account) error
	RetireAccount(ctx context.Context, id string) error
	// DetachAccountTransactions nulls out the account references on the
	// account's transactions without deleting the rows.
	DetachAccountTransactions(ctx context.Context, id string) error
	DeleteAccount(ctx context.Context, id string) error

	// transactions
	InsertTransaction(ctx context.Context, t *core.Transaction) error
	GetTransaction(ctx context.Context, id string) (*core.Transaction, error)
	UpdateTransaction(ctx context.Context, t *core.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	// ListSplitChildren returns the per-participant mirror transactions of
	// a split parent.
	ListSplitChildren(ctx context.Context, parentID string) ([]core.Transaction, error)

	// splits
	InsertSplit(ctx context.Context, s *core.TransactionSplit) error
	ListSplits(ctx context.Context, transactionID string) ([]core.TransactionSplit, error)
	DeleteSplits(ctx context.Context, transactionID string) error

	// ListCardEntries returns the card's INCOME/EXPENSE rows matching the
	// filter. Invoice-payment markers are always excluded (payments, not
	// purchases), as are split parents: a split's primary account never
	// moves money, only the per-participant mirrors do.
	ListCardEntries(ctx context.Context, cardID string, f EntryFilter) ([]core.Transaction, error)
	// ListAccountTransfers returns the TRANSFER rows touching the account
	// on either side.
	ListAccountTransfers(ctx context.Context, accountID string) ([]core.Transaction, error)
	// ListInvoicePayments returns payment transactions for the card. When
	// exactMarker is non-empty only rows with that stored marker match;
	// otherwise all payments for the card dated strictly before `before`
	// match (zero before = all).
	ListInvoicePayments(ctx context.Context, cardID, exactMarker string, before time.Time) ([]core.Transaction, error)

	// recurring rules
	InsertRule(ctx context.Context, r *core.RecurringRule) error
	GetRule(ctx context.Context, id string) (*core.RecurringRule, error)
	UpdateRule(ctx context.Context, r *core.RecurringRule) error
	DeleteRule(ctx context.Context, id string) error
	// ListDueRules returns active rules with nextRunAt <= now, optionally
	// scoped to a household ("" = all).
	ListDueRules(ctx context.Context, now time.Time, householdID string) ([]core.RecurringRule, error)
	// FindRecurrence locates the transaction already produced for a rule
	// occurrence, keyed by (household, rule, calendar day). Returns
	// (nil, nil) when none exists.
	FindRecurrence(ctx context.Context, householdID, ruleID string, date time.Time) (*core.Transaction, error)
}
