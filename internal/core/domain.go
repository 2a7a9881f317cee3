package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountChecking   AccountType = "CHECKING"
	AccountSavings    AccountType = "SAVINGS"
	AccountCash       AccountType = "CASH"
	AccountInvestment AccountType = "INVESTMENT"
	AccountCredit     AccountType = "CREDIT"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountChecking, AccountSavings, AccountCash, AccountInvestment, AccountCredit:
		return true
	}
	return false
}

type TransactionType string

const (
	TransactionIncome     TransactionType = "INCOME"
	TransactionExpense    TransactionType = "EXPENSE"
	TransactionTransfer   TransactionType = "TRANSFER"
	TransactionAllocation TransactionType = "ALLOCATION"
)

// Movement reports whether the type participates in the income/expense
// family. TRANSFER and ALLOCATION are structurally different and never
// convert to or from this family.
func (t TransactionType) Movement() bool {
	return t == TransactionIncome || t == TransactionExpense
}

// Account is a place money lives: a bank account, cash, or a credit card.
// The three balance fields always relate as
// totalBalance = availableBalance + allocatedBalance; Balance mirrors
// TotalBalance and is kept only for stored-state compatibility.
type Account struct {
	ID          string
	HouseholdID string
	Name        string
	Type        AccountType
	Currency    string

	TotalBalance     decimal.Decimal
	AvailableBalance decimal.Decimal
	AllocatedBalance decimal.Decimal
	Balance          decimal.Decimal

	// Credit card fields. CreditLimit is the nominal limit, TotalLimit is
	// nominal plus allocations, AvailableLimit is derived from debt.
	CreditLimit    decimal.Decimal
	TotalLimit     decimal.Decimal
	AvailableLimit decimal.Decimal
	ClosingDay     int // 1..31, 0 when unset
	DueDay         int

	LinkedAccountID string
	IsActive        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Account) IsCredit() bool {
	return a.Type == AccountCredit
}

func (a *Account) Validate() error {
	if strings.TrimSpace(a.HouseholdID) == "" {
		return BadRequestf("account household is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return BadRequestf("account name is required")
	}
	if !a.Type.Valid() {
		return BadRequestf("invalid account type %q", a.Type)
	}
	if a.ClosingDay < 0 || a.ClosingDay > 31 {
		return BadRequestf("closing day out of range: %d", a.ClosingDay)
	}
	if a.DueDay < 0 || a.DueDay > 31 {
		return BadRequestf("due day out of range: %d", a.DueDay)
	}
	return nil
}

// Transaction is a committed ledger entry. For INCOME/EXPENSE/ALLOCATION
// the money moves on AccountID; TRANSFER uses the From/To pair. ALLOCATION
// amounts are signed: positive allocates, negative deallocates.
type Transaction struct {
	ID          string
	HouseholdID string
	Type        TransactionType
	Amount      decimal.Decimal

	AccountID     string
	FromAccountID string
	ToAccountID   string

	// RelatedEntityID points at the credit card funded by an ALLOCATION.
	RelatedEntityID string

	CategoryTag string
	Description string
	Date        time.Time

	// Paid marks whether the entry moved money. Unpaid entries are pending
	// and affect only a credit card's available limit.
	Paid bool

	IsSplit       bool
	SplitParentID string

	RecurringTransactionID string

	Attachment Attachment

	CreatedAt time.Time
}

// TransactionSplit is one participant's share of a shared expense.
type TransactionSplit struct {
	ID            string
	TransactionID string
	UserID        string
	Amount        decimal.Decimal
	Paid          bool
}

type Frequency string

const (
	FrequencyDaily    Frequency = "DAILY"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
	FrequencyYearly   Frequency = "YEARLY"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// RecurringRule is a schedule, never money movement by itself. Each due
// occurrence produces at most one real transaction.
type RecurringRule struct {
	ID          string
	HouseholdID string
	AccountID   string
	CategoryTag string
	Description string
	Amount      decimal.Decimal
	Frequency   Frequency
	StartDate   time.Time
	EndDate     *time.Time
	NextRunAt   time.Time
	LastRunDate *time.Time
	IsActive    bool
}

func (r *RecurringRule) Validate() error {
	if strings.TrimSpace(r.HouseholdID) == "" {
		return BadRequestf("rule household is required")
	}
	if strings.TrimSpace(r.AccountID) == "" {
		return BadRequestf("rule account is required")
	}
	if strings.TrimSpace(r.CategoryTag) == "" {
		return BadRequestf("rule category is required")
	}
	if !r.Amount.IsPositive() {
		return BadRequestf("rule amount must be positive")
	}
	if !r.Frequency.Valid() {
		return BadRequestf("invalid frequency %q", r.Frequency)
	}
	if r.StartDate.IsZero() {
		return BadRequestf("rule start date is required")
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return BadRequestf("rule end date before start date")
	}
	return nil
}

// SameDay reports whether a and b fall on the same calendar day in UTC.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
