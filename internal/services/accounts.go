package services

import (
	"context"
	"time"

	"hearth/internal/core"
	"hearth/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Accounts covers the account lifecycle: creation, soft retirement and hard
// deletion. Hard deletion detaches the account's transactions rather than
// deleting them, so history survives without the reference.
type Accounts struct {
	store storage.Store
}

func NewAccounts(store storage.Store) *Accounts {
	return &Accounts{store: store}
}

// CreateAccountInput describes a new account. OpeningBalance seeds the
// available balance; credit cards start with TotalLimit = CreditLimit.
type CreateAccountInput struct {
	HouseholdID     string
	Name            string
	Type            core.AccountType
	Currency        string
	OpeningBalance  decimal.Decimal
	CreditLimit     decimal.Decimal
	ClosingDay      int
	DueDay          int
	LinkedAccountID string
}

func (s *Accounts) Create(ctx context.Context, in CreateAccountInput) (*core.Account, error) {
	now := time.Now()
	acct := &core.Account{
		ID:               uuid.NewString(),
		HouseholdID:      in.HouseholdID,
		Name:             in.Name,
		Type:             in.Type,
		Currency:         in.Currency,
		AvailableBalance: in.OpeningBalance,
		TotalBalance:     in.OpeningBalance,
		Balance:          in.OpeningBalance,
		CreditLimit:      in.CreditLimit,
		ClosingDay:       in.ClosingDay,
		DueDay:           in.DueDay,
		LinkedAccountID:  in.LinkedAccountID,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if acct.Currency == "" {
		acct.Currency = "EUR"
	}
	if acct.IsCredit() {
		acct.TotalLimit = in.CreditLimit
		acct.AvailableLimit = in.CreditLimit
	}
	if err := acct.Validate(); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Accounts) Get(ctx context.Context, id string) (*core.Account, error) {
	var acct *core.Account
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		acct, err = tx.GetAccount(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Retire soft-deletes: the account stops accepting movements in the
// collaborating layers but keeps its rows.
func (s *Accounts) Retire(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.RetireAccount(ctx, id)
	})
}

// HardDelete removes the account after detaching its transactions'
// references.
func (s *Accounts) HardDelete(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetAccount(ctx, id); err != nil {
			return err
		}
		if err := tx.DetachAccountTransactions(ctx, id); err != nil {
			return err
		}
		return tx.DeleteAccount(ctx, id)
	})
}
