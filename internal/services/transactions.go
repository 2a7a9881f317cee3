package services

import (
	"context"
	"log/slog"
	"time"

	"hearth/internal/core"
	"hearth/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transactions orchestrates creation, update and deletion of ledger
// entries. Every operation runs as one unit of work: balance mutation,
// limit recalculation and row changes commit together or not at all.
type Transactions struct {
	store      storage.Store
	balances   *Balances
	limits     *Limits
	categories CategoryResolver
	membership MembershipResolver
	events     EventPublisher
}

func NewTransactions(store storage.Store, categories CategoryResolver, membership MembershipResolver, events EventPublisher) *Transactions {
	return &Transactions{
		store:      store,
		balances:   NewBalances(),
		limits:     NewLimits(),
		categories: categories,
		membership: membership,
		events:     events,
	}
}

// SplitShare is one participant's portion of a shared expense.
type SplitShare struct {
	UserID string
	Amount decimal.Decimal
	Paid   bool
}

// CreateTransactionInput describes a new INCOME or EXPENSE entry. Type may
// be left empty to resolve it from the category's classification.
type CreateTransactionInput struct {
	HouseholdID     string
	Type            core.TransactionType
	AccountID       string
	Amount          decimal.Decimal
	CategoryTag     string
	Description     string
	Date            time.Time
	Paid            bool
	Splits          []SplitShare
	RecurringRuleID string
	Attachment      core.Attachment
}

// Create records an INCOME/EXPENSE transaction, applying its balance effect
// when paid and keeping credit-card limits current.
func (p *Transactions) Create(ctx context.Context, in CreateTransactionInput) (*core.Transaction, error) {
	var created *core.Transaction
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		tr, err := p.createMovementInTx(ctx, tx, in)
		if err != nil {
			return err
		}
		created = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.publish(ctx, Event{
		Kind:        EventTransactionCommitted,
		EntityID:    created.ID,
		HouseholdID: created.HouseholdID,
		OccurredAt:  time.Now(),
	})
	return created, nil
}

// createMovementInTx is the generic INCOME/EXPENSE create path, shared with
// the recurring engine so rule execution composes into its own unit of work.
func (p *Transactions) createMovementInTx(ctx context.Context, tx storage.Tx, in CreateTransactionInput) (*core.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, core.BadRequestf("transaction amount must be positive")
	}

	category, err := core.ParseCategoryTag(in.CategoryTag)
	if err != nil {
		return nil, err
	}

	effectiveType := in.Type
	if effectiveType == "" {
		class, err := p.categories.Classify(ctx, in.HouseholdID, category)
		if err != nil {
			return nil, err
		}
		if class.IsIncome {
			effectiveType = core.TransactionIncome
		} else {
			effectiveType = core.TransactionExpense
		}
	}
	if !effectiveType.Movement() {
		return nil, core.BadRequestf("type %s is created through its dedicated entry point", effectiveType)
	}

	acct, err := tx.GetAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}

	tr := &core.Transaction{
		ID:                     uuid.NewString(),
		HouseholdID:            in.HouseholdID,
		Type:                   effectiveType,
		Amount:                 in.Amount,
		AccountID:              in.AccountID,
		CategoryTag:            category.Tag(),
		Description:            in.Description,
		Date:                   core.DateOnly(in.Date),
		Paid:                   in.Paid,
		IsSplit:                len(in.Splits) > 0,
		RecurringTransactionID: in.RecurringRuleID,
		Attachment:             in.Attachment,
		CreatedAt:              time.Now(),
	}

	if tr.IsSplit {
		return tr, p.createSplitInTx(ctx, tx, tr, in.Splits)
	}

	if err := tx.InsertTransaction(ctx, tr); err != nil {
		return nil, err
	}

	if tr.Paid {
		delta := movementDelta(acct, tr.Type, tr.Amount)
		if err := p.balances.ApplyNormalChange(ctx, tx, acct.ID, delta); err != nil {
			return nil, err
		}
	}
	if acct.IsCredit() {
		if err := p.limits.Recalculate(ctx, tx, acct.ID); err != nil {
			return nil, err
		}
	}

	slog.InfoContext(ctx, "Transaction created",
		"id", tr.ID, "type", tr.Type, "account_id", tr.AccountID,
		"amount", tr.Amount, "paid", tr.Paid)
	return tr, nil
}

// createSplitInTx fans a shared expense out into per-participant mirror
// transactions. The primary account is never debited: each participant's
// own account carries their share, in their own household scope.
func (p *Transactions) createSplitInTx(ctx context.Context, tx storage.Tx, parent *core.Transaction, shares []SplitShare) error {
	if parent.Type != core.TransactionExpense {
		return core.BadRequestf("only expenses can be split")
	}
	if p.membership == nil {
		return core.BadRequestf("split transactions require a membership resolver")
	}

	sum := decimal.Zero
	for _, s := range shares {
		if !s.Amount.IsPositive() {
			return core.BadRequestf("split share for user %s must be positive", s.UserID)
		}
		sum = sum.Add(s.Amount)
	}
	if !core.EqualWithin(sum, parent.Amount) {
		return core.BadRequestf("split shares sum to %s, transaction amount is %s", sum, parent.Amount)
	}

	if err := tx.InsertTransaction(ctx, parent); err != nil {
		return err
	}

	for _, s := range shares {
		if err := tx.InsertSplit(ctx, &core.TransactionSplit{
			ID:            uuid.NewString(),
			TransactionID: parent.ID,
			UserID:        s.UserID,
			Amount:        s.Amount,
			Paid:          s.Paid,
		}); err != nil {
			return err
		}

		accountID, householdID, err := p.membership.FundingAccount(ctx, s.UserID)
		if err != nil {
			return err
		}
		acct, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}

		mirror := &core.Transaction{
			ID:            uuid.NewString(),
			HouseholdID:   householdID,
			Type:          core.TransactionExpense,
			Amount:        s.Amount,
			AccountID:     accountID,
			CategoryTag:   parent.CategoryTag,
			Description:   parent.Description,
			Date:          parent.Date,
			Paid:          s.Paid,
			SplitParentID: parent.ID,
			CreatedAt:     time.Now(),
		}
		if err := tx.InsertTransaction(ctx, mirror); err != nil {
			return err
		}

		if mirror.Paid {
			delta := movementDelta(acct, mirror.Type, mirror.Amount)
			if err := p.balances.ApplyNormalChange(ctx, tx, acct.ID, delta); err != nil {
				return err
			}
		}
		if acct.IsCredit() {
			if err := p.limits.Recalculate(ctx, tx, acct.ID); err != nil {
				return err
			}
		}
	}

	slog.InfoContext(ctx, "Split transaction created",
		"id", parent.ID, "participants", len(shares), "amount", parent.Amount)
	return nil
}

// movementDelta is the signed available-balance change of a paid
// INCOME/EXPENSE entry. On a credit account an expense raises debt
// (positive) and an income lowers it; the signs invert everywhere else.
func movementDelta(acct *core.Account, typ core.TransactionType, amount decimal.Decimal) decimal.Decimal {
	expense := typ == core.TransactionExpense
	if acct.IsCredit() == expense {
		return amount
	}
	return amount.Neg()
}

// UpdateTransactionInput carries the fields an update may change. Nil
// pointers leave the stored value untouched.
type UpdateTransactionInput struct {
	Type            *core.TransactionType
	Amount          *decimal.Decimal
	AccountID       *string
	ToAccountID     *string
	RelatedEntityID *string
	CategoryTag     *string
	Description     *string
	Date            *time.Time
	Paid            *bool
	Attachment      *core.Attachment
}

// Update edits a transaction, reversing the old balance effect before
// applying the new one whenever amount, account, paid flag or type change.
// Each step is an independently invariant-preserving mutation rather than a
// single net delta.
func (p *Transactions) Update(ctx context.Context, id string, in UpdateTransactionInput) (*core.Transaction, error) {
	var updated *core.Transaction
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		old, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if old.Attachment.IsInvoicePayment() {
			return core.BadRequestf("invoice payments are edited through undo payment")
		}

		next := *old
		if in.Type != nil {
			next.Type = *in.Type
		}
		if in.Amount != nil {
			if !in.Amount.IsPositive() && next.Type != core.TransactionAllocation {
				return core.BadRequestf("transaction amount must be positive")
			}
			next.Amount = *in.Amount
		}
		if in.AccountID != nil {
			if old.Type == core.TransactionTransfer {
				next.FromAccountID = *in.AccountID
			} else {
				next.AccountID = *in.AccountID
			}
		}
		if in.ToAccountID != nil {
			next.ToAccountID = *in.ToAccountID
		}
		if in.RelatedEntityID != nil {
			if old.Type != core.TransactionAllocation {
				return core.BadRequestf("only allocations can be retargeted")
			}
			next.RelatedEntityID = *in.RelatedEntityID
		}
		if in.CategoryTag != nil {
			category, err := core.ParseCategoryTag(*in.CategoryTag)
			if err != nil {
				return err
			}
			next.CategoryTag = category.Tag()
		}
		if in.Description != nil {
			next.Description = *in.Description
		}
		if in.Date != nil {
			next.Date = core.DateOnly(*in.Date)
		}
		if in.Paid != nil {
			next.Paid = *in.Paid
		}
		if in.Attachment != nil {
			if in.Attachment.IsInvoicePayment() {
				return core.BadRequestf("invoice-payment markers are written by the invoice flow")
			}
			next.Attachment = *in.Attachment
		}

		if old.Type.Movement() != next.Type.Movement() {
			return core.BadRequestf("cannot change %s into %s", old.Type, next.Type)
		}

		switch {
		case old.Type.Movement():
			if err := p.updateMovementInTx(ctx, tx, old, &next); err != nil {
				return err
			}
		case old.Type == core.TransactionTransfer:
			if err := p.updateTransferInTx(ctx, tx, old, &next); err != nil {
				return err
			}
		case old.Type == core.TransactionAllocation:
			if err := p.updateAllocationInTx(ctx, tx, old, &next); err != nil {
				return err
			}
		}

		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.publish(ctx, Event{
		Kind:        EventTransactionCommitted,
		EntityID:    updated.ID,
		HouseholdID: updated.HouseholdID,
		OccurredAt:  time.Now(),
	})
	return updated, nil
}

func (p *Transactions) updateMovementInTx(ctx context.Context, tx storage.Tx, old, next *core.Transaction) error {
	if old.IsSplit {
		if !next.Amount.Equal(old.Amount) || next.AccountID != old.AccountID ||
			next.Type != old.Type || next.Paid != old.Paid {
			return core.BadRequestf("split transactions are restructured by delete and recreate")
		}
	}

	typeChanged := next.Type != old.Type
	accountChanged := next.AccountID != old.AccountID
	amountChanged := !next.Amount.Equal(old.Amount)
	paidChanged := next.Paid != old.Paid

	switch {
	case typeChanged || accountChanged || amountChanged:
		// Reverse the full prior effect on the prior account, then apply
		// the new effect on the (possibly different) account.
		if old.Paid {
			oldAcct, err := tx.GetAccount(ctx, old.AccountID)
			if err != nil {
				return err
			}
			reversal := movementDelta(oldAcct, old.Type, old.Amount).Neg()
			if err := p.balances.ApplyNormalChange(ctx, tx, old.AccountID, reversal); err != nil {
				return err
			}
		}
		if next.Paid {
			newAcct, err := tx.GetAccount(ctx, next.AccountID)
			if err != nil {
				return err
			}
			delta := movementDelta(newAcct, next.Type, next.Amount)
			if err := p.balances.ApplyNormalChange(ctx, tx, next.AccountID, delta); err != nil {
				return err
			}
		}

	case paidChanged:
		acct, err := tx.GetAccount(ctx, old.AccountID)
		if err != nil {
			return err
		}
		delta := movementDelta(acct, old.Type, old.Amount)
		if !next.Paid {
			delta = delta.Neg()
		}
		if err := p.balances.ApplyNormalChange(ctx, tx, old.AccountID, delta); err != nil {
			return err
		}
	}

	if err := tx.UpdateTransaction(ctx, next); err != nil {
		return err
	}
	return p.recalcCreditAccounts(ctx, tx, old.AccountID, next.AccountID)
}

func (p *Transactions) updateTransferInTx(ctx context.Context, tx storage.Tx, old, next *core.Transaction) error {
	if next.FromAccountID != old.FromAccountID || next.ToAccountID != old.ToAccountID ||
		!next.Amount.Equal(old.Amount) {
		if err := validateTransferEndpoints(ctx, tx, next.FromAccountID, next.ToAccountID); err != nil {
			return err
		}
		if !next.Amount.IsPositive() {
			return core.BadRequestf("transfer amount must be positive")
		}
		if err := p.balances.ApplyTransfer(ctx, tx, old.ToAccountID, old.FromAccountID, old.Amount); err != nil {
			return err
		}
		if err := p.balances.ApplyTransfer(ctx, tx, next.FromAccountID, next.ToAccountID, next.Amount); err != nil {
			return err
		}
	}
	return tx.UpdateTransaction(ctx, next)
}

func (p *Transactions) updateAllocationInTx(ctx context.Context, tx storage.Tx, old, next *core.Transaction) error {
	if next.AccountID != old.AccountID || next.RelatedEntityID != old.RelatedEntityID ||
		!next.Amount.Equal(old.Amount) {
		if next.Amount.IsZero() {
			return core.BadRequestf("allocation amount cannot be zero")
		}
		if err := p.reverseAllocationInTx(ctx, tx, old); err != nil {
			return err
		}
		if err := p.applyAllocationAmount(ctx, tx, next.AccountID, next.RelatedEntityID, next.Amount); err != nil {
			return err
		}
		if err := p.limits.Recalculate(ctx, tx, next.RelatedEntityID); err != nil {
			return err
		}
		if old.RelatedEntityID != next.RelatedEntityID {
			if err := p.limits.Recalculate(ctx, tx, old.RelatedEntityID); err != nil {
				return err
			}
		}
	}
	return tx.UpdateTransaction(ctx, next)
}

// Delete removes a transaction, reversing whatever balance effect it had.
func (p *Transactions) Delete(ctx context.Context, id string) error {
	var householdID string
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		tr, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tr.Attachment.IsInvoicePayment() {
			return core.BadRequestf("invoice payments are reversed through undo payment")
		}
		householdID = tr.HouseholdID

		switch {
		case tr.Type == core.TransactionTransfer:
			if err := p.balances.ApplyTransfer(ctx, tx, tr.ToAccountID, tr.FromAccountID, tr.Amount); err != nil {
				return err
			}
			return tx.DeleteTransaction(ctx, id)

		case tr.Type == core.TransactionAllocation:
			if err := p.reverseAllocationInTx(ctx, tx, tr); err != nil {
				return err
			}
			if err := p.limits.Recalculate(ctx, tx, tr.RelatedEntityID); err != nil {
				return err
			}
			return tx.DeleteTransaction(ctx, id)

		case tr.IsSplit:
			return p.deleteSplitInTx(ctx, tx, tr)

		default:
			return p.deleteMovementInTx(ctx, tx, tr)
		}
	})
	if err != nil {
		return err
	}

	p.publish(ctx, Event{
		Kind:        EventTransactionDeleted,
		EntityID:    id,
		HouseholdID: householdID,
		OccurredAt:  time.Now(),
	})
	return nil
}

func (p *Transactions) deleteMovementInTx(ctx context.Context, tx storage.Tx, tr *core.Transaction) error {
	if tr.Paid {
		acct, err := tx.GetAccount(ctx, tr.AccountID)
		if err != nil {
			return err
		}
		reversal := movementDelta(acct, tr.Type, tr.Amount).Neg()
		if err := p.balances.ApplyNormalChange(ctx, tx, tr.AccountID, reversal); err != nil {
			return err
		}
	}
	if err := tx.DeleteTransaction(ctx, tr.ID); err != nil {
		return err
	}
	return p.recalcCreditAccounts(ctx, tx, tr.AccountID)
}

func (p *Transactions) deleteSplitInTx(ctx context.Context, tx storage.Tx, parent *core.Transaction) error {
	children, err := tx.ListSplitChildren(ctx, parent.ID)
	if err != nil {
		return err
	}
	for i := range children {
		if err := p.deleteMovementInTx(ctx, tx, &children[i]); err != nil {
			return err
		}
	}
	if err := tx.DeleteSplits(ctx, parent.ID); err != nil {
		return err
	}
	return tx.DeleteTransaction(ctx, parent.ID)
}

// reverseAllocationInTx undoes an ALLOCATION row. Positive amounts were
// allocations, negative ones deallocations; the reverse swaps them.
func (p *Transactions) reverseAllocationInTx(ctx context.Context, tx storage.Tx, tr *core.Transaction) error {
	if tr.Amount.IsPositive() {
		return p.balances.ApplyDeallocation(ctx, tx, tr.AccountID, tr.RelatedEntityID, tr.Amount)
	}
	return p.balances.ApplyAllocation(ctx, tx, tr.AccountID, tr.RelatedEntityID, tr.Amount.Neg())
}

func (p *Transactions) applyAllocationAmount(ctx context.Context, tx storage.Tx, sourceID, cardID string, amount decimal.Decimal) error {
	if amount.IsPositive() {
		return p.balances.ApplyAllocation(ctx, tx, sourceID, cardID, amount)
	}
	return p.balances.ApplyDeallocation(ctx, tx, sourceID, cardID, amount.Neg())
}

// recalcCreditAccounts recalculates limits for every distinct credit
// account in ids. Missing accounts are skipped: deletion flows may run
// after an account was detached.
func (p *Transactions) recalcCreditAccounts(ctx context.Context, tx storage.Tx, ids ...string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		acct, err := tx.GetAccount(ctx, id)
		if err != nil {
			if core.IsKind(err, core.KindNotFound) {
				continue
			}
			return err
		}
		if !acct.IsCredit() {
			continue
		}
		if err := p.limits.Recalculate(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// TransferInput describes a movement of available funds between two
// accounts of the same household.
type TransferInput struct {
	HouseholdID   string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Description   string
	Date          time.Time
}

// CreateTransfer moves available balance between two accounts and records
// the TRANSFER row.
func (p *Transactions) CreateTransfer(ctx context.Context, in TransferInput) (*core.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, core.BadRequestf("transfer amount must be positive")
	}

	var created *core.Transaction
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := validateTransferEndpoints(ctx, tx, in.FromAccountID, in.ToAccountID); err != nil {
			return err
		}
		if err := p.balances.ApplyTransfer(ctx, tx, in.FromAccountID, in.ToAccountID, in.Amount); err != nil {
			return err
		}

		created = &core.Transaction{
			ID:            uuid.NewString(),
			HouseholdID:   in.HouseholdID,
			Type:          core.TransactionTransfer,
			Amount:        in.Amount,
			FromAccountID: in.FromAccountID,
			ToAccountID:   in.ToAccountID,
			Description:   in.Description,
			Date:          core.DateOnly(in.Date),
			Paid:          true,
			CreatedAt:     time.Now(),
		}
		return tx.InsertTransaction(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	p.publish(ctx, Event{
		Kind:        EventTransactionCommitted,
		EntityID:    created.ID,
		HouseholdID: created.HouseholdID,
		OccurredAt:  time.Now(),
	})
	return created, nil
}

func validateTransferEndpoints(ctx context.Context, tx storage.Tx, fromID, toID string) error {
	if fromID == toID {
		return core.BadRequestf("cannot transfer within the same account")
	}
	from, err := tx.GetAccount(ctx, fromID)
	if err != nil {
		return err
	}
	to, err := tx.GetAccount(ctx, toID)
	if err != nil {
		return err
	}
	if from.Currency != to.Currency {
		return core.BadRequestf("currency mismatch: %s is %s, %s is %s",
			fromID, from.Currency, toID, to.Currency)
	}
	return nil
}

// AllocationInput funds (or defunds) a credit card's limit from a source
// account's available balance.
type AllocationInput struct {
	HouseholdID     string
	SourceAccountID string
	CardID          string
	Amount          decimal.Decimal
	Description     string
	Date            time.Time
}

// CreateAllocation earmarks funds on the source account and raises the
// card's total limit.
func (p *Transactions) CreateAllocation(ctx context.Context, in AllocationInput) (*core.Transaction, error) {
	return p.createAllocationRow(ctx, in, false)
}

// CreateDeallocation is the exact inverse of CreateAllocation.
func (p *Transactions) CreateDeallocation(ctx context.Context, in AllocationInput) (*core.Transaction, error) {
	return p.createAllocationRow(ctx, in, true)
}

func (p *Transactions) createAllocationRow(ctx context.Context, in AllocationInput, deallocate bool) (*core.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, core.BadRequestf("allocation amount must be positive")
	}

	var created *core.Transaction
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		if deallocate {
			err = p.balances.ApplyDeallocation(ctx, tx, in.SourceAccountID, in.CardID, in.Amount)
		} else {
			err = p.balances.ApplyAllocation(ctx, tx, in.SourceAccountID, in.CardID, in.Amount)
		}
		if err != nil {
			return err
		}
		if err := p.limits.Recalculate(ctx, tx, in.CardID); err != nil {
			return err
		}

		amount := in.Amount
		if deallocate {
			amount = amount.Neg()
		}
		created = &core.Transaction{
			ID:              uuid.NewString(),
			HouseholdID:     in.HouseholdID,
			Type:            core.TransactionAllocation,
			Amount:          amount,
			AccountID:       in.SourceAccountID,
			RelatedEntityID: in.CardID,
			Description:     in.Description,
			Date:            core.DateOnly(in.Date),
			Paid:            true,
			CreatedAt:       time.Now(),
		}
		return tx.InsertTransaction(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	p.publish(ctx, Event{
		Kind:        EventTransactionCommitted,
		EntityID:    created.ID,
		HouseholdID: created.HouseholdID,
		OccurredAt:  time.Now(),
	})
	return created, nil
}

// setPaidInTx toggles an entry's paid flag, applying or reversing its
// balance delta so each step stays invariant-preserving. Used by the
// invoice flow when a payment settles a period's purchases.
func (p *Transactions) setPaidInTx(ctx context.Context, tx storage.Tx, tr *core.Transaction, paid bool) error {
	if tr.Paid == paid {
		return nil
	}

	acct, err := tx.GetAccount(ctx, tr.AccountID)
	if err != nil {
		return err
	}
	delta := movementDelta(acct, tr.Type, tr.Amount)
	if !paid {
		delta = delta.Neg()
	}
	if err := p.balances.ApplyNormalChange(ctx, tx, tr.AccountID, delta); err != nil {
		return err
	}

	tr.Paid = paid
	return tx.UpdateTransaction(ctx, tr)
}

// ValidateAccount runs the defensive balance-invariant check.
func (p *Transactions) ValidateAccount(ctx context.Context, accountID string) error {
	return p.store.WithTx(ctx, func(tx storage.Tx) error {
		return p.balances.ValidateInvariants(ctx, tx, accountID)
	})
}

func (p *Transactions) publish(ctx context.Context, ev Event) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", ev.Kind, "entity_id", ev.EntityID, "error", err)
	}
}
