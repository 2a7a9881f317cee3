package services

import (
	"context"
	"fmt"

	"hearth/internal/core"
	"hearth/internal/storage"
)

// Limits derives a credit card's spendable limit from its debt. It must run
// after any mutation that changes the card's settled balance or its set of
// unpaid transactions; calling it redundantly is safe.
type Limits struct{}

func NewLimits() *Limits {
	return &Limits{}
}

// Recalculate computes
//
//	totalDebt = max(0, balance) + sum(unpaid EXPENSE) - sum(unpaid INCOME)
//	availableLimit = max(0, totalLimit - totalDebt)
//
// over the card's ledger entries, where invoice-payment markers and
// transfers/allocations never count as debt.
func (l *Limits) Recalculate(ctx context.Context, tx storage.Tx, cardID string) error {
	card, err := tx.GetAccount(ctx, cardID)
	if err != nil {
		return err
	}
	if !card.IsCredit() {
		return core.BadRequestf("account %s is not a credit account", cardID)
	}

	unpaid := true
	entries, err := tx.ListCardEntries(ctx, cardID, storage.EntryFilter{Unpaid: &unpaid})
	if err != nil {
		return fmt.Errorf("list unpaid card entries: %w", err)
	}

	totalDebt := core.ClampZero(card.Balance)
	for _, e := range entries {
		switch e.Type {
		case core.TransactionExpense:
			totalDebt = totalDebt.Add(e.Amount)
		case core.TransactionIncome:
			totalDebt = totalDebt.Sub(e.Amount)
		}
	}

	card.AvailableLimit = core.ClampZero(card.TotalLimit.Sub(totalDebt))

	if err := tx.UpdateAccountLimits(ctx, card); err != nil {
		return fmt.Errorf("recalculate limit: %w", err)
	}
	return nil
}
