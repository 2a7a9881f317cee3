package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hearth/internal/core"
	"hearth/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice is a credit card's billing-cycle statement.
type Invoice struct {
	CardID      string
	Year        int
	Month       time.Month
	PeriodStart time.Time
	PeriodEnd   time.Time // exclusive

	// PreviousBalance is unpaid debt carried in from before the period,
	// floored at zero. CurrentDebt is the period's net purchases,
	// Payments the period's settled amount.
	PreviousBalance decimal.Decimal
	CurrentDebt     decimal.Decimal
	Payments        decimal.Decimal
	Total           decimal.Decimal
}

// Invoices computes credit-card billing cycles and records or undoes their
// payments. It reads the Transaction Processor's persisted output; it never
// calls back into the processor's public entry points.
type Invoices struct {
	store    storage.Store
	balances *Balances
	limits   *Limits
	txns     *Transactions
	events   EventPublisher
}

func NewInvoices(store storage.Store, txns *Transactions, events EventPublisher) *Invoices {
	return &Invoices{
		store:    store,
		balances: NewBalances(),
		limits:   NewLimits(),
		txns:     txns,
		events:   events,
	}
}

// Calculate computes the card's invoice for the given calendar month.
func (s *Invoices) Calculate(ctx context.Context, cardID string, year int, month time.Month) (*Invoice, error) {
	var inv *Invoice
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		inv, err = s.calculateInTx(ctx, tx, cardID, year, month)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Invoices) calculateInTx(ctx context.Context, tx storage.Tx, cardID string, year int, month time.Month) (*Invoice, error) {
	card, err := tx.GetAccount(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !card.IsCredit() {
		return nil, core.BadRequestf("account %s is not a credit account", cardID)
	}

	start, end := core.BillingPeriod(card.ClosingDay, year, month)

	// Debt accrued strictly before the period start, paid or unpaid, net of
	// payments made before the period start. Floored at zero: a surplus
	// never becomes negative carry-over.
	priorEntries, err := tx.ListCardEntries(ctx, cardID, storage.EntryFilter{Before: start})
	if err != nil {
		return nil, fmt.Errorf("list prior entries: %w", err)
	}
	previous := netDebt(priorEntries)

	priorPayments, err := tx.ListInvoicePayments(ctx, cardID, "", start)
	if err != nil {
		return nil, fmt.Errorf("list prior payments: %w", err)
	}
	for _, p := range priorPayments {
		previous = previous.Sub(p.Amount)
	}
	previous = core.ClampZero(previous)

	periodEntries, err := tx.ListCardEntries(ctx, cardID, storage.EntryFilter{From: start, Until: end})
	if err != nil {
		return nil, fmt.Errorf("list period entries: %w", err)
	}
	currentDebt := netDebt(periodEntries)

	marker := core.InvoicePaymentMarker(cardID, year, month)
	periodPayments, err := tx.ListInvoicePayments(ctx, cardID, marker.String(), time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list period payments: %w", err)
	}
	payments := decimal.Zero
	for _, p := range periodPayments {
		payments = payments.Add(p.Amount)
	}

	return &Invoice{
		CardID:          cardID,
		Year:            year,
		Month:           month,
		PeriodStart:     start,
		PeriodEnd:       end,
		PreviousBalance: previous,
		CurrentDebt:     currentDebt,
		Payments:        payments,
		Total:           core.ClampZero(previous.Add(currentDebt).Sub(payments)),
	}, nil
}

// netDebt sums expenses minus incomes over card entries.
func netDebt(entries []core.Transaction) decimal.Decimal {
	net := decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case core.TransactionExpense:
			net = net.Add(e.Amount)
		case core.TransactionIncome:
			net = net.Sub(e.Amount)
		}
	}
	return net
}

// PayInput describes an invoice payment. A nil Amount pays the full
// invoice total.
type PayInput struct {
	CardID           string
	FundingAccountID string
	Year             int
	Month            time.Month
	Amount           *decimal.Decimal
	Date             time.Time
}

// Pay settles (part of) a card's invoice from a funding account: it records
// an EXPENSE tagged with the payment marker, lowers both balances, marks the
// period's unpaid purchases as paid and recalculates the limit, all in one
// unit of work.
func (s *Invoices) Pay(ctx context.Context, in PayInput) (*core.Transaction, error) {
	var payment *core.Transaction
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		inv, err := s.calculateInTx(ctx, tx, in.CardID, in.Year, in.Month)
		if err != nil {
			return err
		}
		if inv.Total.IsZero() {
			return core.BadRequestf("invoice for %s %d-%d has no outstanding balance", in.CardID, in.Year, in.Month)
		}

		amount := inv.Total
		if in.Amount != nil {
			amount = *in.Amount
		}
		if !amount.IsPositive() {
			return core.BadRequestf("payment amount must be positive")
		}

		funding, err := tx.GetAccount(ctx, in.FundingAccountID)
		if err != nil {
			return err
		}
		if funding.IsCredit() {
			return core.BadRequestf("funding account %s cannot be a credit account", in.FundingAccountID)
		}

		card, err := tx.GetAccount(ctx, in.CardID)
		if err != nil {
			return err
		}

		// Settle the period's pending purchases first, then take the
		// payment off the card's debt.
		unpaid := true
		pending, err := tx.ListCardEntries(ctx, in.CardID, storage.EntryFilter{
			Unpaid: &unpaid, From: inv.PeriodStart, Until: inv.PeriodEnd,
		})
		if err != nil {
			return fmt.Errorf("list pending purchases: %w", err)
		}
		for i := range pending {
			if err := s.txns.setPaidInTx(ctx, tx, &pending[i], true); err != nil {
				return err
			}
		}

		if err := s.balances.ApplyNormalChange(ctx, tx, funding.ID, amount.Neg()); err != nil {
			return err
		}
		if err := s.balances.ApplyNormalChange(ctx, tx, card.ID, amount.Neg()); err != nil {
			return err
		}

		payment = &core.Transaction{
			ID:          uuid.NewString(),
			HouseholdID: funding.HouseholdID,
			Type:        core.TransactionExpense,
			Amount:      amount,
			AccountID:   funding.ID,
			CategoryTag: "OTHER_EXPENSE",
			Description: fmt.Sprintf("Invoice payment %s %d-%02d", card.Name, in.Year, in.Month),
			Date:        core.DateOnly(in.Date),
			Paid:        true,
			Attachment:  core.InvoicePaymentMarker(in.CardID, in.Year, in.Month),
			CreatedAt:   time.Now(),
		}
		if err := tx.InsertTransaction(ctx, payment); err != nil {
			return err
		}

		return s.limits.Recalculate(ctx, tx, in.CardID)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Invoice paid",
		"card_id", in.CardID, "year", in.Year, "month", int(in.Month),
		"amount", payment.Amount)
	s.publish(ctx, Event{
		Kind:        EventInvoicePaid,
		EntityID:    payment.ID,
		HouseholdID: payment.HouseholdID,
		OccurredAt:  time.Now(),
	})
	return payment, nil
}

// UndoPayment reverses a specific invoice payment: it restores both
// balances, flips the purchases the payment settled back to unpaid, deletes
// the payment row and recalculates the limit.
func (s *Invoices) UndoPayment(ctx context.Context, cardID, paymentID string) error {
	var householdID string
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		payment, err := tx.GetTransaction(ctx, paymentID)
		if err != nil {
			return err
		}
		if !payment.Attachment.IsPaymentFor(cardID) {
			return core.BadRequestf("transaction %s is not an invoice payment for card %s", paymentID, cardID)
		}
		householdID = payment.HouseholdID

		card, err := tx.GetAccount(ctx, cardID)
		if err != nil {
			return err
		}
		marker := payment.Attachment
		start, _ := core.BillingPeriod(card.ClosingDay, marker.Year, marker.Month())

		if err := s.balances.ApplyNormalChange(ctx, tx, payment.AccountID, payment.Amount); err != nil {
			return err
		}
		if err := s.balances.ApplyNormalChange(ctx, tx, cardID, payment.Amount); err != nil {
			return err
		}

		// Purchases settled between the period start and the payment date
		// go back to pending.
		paid := false
		settled, err := tx.ListCardEntries(ctx, cardID, storage.EntryFilter{
			Unpaid: &paid, From: start, Until: payment.Date.AddDate(0, 0, 1),
		})
		if err != nil {
			return fmt.Errorf("list settled purchases: %w", err)
		}
		for i := range settled {
			if err := s.txns.setPaidInTx(ctx, tx, &settled[i], false); err != nil {
				return err
			}
		}

		if err := tx.DeleteTransaction(ctx, paymentID); err != nil {
			return err
		}
		return s.limits.Recalculate(ctx, tx, cardID)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Invoice payment undone", "card_id", cardID, "payment_id", paymentID)
	s.publish(ctx, Event{
		Kind:        EventTransactionDeleted,
		EntityID:    paymentID,
		HouseholdID: householdID,
		OccurredAt:  time.Now(),
	})
	return nil
}

func (s *Invoices) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", ev.Kind, "entity_id", ev.EntityID, "error", err)
	}
}
