package services

import (
	"context"
	"testing"
	"time"

	"hearth/internal/core"

	"github.com/shopspring/decimal"
)

func (e *env) cardPurchase(t *testing.T, cardID, amount string, date time.Time, paid bool) *core.Transaction {
	t.Helper()
	tr, err := e.txns.Create(context.Background(), CreateTransactionInput{
		HouseholdID: "hh-1",
		Type:        core.TransactionExpense,
		AccountID:   cardID,
		Amount:      dec(amount),
		CategoryTag: "ENTERTAINMENT",
		Date:        date,
		Paid:        paid,
	})
	if err != nil {
		t.Fatalf("card purchase: %v", err)
	}
	return tr
}

func TestCalculateUsesClosingDayPeriod(t *testing.T) {
	e := newEnv(t)
	card := e.creditCard(t, "2000", 10)

	// The March 2024 period is [Feb 10, Mar 10).
	e.cardPurchase(t, card.ID, "100", time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), false)
	e.cardPurchase(t, card.ID, "40", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), false)
	e.cardPurchase(t, card.ID, "999", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), false)

	inv, err := e.invoices.Calculate(context.Background(), card.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	assertAmount(t, "current debt", inv.CurrentDebt, dec("140"))
	assertAmount(t, "total", inv.Total, dec("140"))
	if !inv.PeriodStart.Equal(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("period start = %s", inv.PeriodStart)
	}
	if !inv.PeriodEnd.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("period end = %s", inv.PeriodEnd)
	}
}

func TestCalculateCalendarMonthWithoutClosingDay(t *testing.T) {
	e := newEnv(t)
	card := e.creditCard(t, "2000", 0)

	e.cardPurchase(t, card.ID, "75", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false)
	e.cardPurchase(t, card.ID, "25", time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), false)
	e.cardPurchase(t, card.ID, "10", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), false)

	inv, err := e.invoices.Calculate(context.Background(), card.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	assertAmount(t, "current debt", inv.CurrentDebt, dec("100"))
}

func TestCalculateExcludesSplitParents(t *testing.T) {
	e := newEnv(t)
	card := e.creditCard(t, "2000", 0)
	funding := e.checking(t, "1000")
	alice := e.checking(t, "400")
	e.membership.funding["alice"] = fundingRef{accountID: alice.ID, householdID: "hh-alice"}

	// A split's primary account never moves money. With the card as the
	// primary, the parent row must not show up as a purchase: otherwise
	// the household would pay the mirror debit and the invoice twice.
	_, err := e.txns.Create(context.Background(), CreateTransactionInput{
		HouseholdID: "hh-1",
		Type:        core.TransactionExpense,
		AccountID:   card.ID,
		Amount:      dec("90"),
		CategoryTag: "ENTERTAINMENT",
		Date:        time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Paid:        true,
		Splits:      []SplitShare{{UserID: "alice", Amount: dec("90"), Paid: true}},
	})
	if err != nil {
		t.Fatalf("create split: %v", err)
	}
	assertAmount(t, "alice available", e.getAccount(t, alice.ID).AvailableBalance, dec("310"))
	assertAmount(t, "card available limit", e.getAccount(t, card.ID).AvailableLimit, dec("2000"))

	inv, err := e.invoices.Calculate(context.Background(), card.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	assertAmount(t, "current debt", inv.CurrentDebt, decimal.Zero)
	assertAmount(t, "total", inv.Total, decimal.Zero)

	// Nothing outstanding, so there is nothing to pay.
	_, err = e.invoices.Pay(context.Background(), PayInput{
		CardID:           card.ID,
		FundingAccountID: funding.ID,
		Year:             2024,
		Month:            time.March,
		Date:             time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	if !core.IsKind(err, core.KindBadRequest) {
		t.Fatalf("Pay() error = %v, want bad_request", err)
	}
	assertAmount(t, "funding untouched", e.getAccount(t, funding.ID).AvailableBalance, dec("1000"))
}

func TestCalculateCarriesUnpaidPreviousBalance(t *testing.T) {
	e := newEnv(t)
	card := e.creditCard(t, "2000", 0)

	e.cardPurchase(t, card.ID, "300", time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), false)
	e.cardPurchase(t, card.ID, "120", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false)

	inv, err := e.invoices.Calculate(context.Background(), card.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	assertAmount(t, "previous balance", inv.PreviousBalance, dec("300"))
	assertAmount(t, "current debt", inv.CurrentDebt, dec("120"))
	assertAmount(t, "total", inv.Total, dec("420"))
}

func TestCalculateRefundsReduceDebt(t *testing.T) {
	e := newEnv(t)
	card := e.creditCard(t, "2000", 0)

	e.cardPurchase(t, card.ID, "200", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false)
	_, err := e.txns.Create(context.Background(), CreateTransactionInput{
		HouseholdID: "hh-1",
		Type:        core.TransactionIncome,
		AccountID:   card.ID,
		Amount:      dec("50"),
		CategoryTag: "OTHER_INCOME",
		Date:        time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Paid:        false,
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}

	inv, err := e.invoices.Calculate(context.Background(), card.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	assertAmount(t, "current debt", inv.CurrentDebt, dec("150"))
}

func TestCalculateRejectsNonCreditAccount(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "100")

	_, err := e.invoices.Calculate(context.Background(), acct.ID, 2024, time.March)
	if !core.IsKind(err, core.KindBadRequest) {
		t.Errorf("error = %v, want bad_request", err)
	}
}

func TestPayPartialThenUndo(t *testing.T) {
	e := newEnv(t)
	funding := e.checking(t, "1000")
	card := e.creditCard(t, "2000", 0)

	e.cardPurchase(t, card.ID, "500", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false)

	amount := dec("300")
	payment, err := e.invoices.Pay(context.Background(), PayInput{
		CardID:           card.ID,
		FundingAccountID: funding.ID,
		Year:             2024,
		Month:            time.March,
		Amount:           &amount,
		Date:             time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Pay() error = %v", err)
	}
	if got := payment.Attachment.String(); got != "invoice_pay:"+card.ID+":2024-2" {
		t.Errorf("payment marker = %q", got)
	}

	assertAmount(t, "funding available", e.getAccount(t, funding.ID).AvailableBalance, dec("700"))
	// Settling the 500 purchase raises the card balance; the payment
	// takes 300 back off.
	assertAmount(t, "card balance", e.getAccount(t, card.ID).TotalBalance, dec("200"))

	inv, err := e.invoices.Calculate(context.Background(), card.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("Calculate() after pay error = %v", err)
	}
	assertAmount(t, "outstanding", inv.Total, dec("200"))
	assertAmount(t, "payments", inv.Payments, dec("300"))

	if err := e.invoices.UndoPayment(context.Background(), card.ID, payment.ID); err != nil {
		t.Fatalf("UndoPayment() error = %v", err)
	}

	assertAmount(t, "funding restored", e.getAccount(t, funding.ID).AvailableBalance, dec("1000"))
	assertAmount(t, "card debt back to pending", e.getAccount(t, card.ID).TotalBalance, decimal.Zero)

	inv, err = e.invoices.Calculate(context.Background(), card.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("Calculate() after undo error = %v", err)
	}
	assertAmount(t, "total restored", inv.Total, dec("500"))
	assertAmount(t, "payments cleared", inv.Payments, decimal.Zero)
}

func TestPayFullInvoiceSettlesPurchases(t *testing.T) {
	e := newEnv(t)
	funding := e.checking(t, "1000")
	card := e.creditCard(t, "2000", 0)

	p1 := e.cardPurchase(t, card.ID, "120", time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), false)
	p2 := e.cardPurchase(t, card.ID, "80", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), false)

	_, err := e.invoices.Pay(context.Background(), PayInput{
		CardID:           card.ID,
		FundingAccountID: funding.ID,
		Year:             2024,
		Month:            time.March,
		Date:             time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Pay() error = %v", err)
	}

	for _, id := range []string{p1.ID, p2.ID} {
		if !e.getTransaction(t, id).Paid {
			t.Errorf("purchase %s still pending after full payment", id)
		}
	}
	assertAmount(t, "funding available", e.getAccount(t, funding.ID).AvailableBalance, dec("800"))
	assertAmount(t, "card balance", e.getAccount(t, card.ID).TotalBalance, decimal.Zero)
	assertAmount(t, "available limit restored", e.getAccount(t, card.ID).AvailableLimit, dec("2000"))
}

func TestPayRejectsZeroInvoice(t *testing.T) {
	e := newEnv(t)
	funding := e.checking(t, "1000")
	card := e.creditCard(t, "2000", 0)

	_, err := e.invoices.Pay(context.Background(), PayInput{
		CardID:           card.ID,
		FundingAccountID: funding.ID,
		Year:             2024,
		Month:            time.March,
		Date:             testDay,
	})
	if !core.IsKind(err, core.KindBadRequest) {
		t.Errorf("error = %v, want bad_request", err)
	}
}

func TestPayRejectsCreditFundingAccount(t *testing.T) {
	e := newEnv(t)
	otherCard := e.creditCard(t, "1000", 0)
	card := e.creditCard(t, "2000", 0)
	e.cardPurchase(t, card.ID, "50", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false)

	_, err := e.invoices.Pay(context.Background(), PayInput{
		CardID:           card.ID,
		FundingAccountID: otherCard.ID,
		Year:             2024,
		Month:            time.March,
		Date:             testDay,
	})
	if !core.IsKind(err, core.KindBadRequest) {
		t.Errorf("error = %v, want bad_request", err)
	}
}

func TestUndoPaymentRejectsWrongCard(t *testing.T) {
	e := newEnv(t)
	funding := e.checking(t, "1000")
	card := e.creditCard(t, "2000", 0)
	e.cardPurchase(t, card.ID, "50", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false)

	payment, err := e.invoices.Pay(context.Background(), PayInput{
		CardID:           card.ID,
		FundingAccountID: funding.ID,
		Year:             2024,
		Month:            time.March,
		Date:             testDay,
	})
	if err != nil {
		t.Fatalf("Pay() error = %v", err)
	}

	err = e.invoices.UndoPayment(context.Background(), "some-other-card", payment.ID)
	if !core.IsKind(err, core.KindBadRequest) {
		t.Errorf("error = %v, want bad_request", err)
	}
}

func TestPaymentRowIsLockedAgainstDirectEdits(t *testing.T) {
	e := newEnv(t)
	funding := e.checking(t, "1000")
	card := e.creditCard(t, "2000", 0)
	e.cardPurchase(t, card.ID, "50", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false)

	payment, err := e.invoices.Pay(context.Background(), PayInput{
		CardID:           card.ID,
		FundingAccountID: funding.ID,
		Year:             2024,
		Month:            time.March,
		Date:             testDay,
	})
	if err != nil {
		t.Fatalf("Pay() error = %v", err)
	}

	newAmount := dec("10")
	if _, err := e.txns.Update(context.Background(), payment.ID, UpdateTransactionInput{Amount: &newAmount}); !core.IsKind(err, core.KindBadRequest) {
		t.Errorf("Update() error = %v, want bad_request", err)
	}
	if err := e.txns.Delete(context.Background(), payment.ID); !core.IsKind(err, core.KindBadRequest) {
		t.Errorf("Delete() error = %v, want bad_request", err)
	}
}
