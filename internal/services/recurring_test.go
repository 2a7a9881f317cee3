package services

import (
	"context"
	"testing"
	"time"

	"hearth/internal/core"
	"hearth/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (e *env) seedRule(t *testing.T, rule core.RecurringRule) *core.RecurringRule {
	t.Helper()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.HouseholdID == "" {
		rule.HouseholdID = "hh-1"
	}
	if rule.CategoryTag == "" {
		rule.CategoryTag = "SUBSCRIPTIONS"
	}
	if rule.Frequency == "" {
		rule.Frequency = core.FrequencyMonthly
	}
	if rule.NextRunAt.IsZero() {
		rule.NextRunAt = rule.StartDate
	}
	rule.IsActive = true

	err := e.store.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertRule(context.Background(), &rule)
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return &rule
}

func (e *env) getRule(t *testing.T, id string) *core.RecurringRule {
	t.Helper()
	var rule *core.RecurringRule
	err := e.store.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		rule, err = tx.GetRule(context.Background(), id)
		return err
	})
	if err != nil {
		t.Fatalf("get rule %s: %v", id, err)
	}
	return rule
}

func (e *env) accountEntries(t *testing.T, accountID string) []core.Transaction {
	t.Helper()
	var rows []core.Transaction
	err := e.store.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		rows, err = tx.ListCardEntries(context.Background(), accountID, storage.EntryFilter{})
		return err
	})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	return rows
}

func TestCreateRuleValidation(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")

	tests := []struct {
		name string
		in   RuleInput
	}{
		{
			name: "non-positive amount",
			in: RuleInput{
				HouseholdID: "hh-1", AccountID: acct.ID, CategoryTag: "HOUSING",
				Amount: decimal.Zero, Frequency: core.FrequencyMonthly, StartDate: testDay,
			},
		},
		{
			name: "bad frequency",
			in: RuleInput{
				HouseholdID: "hh-1", AccountID: acct.ID, CategoryTag: "HOUSING",
				Amount: dec("10"), Frequency: "SOMETIMES", StartDate: testDay,
			},
		},
		{
			name: "end before start",
			in: func() RuleInput {
				end := testDay.AddDate(0, -1, 0)
				return RuleInput{
					HouseholdID: "hh-1", AccountID: acct.ID, CategoryTag: "HOUSING",
					Amount: dec("10"), Frequency: core.FrequencyMonthly,
					StartDate: testDay, EndDate: &end,
				}
			}(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.recurring.CreateRule(context.Background(), tt.in)
			if !core.IsKind(err, core.KindBadRequest) {
				t.Errorf("error = %v, want bad_request", err)
			}
		})
	}
}

func TestCreateRuleFutureStartDoesNotExecute(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")
	start := core.DateOnly(time.Now()).AddDate(0, 1, 0)

	rule, err := e.recurring.CreateRule(context.Background(), RuleInput{
		HouseholdID: "hh-1",
		AccountID:   acct.ID,
		CategoryTag: "HOUSING",
		Amount:      dec("750"),
		Frequency:   core.FrequencyMonthly,
		StartDate:   start,
	})
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	if !rule.NextRunAt.Equal(start) {
		t.Errorf("NextRunAt = %s, want %s", rule.NextRunAt, start)
	}
	if got := e.accountEntries(t, acct.ID); len(got) != 0 {
		t.Errorf("got %d transactions before the start date, want 0", len(got))
	}
	assertAmount(t, "available", e.getAccount(t, acct.ID).AvailableBalance, dec("1000"))
}

func TestCreateRuleCatchesUpWhenAlreadyDue(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")
	start := core.DateOnly(time.Now()).AddDate(0, 0, -1)

	rule, err := e.recurring.CreateRule(context.Background(), RuleInput{
		HouseholdID: "hh-1",
		AccountID:   acct.ID,
		CategoryTag: "SUBSCRIPTIONS",
		Amount:      dec("15"),
		Frequency:   core.FrequencyMonthly,
		StartDate:   start,
	})
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	entries := e.accountEntries(t, acct.ID)
	if len(entries) != 1 {
		t.Fatalf("got %d transactions, want 1", len(entries))
	}
	if entries[0].RecurringTransactionID != rule.ID {
		t.Errorf("provenance = %q, want %q", entries[0].RecurringTransactionID, rule.ID)
	}
	assertAmount(t, "available", e.getAccount(t, acct.ID).AvailableBalance, dec("985"))

	stored := e.getRule(t, rule.ID)
	if !stored.NextRunAt.After(start) {
		t.Errorf("NextRunAt = %s not advanced past %s", stored.NextRunAt, start)
	}
}

func TestExecuteIsIdempotentPerDay(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")
	rule := e.seedRule(t, core.RecurringRule{
		AccountID: acct.ID,
		Amount:    dec("50"),
		StartDate: testDay,
	})

	for i := 0; i < 2; i++ {
		if _, err := e.recurring.Execute(context.Background(), rule.ID, testDay, true); err != nil {
			t.Fatalf("Execute() run %d error = %v", i+1, err)
		}
	}

	if got := e.accountEntries(t, acct.ID); len(got) != 1 {
		t.Errorf("got %d transactions for one due date, want 1", len(got))
	}
	assertAmount(t, "available charged once", e.getAccount(t, acct.ID).AvailableBalance, dec("950"))

	// The schedule still advanced on the skipped run.
	stored := e.getRule(t, rule.ID)
	want := testDay.AddDate(0, 1, 0)
	if !stored.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %s, want %s", stored.NextRunAt, want)
	}
}

func TestExecuteAdvancesScheduleAndDeactivates(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")
	end := testDay
	rule := e.seedRule(t, core.RecurringRule{
		AccountID: acct.ID,
		Amount:    dec("20"),
		StartDate: testDay,
		EndDate:   &end,
	})

	if _, err := e.recurring.Execute(context.Background(), rule.ID, testDay, true); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	stored := e.getRule(t, rule.ID)
	if stored.IsActive {
		t.Error("rule still active past its end date")
	}
	if stored.LastRunDate == nil || !stored.LastRunDate.Equal(testDay) {
		t.Errorf("LastRunDate = %v, want %s", stored.LastRunDate, testDay)
	}

	_, err := e.recurring.Execute(context.Background(), rule.ID, stored.NextRunAt, true)
	if !core.IsKind(err, core.KindBadRequest) {
		t.Errorf("execute on inactive rule: error = %v, want bad_request", err)
	}
}

func TestExecuteUnpaidLeavesBalanceUntouched(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")
	rule := e.seedRule(t, core.RecurringRule{
		AccountID: acct.ID,
		Amount:    dec("50"),
		StartDate: testDay,
	})

	tr, err := e.recurring.Execute(context.Background(), rule.ID, testDay, false)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if tr.Paid {
		t.Error("transaction marked paid")
	}
	assertAmount(t, "available", e.getAccount(t, acct.ID).AvailableBalance, dec("1000"))
}

func TestListDueFiltersByDateAndHousehold(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")

	due := e.seedRule(t, core.RecurringRule{
		AccountID: acct.ID, Amount: dec("10"), StartDate: testDay,
	})
	e.seedRule(t, core.RecurringRule{
		AccountID: acct.ID, Amount: dec("10"), StartDate: testDay.AddDate(0, 2, 0),
	})
	e.seedRule(t, core.RecurringRule{
		HouseholdID: "hh-other", AccountID: acct.ID, Amount: dec("10"), StartDate: testDay,
	})

	got, err := e.recurring.ListDue(context.Background(), testDay, "hh-1")
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("ListDue() = %d rules, want exactly the due hh-1 rule", len(got))
	}

	all, err := e.recurring.ListDue(context.Background(), testDay, "")
	if err != nil {
		t.Fatalf("ListDue(all) error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListDue(all) = %d rules, want 2", len(all))
	}
}

func TestRunDueContinuesPastFailures(t *testing.T) {
	rules := []core.RecurringRule{
		{ID: "r-1", NextRunAt: testDay},
		{ID: "r-2", NextRunAt: testDay},
		{ID: "r-3", NextRunAt: testDay},
	}

	var calls []string
	executed, errs := RunDue(context.Background(), testDay, rules, func(_ context.Context, ruleID string, _ time.Time) error {
		calls = append(calls, ruleID)
		if ruleID == "r-2" {
			return core.NotFoundf("account missing")
		}
		return nil
	})

	if executed != 2 {
		t.Errorf("executed = %d, want 2", executed)
	}
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one error", errs)
	}
	if len(calls) != 3 {
		t.Errorf("exec called %d times, want 3", len(calls))
	}
}

func TestProcessDueExecutesBatchAndReportsFailures(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")

	good := e.seedRule(t, core.RecurringRule{
		AccountID: acct.ID, Amount: dec("30"), StartDate: testDay,
	})
	bad := e.seedRule(t, core.RecurringRule{
		AccountID: "gone-account", Amount: dec("30"), StartDate: testDay,
	})

	executed, errs := e.recurring.ProcessDue(context.Background(), testDay)
	if executed != 1 {
		t.Errorf("executed = %d, want 1", executed)
	}
	if len(errs) != 1 {
		t.Errorf("errs = %v, want one error", errs)
	}

	assertAmount(t, "available", e.getAccount(t, acct.ID).AvailableBalance, dec("970"))
	if stored := e.getRule(t, good.ID); !stored.NextRunAt.After(testDay) {
		t.Errorf("good rule NextRunAt = %s, want advanced", stored.NextRunAt)
	}
	// The failed rule's unit of work rolled back whole, so it stays due.
	if stored := e.getRule(t, bad.ID); !stored.NextRunAt.Equal(testDay) {
		t.Errorf("bad rule NextRunAt = %s, want unchanged", stored.NextRunAt)
	}
}

func TestUpdateRuleFloorsNextRunAtStartDate(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")
	rule := e.seedRule(t, core.RecurringRule{
		AccountID: acct.ID, Amount: dec("10"), StartDate: testDay,
	})

	newStart := core.DateOnly(time.Now()).AddDate(0, 2, 0)
	updated, err := e.recurring.UpdateRule(context.Background(), rule.ID, RuleInput{
		HouseholdID: rule.HouseholdID,
		AccountID:   acct.ID,
		CategoryTag: rule.CategoryTag,
		Amount:      dec("12"),
		Frequency:   core.FrequencyMonthly,
		StartDate:   newStart,
	})
	if err != nil {
		t.Fatalf("UpdateRule() error = %v", err)
	}
	if !updated.NextRunAt.Equal(newStart) {
		t.Errorf("NextRunAt = %s, want floored to %s", updated.NextRunAt, newStart)
	}
	// Pushed into the future, so nothing executed.
	if got := e.accountEntries(t, acct.ID); len(got) != 0 {
		t.Errorf("got %d transactions, want 0", len(got))
	}
}

func TestDeleteRuleKeepsProducedTransactions(t *testing.T) {
	e := newEnv(t)
	acct := e.checking(t, "1000")
	rule := e.seedRule(t, core.RecurringRule{
		AccountID: acct.ID, Amount: dec("25"), StartDate: testDay,
	})

	if _, err := e.recurring.Execute(context.Background(), rule.ID, testDay, true); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := e.recurring.DeleteRule(context.Background(), rule.ID); err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}

	entries := e.accountEntries(t, acct.ID)
	if len(entries) != 1 {
		t.Fatalf("got %d transactions, want 1", len(entries))
	}
	if entries[0].RecurringTransactionID != rule.ID {
		t.Errorf("provenance lost after rule delete: %q", entries[0].RecurringTransactionID)
	}
}
