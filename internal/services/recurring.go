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

// Recurring executes scheduling rules into concrete transactions. Execution
// is idempotent per (rule, calendar day): a second run for the same due
// date creates nothing but still advances the schedule.
type Recurring struct {
	store  storage.Store
	txns   *Transactions
	events EventPublisher
}

func NewRecurring(store storage.Store, txns *Transactions, events EventPublisher) *Recurring {
	return &Recurring{store: store, txns: txns, events: events}
}

// RuleInput describes a new or edited recurring rule.
type RuleInput struct {
	HouseholdID string
	AccountID   string
	CategoryTag string
	Description string
	Amount      decimal.Decimal
	Frequency   core.Frequency
	StartDate   time.Time
	EndDate     *time.Time
}

// CreateRule stores a rule and immediately catches up if it is already due:
// a rule authored after today's scan must not wait a full cycle. Catch-up
// failures are logged, never surfaced: they must not block the write they
// piggy-back on.
func (r *Recurring) CreateRule(ctx context.Context, in RuleInput) (*core.RecurringRule, error) {
	rule := &core.RecurringRule{
		ID:          uuid.NewString(),
		HouseholdID: in.HouseholdID,
		AccountID:   in.AccountID,
		CategoryTag: in.CategoryTag,
		Description: in.Description,
		Amount:      in.Amount,
		Frequency:   in.Frequency,
		StartDate:   core.DateOnly(in.StartDate),
		EndDate:     in.EndDate,
		NextRunAt:   core.DateOnly(in.StartDate),
		IsActive:    true,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}

	r.catchUp(ctx, rule)
	return rule, nil
}

// UpdateRule replaces a rule's schedule fields and catches up when the
// edit left it due.
func (r *Recurring) UpdateRule(ctx context.Context, id string, in RuleInput) (*core.RecurringRule, error) {
	var rule *core.RecurringRule
	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		existing, err := tx.GetRule(ctx, id)
		if err != nil {
			return err
		}

		existing.AccountID = in.AccountID
		existing.CategoryTag = in.CategoryTag
		existing.Description = in.Description
		existing.Amount = in.Amount
		existing.Frequency = in.Frequency
		existing.StartDate = core.DateOnly(in.StartDate)
		existing.EndDate = in.EndDate
		if existing.NextRunAt.Before(existing.StartDate) {
			existing.NextRunAt = existing.StartDate
		}
		if err := existing.Validate(); err != nil {
			return err
		}
		rule = existing
		return tx.UpdateRule(ctx, existing)
	})
	if err != nil {
		return nil, err
	}

	r.catchUp(ctx, rule)
	return rule, nil
}

// catchUp executes a freshly written rule when its next occurrence is
// already due and its start date has passed.
func (r *Recurring) catchUp(ctx context.Context, rule *core.RecurringRule) {
	today := core.DateOnly(time.Now())
	if !rule.IsActive || rule.NextRunAt.After(today) || rule.StartDate.After(today) {
		return
	}
	if _, err := r.Execute(ctx, rule.ID, rule.NextRunAt, true); err != nil {
		slog.ErrorContext(ctx, "Recurring catch-up failed",
			"rule_id", rule.ID, "due", rule.NextRunAt.Format("2006-01-02"), "error", err)
	}
}

// DeleteRule removes a rule. Transactions it produced keep their
// provenance reference.
func (r *Recurring) DeleteRule(ctx context.Context, id string) error {
	return r.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteRule(ctx, id)
	})
}

// Execute turns one due occurrence of a rule into a concrete transaction
// and advances the schedule, inside one unit of work. When the occurrence
// was already produced it only advances the schedule, so a crashed or
// re-run batch never sticks on the same due date.
func (r *Recurring) Execute(ctx context.Context, ruleID string, date time.Time, paid bool) (*core.Transaction, error) {
	date = core.DateOnly(date)

	var (
		created *core.Transaction
		skipped bool
	)
	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		rule, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if !rule.IsActive {
			return core.BadRequestf("recurring rule %s is inactive", ruleID)
		}

		existing, err := tx.FindRecurrence(ctx, rule.HouseholdID, ruleID, date)
		if err != nil {
			return err
		}
		if existing != nil {
			skipped = true
			created = existing
		} else {
			created, err = r.txns.createMovementInTx(ctx, tx, CreateTransactionInput{
				HouseholdID:     rule.HouseholdID,
				AccountID:       rule.AccountID,
				Amount:          rule.Amount,
				CategoryTag:     rule.CategoryTag,
				Description:     rule.Description,
				Date:            date,
				Paid:            paid,
				RecurringRuleID: rule.ID,
			})
			if err != nil {
				return err
			}
		}

		next, err := core.NextRunDate(date, rule.Frequency)
		if err != nil {
			return err
		}
		rule.NextRunAt = next
		lastRun := date
		rule.LastRunDate = &lastRun
		if rule.EndDate != nil && next.After(*rule.EndDate) {
			rule.IsActive = false
		}
		return tx.UpdateRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}

	if skipped {
		slog.InfoContext(ctx, "Recurring occurrence already produced, schedule advanced",
			"rule_id", ruleID, "date", date.Format("2006-01-02"))
		return created, nil
	}

	slog.InfoContext(ctx, "Recurring rule executed",
		"rule_id", ruleID, "date", date.Format("2006-01-02"), "transaction_id", created.ID)
	if r.events != nil {
		if err := r.events.Publish(ctx, Event{
			Kind:        EventRecurringExecuted,
			EntityID:    created.ID,
			HouseholdID: created.HouseholdID,
			OccurredAt:  time.Now(),
		}); err != nil {
			slog.ErrorContext(ctx, "Failed to publish ledger event",
				"kind", EventRecurringExecuted, "entity_id", created.ID, "error", err)
		}
	}
	return created, nil
}

// ListDue returns the active rules due at or before now, optionally scoped
// to one household.
func (r *Recurring) ListDue(ctx context.Context, now time.Time, householdID string) ([]core.RecurringRule, error) {
	var due []core.RecurringRule
	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		due, err = tx.ListDueRules(ctx, core.DateOnly(now), householdID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list due rules: %w", err)
	}
	return due, nil
}

// ExecFunc executes one rule occurrence.
type ExecFunc func(ctx context.Context, ruleID string, date time.Time) error

// RunDue processes a batch of due rules, continuing past per-item failures
// and collecting them for the summary. It is a pure loop over its inputs:
// the trigger mechanism (cron, worker ticker) lives with the caller.
func RunDue(ctx context.Context, now time.Time, rules []core.RecurringRule, exec ExecFunc) (int, []error) {
	executed := 0
	var errs []error
	for _, rule := range rules {
		if err := exec(ctx, rule.ID, rule.NextRunAt); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		executed++
	}
	return executed, errs
}

// ProcessDue scans for due rules and executes each one as paid, reporting
// per-rule failures without aborting the batch.
func (r *Recurring) ProcessDue(ctx context.Context, now time.Time) (int, []error) {
	due, err := r.ListDue(ctx, now, "")
	if err != nil {
		return 0, []error{err}
	}

	slog.InfoContext(ctx, "Processing due recurring rules",
		"total_due", len(due), "processing_date", core.DateOnly(now).Format("2006-01-02"))

	executed, errs := RunDue(ctx, now, due, func(ctx context.Context, ruleID string, date time.Time) error {
		_, err := r.Execute(ctx, ruleID, date, true)
		return err
	})

	slog.InfoContext(ctx, "Recurring batch complete",
		"executed", executed, "failed", len(errs), "total_due", len(due))
	return executed, errs
}
