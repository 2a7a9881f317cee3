// Package services implements the ledger operations: balance mutation,
// credit-limit recalculation, transaction processing, invoice computation
// and recurring execution. Each exported operation is one atomic unit of
// work against the store.
package services

import (
	"context"
	"time"

	"hearth/internal/core"
)

// CategoryResolver classifies a parsed category into the one capability the
// ledger needs. System literals resolve from the fixed table; custom
// categories are looked up in the household's catalog by the collaborator.
type CategoryResolver interface {
	Classify(ctx context.Context, householdID string, c core.Category) (core.CategoryClass, error)
}

// MembershipResolver maps a split participant to their personal funding
// account. Implementations return a Forbidden ledger error when the user
// has no eligible shared account.
type MembershipResolver interface {
	FundingAccount(ctx context.Context, userID string) (accountID, householdID string, err error)
}

// Event is a committed-ledger notification published after a unit of work
// commits. Payloads stay small: consumers fetch details themselves.
type Event struct {
	Kind        string    `json:"kind"`
	EntityID    string    `json:"entity_id"`
	HouseholdID string    `json:"household_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	EventTransactionCommitted = "transaction.committed"
	EventTransactionDeleted   = "transaction.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventRecurringExecuted    = "recurring.executed"
)

// EventPublisher delivers events to interested consumers. Publishing is
// best-effort: failures are logged by the services and never abort the
// write they follow.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// CustomCategoryLookup resolves a household's custom category id to its
// classification. The catalog itself lives with a collaborator.
type CustomCategoryLookup func(ctx context.Context, householdID, customID string) (core.CategoryClass, error)

// Resolver is the default CategoryResolver: fixed system table plus an
// optional custom-category lookup.
type Resolver struct {
	Custom CustomCategoryLookup
}

func (r *Resolver) Classify(ctx context.Context, householdID string, c core.Category) (core.CategoryClass, error) {
	switch c.Kind {
	case core.CategoryCustom:
		if r.Custom == nil {
			return core.CategoryClass{}, core.NotFoundf("custom category %s not found", c.CustomID)
		}
		return r.Custom(ctx, householdID, c.CustomID)
	default:
		if class, ok := core.SystemCategoryClass(c.Name); ok {
			return class, nil
		}
		return core.CategoryClass{}, core.BadRequestf("unknown system category %q", c.Name)
	}
}
