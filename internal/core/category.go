package core

import "strings"

// CategoryKind discriminates system categories from household-defined ones.
type CategoryKind int

const (
	CategorySystem CategoryKind = iota
	CategoryCustom
)

// customPrefix is the stored-state prefix for household-defined categories.
const customPrefix = "CUSTOM:"

// Category is the parsed form of a transaction's category tag: either a
// system enum literal ("SALARY", "FOOD", ...) or a custom category id.
// Tags are parsed once at the boundary and resolved into a CategoryClass;
// business logic only ever sees the class.
type Category struct {
	Kind     CategoryKind
	Name     string // system literal
	CustomID string // custom category id
}

// CategoryClass is the single capability the ledger needs from a category.
type CategoryClass struct {
	IsIncome bool
}

// ParseCategoryTag decodes a stored category tag.
func ParseCategoryTag(tag string) (Category, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Category{}, BadRequestf("category tag is required")
	}
	if id, ok := strings.CutPrefix(tag, customPrefix); ok {
		if id == "" {
			return Category{}, BadRequestf("custom category tag has empty id")
		}
		return Category{Kind: CategoryCustom, CustomID: id}, nil
	}
	return Category{Kind: CategorySystem, Name: tag}, nil
}

// Tag renders the stored form of the category.
func (c Category) Tag() string {
	if c.Kind == CategoryCustom {
		return customPrefix + c.CustomID
	}
	return c.Name
}

// systemCategories is the fixed classification table for system categories.
var systemCategories = map[string]CategoryClass{
	// income
	"SALARY":            {IsIncome: true},
	"BONUS":             {IsIncome: true},
	"INVESTMENT_RETURN": {IsIncome: true},
	"GIFT_RECEIVED":     {IsIncome: true},
	"REFUND":            {IsIncome: true},
	"RENTAL_INCOME":     {IsIncome: true},
	"OTHER_INCOME":      {IsIncome: true},

	// expense
	"FOOD":          {IsIncome: false},
	"GROCERIES":     {IsIncome: false},
	"HOUSING":       {IsIncome: false},
	"UTILITIES":     {IsIncome: false},
	"TRANSPORT":     {IsIncome: false},
	"HEALTH":        {IsIncome: false},
	"EDUCATION":     {IsIncome: false},
	"ENTERTAINMENT": {IsIncome: false},
	"CLOTHING":      {IsIncome: false},
	"TRAVEL":        {IsIncome: false},
	"PETS":          {IsIncome: false},
	"TAXES":         {IsIncome: false},
	"INSURANCE":     {IsIncome: false},
	"SUBSCRIPTIONS": {IsIncome: false},
	"GIFT_GIVEN":    {IsIncome: false},
	"OTHER_EXPENSE": {IsIncome: false},
}

// SystemCategoryClass looks up the classification of a system category
// literal. ok is false for unknown literals.
func SystemCategoryClass(name string) (CategoryClass, bool) {
	class, ok := systemCategories[name]
	return class, ok
}
