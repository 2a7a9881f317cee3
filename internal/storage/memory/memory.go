// Package memory provides an in-memory Store used by tests and by the
// memory data backend. Semantics match the sqlite store: each unit of work
// is atomic, rolling back all changes when the callback fails.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"hearth/internal/core"
	"hearth/internal/storage"
)

type state struct {
	accounts     map[string]*core.Account
	transactions map[string]*core.Transaction
	splits       map[string]*core.TransactionSplit
	rules        map[string]*core.RecurringRule
}

func newState() *state {
	return &state{
		accounts:     make(map[string]*core.Account),
		transactions: make(map[string]*core.Transaction),
		splits:       make(map[string]*core.TransactionSplit),
		rules:        make(map[string]*core.RecurringRule),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, a := range s.accounts {
		cp := *a
		c.accounts[id] = &cp
	}
	for id, t := range s.transactions {
		cp := *t
		c.transactions[id] = &cp
	}
	for id, sp := range s.splits {
		cp := *sp
		c.splits[id] = &cp
	}
	for id, r := range s.rules {
		cp := *r
		if r.EndDate != nil {
			v := *r.EndDate
			cp.EndDate = &v
		}
		if r.LastRunDate != nil {
			v := *r.LastRunDate
			cp.LastRunDate = &v
		}
		c.rules[id] = &cp
	}
	return c
}

// Store is the in-memory storage.Store implementation.
type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) Close() error { return nil }

// WithTx implements storage.Store. The state is snapshotted before fn runs
// and restored when fn fails, so partial mutations never leak.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memTx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

type memTx struct {
	st *state
}

// --- accounts ---

func (t *memTx) GetAccount(_ context.Context, id string) (*core.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return nil, core.NotFoundf("account %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) InsertAccount(_ context.Context, a *core.Account) error {
	cp := *a
	t.st.accounts[a.ID] = &cp
	return nil
}

func (t *memTx) UpdateAccountBalances(_ context.Context, a *core.Account) error {
	cur, ok := t.st.accounts[a.ID]
	if !ok {
		return core.NotFoundf("account %s not found", a.ID)
	}
	cur.TotalBalance = a.TotalBalance
	cur.AvailableBalance = a.AvailableBalance
	cur.AllocatedBalance = a.AllocatedBalance
	cur.Balance = a.Balance
	cur.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) UpdateAccountLimits(_ context.Context, a *core.Account) error {
	cur, ok := t.st.accounts[a.ID]
	if !ok {
		return core.NotFoundf("account %s not found", a.ID)
	}
	cur.CreditLimit = a.CreditLimit
	cur.TotalLimit = a.TotalLimit
	cur.AvailableLimit = a.AvailableLimit
	cur.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) RetireAccount(_ context.Context, id string) error {
	cur, ok := t.st.accounts[id]
	if !ok {
		return core.NotFoundf("account %s not found", id)
	}
	cur.IsActive = false
	return nil
}

func (t *memTx) DetachAccountTransactions(_ context.Context, id string) error {
	for _, tr := range t.st.transactions {
		if tr.AccountID == id {
			tr.AccountID = ""
		}
		if tr.FromAccountID == id {
			tr.FromAccountID = ""
		}
		if tr.ToAccountID == id {
			tr.ToAccountID = ""
		}
	}
	return nil
}

func (t *memTx) DeleteAccount(_ context.Context, id string) error {
	if _, ok := t.st.accounts[id]; !ok {
		return core.NotFoundf("account %s not found", id)
	}
	delete(t.st.accounts, id)
	return nil
}

// --- transactions ---

func (t *memTx) InsertTransaction(_ context.Context, tr *core.Transaction) error {
	cp := *tr
	t.st.transactions[tr.ID] = &cp
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, id string) (*core.Transaction, error) {
	tr, ok := t.st.transactions[id]
	if !ok {
		return nil, core.NotFoundf("transaction %s not found", id)
	}
	cp := *tr
	return &cp, nil
}

func (t *memTx) UpdateTransaction(_ context.Context, tr *core.Transaction) error {
	if _, ok := t.st.transactions[tr.ID]; !ok {
		return core.NotFoundf("transaction %s not found", tr.ID)
	}
	cp := *tr
	t.st.transactions[tr.ID] = &cp
	return nil
}

func (t *memTx) DeleteTransaction(_ context.Context, id string) error {
	if _, ok := t.st.transactions[id]; !ok {
		return core.NotFoundf("transaction %s not found", id)
	}
	delete(t.st.transactions, id)
	return nil
}

func (t *memTx) ListSplitChildren(_ context.Context, parentID string) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tr := range t.st.transactions {
		if tr.SplitParentID == parentID {
			out = append(out, *tr)
		}
	}
	sortByDate(out)
	return out, nil
}

// --- splits ---

func (t *memTx) InsertSplit(_ context.Context, s *core.TransactionSplit) error {
	cp := *s
	t.st.splits[s.ID] = &cp
	return nil
}

func (t *memTx) ListSplits(_ context.Context, transactionID string) ([]core.TransactionSplit, error) {
	var out []core.TransactionSplit
	for _, s := range t.st.splits {
		if s.TransactionID == transactionID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) DeleteSplits(_ context.Context, transactionID string) error {
	for id, s := range t.st.splits {
		if s.TransactionID == transactionID {
			delete(t.st.splits, id)
		}
	}
	return nil
}

// --- card ledger queries ---

func (t *memTx) ListCardEntries(_ context.Context, cardID string, f storage.EntryFilter) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tr := range t.st.transactions {
		if tr.AccountID != cardID || !tr.Type.Movement() {
			continue
		}
		if tr.IsSplit || tr.Attachment.IsInvoicePayment() {
			continue
		}
		if f.Unpaid != nil && tr.Paid == *f.Unpaid {
			continue
		}
		if !f.Before.IsZero() && !tr.Date.Before(f.Before) {
			continue
		}
		if !f.From.IsZero() && tr.Date.Before(f.From) {
			continue
		}
		if !f.Until.IsZero() && !tr.Date.Before(f.Until) {
			continue
		}
		out = append(out, *tr)
	}
	sortByDate(out)
	return out, nil
}

func (t *memTx) ListAccountTransfers(_ context.Context, accountID string) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tr := range t.st.transactions {
		if tr.Type != core.TransactionTransfer {
			continue
		}
		if tr.FromAccountID != accountID && tr.ToAccountID != accountID {
			continue
		}
		out = append(out, *tr)
	}
	sortByDate(out)
	return out, nil
}

func (t *memTx) ListInvoicePayments(_ context.Context, cardID, exactMarker string, before time.Time) ([]core.Transaction, error) {
	prefix := "invoice_pay:" + cardID + ":"
	var out []core.Transaction
	for _, tr := range t.st.transactions {
		stored := tr.Attachment.String()
		if exactMarker != "" {
			if stored != exactMarker {
				continue
			}
		} else {
			if !strings.HasPrefix(stored, prefix) {
				continue
			}
			if !before.IsZero() && !tr.Date.Before(before) {
				continue
			}
		}
		out = append(out, *tr)
	}
	sortByDate(out)
	return out, nil
}

// --- recurring rules ---

func (t *memTx) InsertRule(_ context.Context, r *core.RecurringRule) error {
	cp := *r
	t.st.rules[r.ID] = &cp
	return nil
}

func (t *memTx) GetRule(_ context.Context, id string) (*core.RecurringRule, error) {
	r, ok := t.st.rules[id]
	if !ok {
		return nil, core.NotFoundf("recurring rule %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) UpdateRule(_ context.Context, r *core.RecurringRule) error {
	if _, ok := t.st.rules[r.ID]; !ok {
		return core.NotFoundf("recurring rule %s not found", r.ID)
	}
	cp := *r
	t.st.rules[r.ID] = &cp
	return nil
}

func (t *memTx) DeleteRule(_ context.Context, id string) error {
	if _, ok := t.st.rules[id]; !ok {
		return core.NotFoundf("recurring rule %s not found", id)
	}
	delete(t.st.rules, id)
	return nil
}

func (t *memTx) ListDueRules(_ context.Context, now time.Time, householdID string) ([]core.RecurringRule, error) {
	var out []core.RecurringRule
	for _, r := range t.st.rules {
		if !r.IsActive || r.NextRunAt.After(now) {
			continue
		}
		if householdID != "" && r.HouseholdID != householdID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (t *memTx) FindRecurrence(_ context.Context, householdID, ruleID string, date time.Time) (*core.Transaction, error) {
	for _, tr := range t.st.transactions {
		if tr.HouseholdID == householdID && tr.RecurringTransactionID == ruleID && core.SameDay(tr.Date, date) {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, nil
}

func sortByDate(txs []core.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Date.Equal(txs[j].Date) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].Date.Before(txs[j].Date)
	})
}
