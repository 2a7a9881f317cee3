package http

import (
	"net/http"
	"time"

	"hearth/internal/core"
	"hearth/internal/services"

	"github.com/shopspring/decimal"
)

type accountResponse struct {
	ID               string          `json:"id"`
	HouseholdID      string          `json:"household_id"`
	Name             string          `json:"name"`
	Type             string          `json:"type"`
	Currency         string          `json:"currency"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	AllocatedBalance decimal.Decimal `json:"allocated_balance"`
	CreditLimit      decimal.Decimal `json:"credit_limit,omitempty"`
	TotalLimit       decimal.Decimal `json:"total_limit,omitempty"`
	AvailableLimit   decimal.Decimal `json:"available_limit,omitempty"`
	ClosingDay       int             `json:"closing_day,omitempty"`
	DueDay           int             `json:"due_day,omitempty"`
	IsActive         bool            `json:"is_active"`
}

func toAccountResponse(a *core.Account) accountResponse {
	return accountResponse{
		ID:               a.ID,
		HouseholdID:      a.HouseholdID,
		Name:             a.Name,
		Type:             string(a.Type),
		Currency:         a.Currency,
		TotalBalance:     a.TotalBalance,
		AvailableBalance: a.AvailableBalance,
		AllocatedBalance: a.AllocatedBalance,
		CreditLimit:      a.CreditLimit,
		TotalLimit:       a.TotalLimit,
		AvailableLimit:   a.AvailableLimit,
		ClosingDay:       a.ClosingDay,
		DueDay:           a.DueDay,
		IsActive:         a.IsActive,
	}
}

type transactionResponse struct {
	ID            string          `json:"id"`
	HouseholdID   string          `json:"household_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	AccountID     string          `json:"account_id,omitempty"`
	FromAccountID string          `json:"from_account_id,omitempty"`
	ToAccountID   string          `json:"to_account_id,omitempty"`
	Category      string          `json:"category,omitempty"`
	Description   string          `json:"description,omitempty"`
	Date          string          `json:"date"`
	Paid          bool            `json:"paid"`
	IsSplit       bool            `json:"is_split,omitempty"`
}

func toTransactionResponse(tr *core.Transaction) transactionResponse {
	return transactionResponse{
		ID:            tr.ID,
		HouseholdID:   tr.HouseholdID,
		Type:          string(tr.Type),
		Amount:        tr.Amount,
		AccountID:     tr.AccountID,
		FromAccountID: tr.FromAccountID,
		ToAccountID:   tr.ToAccountID,
		Category:      tr.CategoryTag,
		Description:   tr.Description,
		Date:          tr.Date.Format("2006-01-02"),
		Paid:          tr.Paid,
		IsSplit:       tr.IsSplit,
	}
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HouseholdID     string          `json:"household_id"`
		Name            string          `json:"name"`
		Type            string          `json:"type"`
		Currency        string          `json:"currency"`
		OpeningBalance  decimal.Decimal `json:"opening_balance"`
		CreditLimit     decimal.Decimal `json:"credit_limit"`
		ClosingDay      int             `json:"closing_day"`
		DueDay          int             `json:"due_day"`
		LinkedAccountID string          `json:"linked_account_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	acct, err := s.accounts.Create(r.Context(), services.CreateAccountInput{
		HouseholdID:     body.HouseholdID,
		Name:            body.Name,
		Type:            core.AccountType(body.Type),
		Currency:        body.Currency,
		OpeningBalance:  body.OpeningBalance,
		CreditLimit:     body.CreditLimit,
		ClosingDay:      body.ClosingDay,
		DueDay:          body.DueDay,
		LinkedAccountID: body.LinkedAccountID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(acct))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	if r.URL.Query().Get("hard") == "true" {
		err = s.accounts.HardDelete(r.Context(), id)
	} else {
		err = s.accounts.Retire(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type splitShareBody struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
	Paid   bool            `json:"paid"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HouseholdID string           `json:"household_id"`
		Type        string           `json:"type"`
		AccountID   string           `json:"account_id"`
		Amount      decimal.Decimal  `json:"amount"`
		Category    string           `json:"category"`
		Description string           `json:"description"`
		Date        string           `json:"date"`
		Paid        bool             `json:"paid"`
		Splits      []splitShareBody `json:"splits"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDate(body.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	shares := make([]services.SplitShare, 0, len(body.Splits))
	for _, sp := range body.Splits {
		shares = append(shares, services.SplitShare{UserID: sp.UserID, Amount: sp.Amount, Paid: sp.Paid})
	}

	tr, err := s.txns.Create(r.Context(), services.CreateTransactionInput{
		HouseholdID: body.HouseholdID,
		Type:        core.TransactionType(body.Type),
		AccountID:   body.AccountID,
		Amount:      body.Amount,
		CategoryTag: body.Category,
		Description: body.Description,
		Date:        date,
		Paid:        body.Paid,
		Splits:      shares,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(tr))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type        *string          `json:"type"`
		Amount      *decimal.Decimal `json:"amount"`
		AccountID   *string          `json:"account_id"`
		ToAccountID *string          `json:"to_account_id"`
		CardID      *string          `json:"card_id"`
		Category    *string          `json:"category"`
		Description *string          `json:"description"`
		Date        *string          `json:"date"`
		Paid        *bool            `json:"paid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	in := services.UpdateTransactionInput{
		Amount:          body.Amount,
		AccountID:       body.AccountID,
		ToAccountID:     body.ToAccountID,
		RelatedEntityID: body.CardID,
		CategoryTag:     body.Category,
		Description:     body.Description,
		Paid:            body.Paid,
	}
	if body.Type != nil {
		typ := core.TransactionType(*body.Type)
		in.Type = &typ
	}
	if body.Date != nil {
		date, err := parseDate(*body.Date)
		if err != nil {
			writeError(w, err)
			return
		}
		in.Date = &date
	}

	tr, err := s.txns.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tr))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.txns.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HouseholdID   string          `json:"household_id"`
		FromAccountID string          `json:"from_account_id"`
		ToAccountID   string          `json:"to_account_id"`
		Amount        decimal.Decimal `json:"amount"`
		Description   string          `json:"description"`
		Date          string          `json:"date"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDate(body.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	tr, err := s.txns.CreateTransfer(r.Context(), services.TransferInput{
		HouseholdID:   body.HouseholdID,
		FromAccountID: body.FromAccountID,
		ToAccountID:   body.ToAccountID,
		Amount:        body.Amount,
		Description:   body.Description,
		Date:          date,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(tr))
}

func (s *Server) handleCreateAllocation(w http.ResponseWriter, r *http.Request) {
	s.handleAllocationRow(w, r, false)
}

func (s *Server) handleCreateDeallocation(w http.ResponseWriter, r *http.Request) {
	s.handleAllocationRow(w, r, true)
}

func (s *Server) handleAllocationRow(w http.ResponseWriter, r *http.Request, deallocate bool) {
	var body struct {
		HouseholdID     string          `json:"household_id"`
		SourceAccountID string          `json:"source_account_id"`
		CardID          string          `json:"card_id"`
		Amount          decimal.Decimal `json:"amount"`
		Description     string          `json:"description"`
		Date            string          `json:"date"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDate(body.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	in := services.AllocationInput{
		HouseholdID:     body.HouseholdID,
		SourceAccountID: body.SourceAccountID,
		CardID:          body.CardID,
		Amount:          body.Amount,
		Description:     body.Description,
		Date:            date,
	}

	var tr *core.Transaction
	if deallocate {
		tr, err = s.txns.CreateDeallocation(r.Context(), in)
	} else {
		tr, err = s.txns.CreateAllocation(r.Context(), in)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(tr))
}

type invoiceResponse struct {
	CardID          string          `json:"card_id"`
	Year            int             `json:"year"`
	Month           int             `json:"month"`
	PeriodStart     string          `json:"period_start"`
	PeriodEnd       string          `json:"period_end"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	CurrentDebt     decimal.Decimal `json:"current_debt"`
	Payments        decimal.Decimal `json:"payments"`
	Total           decimal.Decimal `json:"total"`
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	year, month := parseYearMonth(r)
	inv, err := s.invoices.Calculate(r.Context(), r.PathValue("id"), year, month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceResponse{
		CardID:          inv.CardID,
		Year:            inv.Year,
		Month:           int(inv.Month),
		PeriodStart:     inv.PeriodStart.Format("2006-01-02"),
		PeriodEnd:       inv.PeriodEnd.Format("2006-01-02"),
		PreviousBalance: inv.PreviousBalance,
		CurrentDebt:     inv.CurrentDebt,
		Payments:        inv.Payments,
		Total:           inv.Total,
	})
}

func (s *Server) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FundingAccountID string           `json:"funding_account_id"`
		Year             int              `json:"year"`
		Month            int              `json:"month"`
		Amount           *decimal.Decimal `json:"amount"`
		Date             string           `json:"date"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDate(body.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	if body.Month < 1 || body.Month > 12 {
		writeError(w, core.BadRequestf("invalid month %d", body.Month))
		return
	}

	payment, err := s.invoices.Pay(r.Context(), services.PayInput{
		CardID:           r.PathValue("id"),
		FundingAccountID: body.FundingAccountID,
		Year:             body.Year,
		Month:            time.Month(body.Month),
		Amount:           body.Amount,
		Date:             date,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(payment))
}

func (s *Server) handleUndoInvoicePayment(w http.ResponseWriter, r *http.Request) {
	err := s.invoices.UndoPayment(r.Context(), r.PathValue("id"), r.PathValue("paymentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ruleBody struct {
	HouseholdID string          `json:"household_id"`
	AccountID   string          `json:"account_id"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Frequency   string          `json:"frequency"`
	StartDate   string          `json:"start_date"`
	EndDate     *string         `json:"end_date"`
}

func (b ruleBody) toInput() (services.RuleInput, error) {
	start, err := parseDate(b.StartDate)
	if err != nil {
		return services.RuleInput{}, err
	}
	in := services.RuleInput{
		HouseholdID: b.HouseholdID,
		AccountID:   b.AccountID,
		CategoryTag: b.Category,
		Description: b.Description,
		Amount:      b.Amount,
		Frequency:   core.Frequency(b.Frequency),
		StartDate:   start,
	}
	if b.EndDate != nil {
		end, err := parseDate(*b.EndDate)
		if err != nil {
			return services.RuleInput{}, err
		}
		in.EndDate = &end
	}
	return in, nil
}

type ruleResponse struct {
	ID          string          `json:"id"`
	HouseholdID string          `json:"household_id"`
	AccountID   string          `json:"account_id"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Frequency   string          `json:"frequency"`
	StartDate   string          `json:"start_date"`
	EndDate     *string         `json:"end_date,omitempty"`
	NextRunAt   string          `json:"next_run_at"`
	IsActive    bool            `json:"is_active"`
}

func toRuleResponse(rule *core.RecurringRule) ruleResponse {
	resp := ruleResponse{
		ID:          rule.ID,
		HouseholdID: rule.HouseholdID,
		AccountID:   rule.AccountID,
		Category:    rule.CategoryTag,
		Description: rule.Description,
		Amount:      rule.Amount,
		Frequency:   string(rule.Frequency),
		StartDate:   rule.StartDate.Format("2006-01-02"),
		NextRunAt:   rule.NextRunAt.Format("2006-01-02"),
		IsActive:    rule.IsActive,
	}
	if rule.EndDate != nil {
		end := rule.EndDate.Format("2006-01-02")
		resp.EndDate = &end
	}
	return resp
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	in, err := body.toInput()
	if err != nil {
		writeError(w, err)
		return
	}

	rule, err := s.recurring.CreateRule(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResponse(rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	in, err := body.toInput()
	if err != nil {
		writeError(w, err)
		return
	}

	rule, err := s.recurring.UpdateRule(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.recurring.DeleteRule(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDueRules(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := parseDate(d)
		if err != nil {
			writeError(w, err)
			return
		}
		now = parsed
	}

	rules, err := s.recurring.ListDue(r.Context(), now, r.URL.Query().Get("household_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for i := range rules {
		out = append(out, toRuleResponse(&rules[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExecuteRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date string `json:"date"`
		Paid bool   `json:"paid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDate(body.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	tr, err := s.recurring.Execute(r.Context(), r.PathValue("id"), date, body.Paid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(tr))
}

func (s *Server) handleProcessDue(w http.ResponseWriter, r *http.Request) {
	executed, errs := s.recurring.ProcessDue(r.Context(), time.Now())
	failures := make([]string, 0, len(errs))
	for _, err := range errs {
		failures = append(failures, err.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executed": executed,
		"failed":   len(errs),
		"failures": failures,
	})
}
