package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hearth/internal/core"
	"hearth/internal/services"
	"hearth/internal/storage/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.NewStore()
	txns := services.NewTransactions(store, &services.Resolver{}, nil, nil)
	return NewServer(":0",
		services.NewAccounts(store),
		txns,
		services.NewInvoices(store, txns, nil),
		services.NewRecurring(store, txns, nil),
	)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind core.ErrorKind
		want int
	}{
		{core.KindNotFound, http.StatusNotFound},
		{core.KindBadRequest, http.StatusBadRequest},
		{core.KindInsufficientFunds, http.StatusUnprocessableEntity},
		{core.KindForbidden, http.StatusForbidden},
		{core.KindBalanceInconsistency, http.StatusConflict},
		{core.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := statusForKind(tt.kind); got != tt.want {
				t.Errorf("statusForKind(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestAccountAndTransactionFlow(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/accounts", `{
		"household_id": "hh-1",
		"name": "main",
		"type": "CHECKING",
		"opening_balance": "1000"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account status = %d, body %s", rec.Code, rec.Body)
	}
	var acct accountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/transactions", `{
		"household_id": "hh-1",
		"type": "EXPENSE",
		"account_id": "`+acct.ID+`",
		"amount": "150",
		"category": "FOOD",
		"date": "2024-03-15",
		"paid": true
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transaction status = %d, body %s", rec.Code, rec.Body)
	}
	var tr transactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if tr.Date != "2024-03-15" {
		t.Errorf("date = %q, want 2024-03-15", tr.Date)
	}

	rec = doJSON(t, s, http.MethodGet, "/v1/accounts/"+acct.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get account status = %d", rec.Code)
	}
	var got accountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if got.AvailableBalance.String() != "850" {
		t.Errorf("available balance = %s, want 850", got.AvailableBalance)
	}

	rec = doJSON(t, s, http.MethodDelete, "/v1/transactions/"+tr.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete transaction status = %d", rec.Code)
	}
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{
			name:   "missing account",
			method: http.MethodGet,
			path:   "/v1/accounts/nope",
			want:   http.StatusNotFound,
		},
		{
			name:   "malformed body",
			method: http.MethodPost,
			path:   "/v1/accounts",
			body:   `{"name": `,
			want:   http.StatusBadRequest,
		},
		{
			name:   "unknown field rejected",
			method: http.MethodPost,
			path:   "/v1/accounts",
			body:   `{"household_id":"hh-1","name":"x","type":"CASH","surprise":true}`,
			want:   http.StatusBadRequest,
		},
		{
			name:   "bad date format",
			method: http.MethodPost,
			path:   "/v1/transactions",
			body:   `{"household_id":"hh-1","type":"EXPENSE","account_id":"a","amount":"5","category":"FOOD","date":"15/03/2024"}`,
			want:   http.StatusBadRequest,
		},
		{
			name:   "invoice on missing card",
			method: http.MethodGet,
			path:   "/v1/cards/nope/invoice?year=2024&month=3",
			want:   http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err == nil {
				if body["kind"] == "" && body["error"] == "" {
					t.Error("error payload missing kind and error fields")
				}
			}
		})
	}
}

func TestRecurringRuleEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/accounts", `{
		"household_id": "hh-1",
		"name": "main",
		"type": "CHECKING",
		"opening_balance": "500"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account status = %d", rec.Code)
	}
	var acct accountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}

	// Future start keeps catch-up from firing on create.
	rec = doJSON(t, s, http.MethodPost, "/v1/recurring-rules", `{
		"household_id": "hh-1",
		"account_id": "`+acct.ID+`",
		"category": "SUBSCRIPTIONS",
		"description": "streaming",
		"amount": "15",
		"frequency": "MONTHLY",
		"start_date": "2099-01-01"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule status = %d, body %s", rec.Code, rec.Body)
	}
	var rule ruleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rule); err != nil {
		t.Fatalf("decode rule: %v", err)
	}

	rec = doJSON(t, s, http.MethodGet, "/v1/recurring-rules/due?date=2099-01-01&household_id=hh-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list due status = %d", rec.Code)
	}
	var due []ruleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &due); err != nil {
		t.Fatalf("decode due rules: %v", err)
	}
	if len(due) != 1 || due[0].ID != rule.ID {
		t.Fatalf("due rules = %+v, want the created rule", due)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/recurring-rules/"+rule.ID+"/execute", `{
		"date": "2099-01-01",
		"paid": true
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("execute status = %d, body %s", rec.Code, rec.Body)
	}
	var tr transactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if tr.Amount.String() != "15" {
		t.Errorf("amount = %s, want 15", tr.Amount)
	}

	rec = doJSON(t, s, http.MethodGet, "/v1/accounts/"+acct.ID, "")
	var got accountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if got.AvailableBalance.String() != "485" {
		t.Errorf("available balance = %s, want 485", got.AvailableBalance)
	}
}

func TestInsufficientFundsMapsTo422(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/accounts", `{
		"household_id": "hh-1",
		"name": "small",
		"type": "CHECKING",
		"opening_balance": "10"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account status = %d", rec.Code)
	}
	var acct accountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/transactions", `{
		"household_id": "hh-1",
		"type": "EXPENSE",
		"account_id": "`+acct.ID+`",
		"amount": "50",
		"category": "FOOD",
		"date": "2024-03-15",
		"paid": true
	}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 (body %s)", rec.Code, rec.Body)
	}
}
