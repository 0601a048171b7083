package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/fastpayer/internal/domain"
	"github.com/punchamoorthee/fastpayer/internal/guard"
	"github.com/punchamoorthee/fastpayer/internal/ledger"
	"github.com/punchamoorthee/fastpayer/internal/service"
	"github.com/punchamoorthee/fastpayer/internal/store"
)

func newHandler(t *testing.T, balance string) *Handler {
	t.Helper()
	st := store.NewMemory()
	require.NoError(t, st.OpenAccount(context.Background(), domain.Account{
		ID:       "fp",
		Currency: "USD",
		Balance:  decimal.RequireFromString(balance),
	}))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	payer := service.NewProcessor(guard.New(st, ledger.New(), log), "fp", log)
	return NewHandler(st, payer)
}

func newServer(t *testing.T, balance string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newHandler(t, balance).Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/payments", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestCreatePayment(t *testing.T) {
	srv := newServer(t, "100.00")
	body := `{"id":"abc","account":"acme","amount":{"currency":"USD","amount":"10.00"},"memo":"hi"}`

	resp, out := post(t, srv, body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "applied", out["status"])
	assert.Equal(t, "/api/v1/payments/abc", resp.Header.Get("Location"))

	resp, out = post(t, srv, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", out["status"])
	assert.Nil(t, out["entry"])
}

func TestCreatePaymentErrors(t *testing.T) {
	srv := newServer(t, "5.00")

	cases := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{"id":`, http.StatusBadRequest},
		{"missing id", `{"amount":"USD 1.00"}`, http.StatusBadRequest},
		{"insufficient funds", `{"id":"big","amount":"USD 50.00"}`, http.StatusUnprocessableEntity},
		{"currency mismatch", `{"id":"eur","amount":"EUR 1.00"}`, http.StatusUnprocessableEntity},
		{"missing amount", `{"id":"x","account":"acme"}`, http.StatusBadRequest},
		{"amount scale", `{"id":"tiny","amount":"USD 1e-20000000"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := post(t, srv, tc.body)
			assert.Equal(t, tc.code, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestGetPayment(t *testing.T) {
	srv := newServer(t, "100.00")
	post(t, srv, `{"id":"abc","amount":"USD 10.00"}`)

	resp, err := http.Get(srv.URL + "/api/v1/payments/abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec domain.PaymentRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.True(t, rec.Applied)
	require.Len(t, rec.Entries, 1)
	assert.Equal(t, "fp", rec.Entries[0].DebitAccount)

	missing, err := http.Get(srv.URL + "/api/v1/payments/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestPaymentIDIsEscapedInLocation(t *testing.T) {
	srv := newServer(t, "100.00")

	resp, out := post(t, srv, `{"id":"inv/7 a?b","amount":"USD 1.00"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	location := resp.Header.Get("Location")
	assert.Equal(t, "/api/v1/payments/inv%2F7%20a%3Fb", location)

	got, err := http.Get(srv.URL + location)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var rec domain.PaymentRecord
	require.NoError(t, json.NewDecoder(got.Body).Decode(&rec))
	assert.Equal(t, "inv/7 a?b", rec.PaymentID)
	require.Len(t, rec.Entries, 1)
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestCreatePaymentBodyErrors(t *testing.T) {
	router := newHandler(t, "100.00").Router()

	big := `{"id":"big","memo":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments", failingBody{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t, "1.00")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
