package meli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"meli-manager/internal/account"
)

func testAccount(id int64, nickname, token string) *account.Account {
	return &account.Account{
		ID:       id,
		Nickname: nickname,
		Auth: account.Auth{
			AccessToken: token,
			Expires:     time.Now().Add(time.Hour),
		},
	}
}

func TestGetSinglePage(t *testing.T) {
	var gotQuery url.Values
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"paging":  map[string]any{"total": 2, "limit": 50},
			"results": []any{map[string]any{"id": 1}, map[string]any{"id": 2}},
		})
	}))
	defer upstream.Close()

	exec := NewExecutor(upstream.URL)
	acct := testAccount(100, "seller1", "APP_USR-1")

	opts := RequestOptions{
		QueryFor: func(a *account.Account) url.Values {
			query := url.Values{}
			query.Set("seller", strconv.FormatInt(a.ID, 10))
			return query
		},
	}

	payload, err := exec.Get(context.Background(), Static("orders", "/orders/search").WithPaging(), acct, "", opts)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if gotQuery.Get("access_token") != "APP_USR-1" {
		t.Fatalf("access_token = %q", gotQuery.Get("access_token"))
	}
	if gotQuery.Get("seller") != "100" {
		t.Fatalf("seller = %q", gotQuery.Get("seller"))
	}
	if len(resultsOf(payload)) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(resultsOf(payload)))
	}
}

func TestGetPagination(t *testing.T) {
	const total, limit = 25, 10

	var mu sync.Mutex
	var offsets []int

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		mu.Lock()
		offsets = append(offsets, offset)
		mu.Unlock()

		count := limit
		if offset+count > total {
			count = total - offset
		}
		results := make([]any, 0, count)
		for i := 0; i < count; i++ {
			results = append(results, map[string]any{"id": offset + i})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"paging":  map[string]any{"total": total, "limit": limit, "offset": offset},
			"results": results,
		})
	}))
	defer upstream.Close()

	exec := NewExecutor(upstream.URL)
	acct := testAccount(100, "seller1", "t")

	payload, err := exec.Get(context.Background(), Static("orders", "/orders/search").WithPaging(), acct, "", RequestOptions{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if len(offsets) != 3 {
		t.Fatalf("page requests = %d, want 3 (offsets %v)", len(offsets), offsets)
	}
	seen := map[int]bool{}
	for _, o := range offsets {
		seen[o] = true
	}
	for _, want := range []int{0, 10, 20} {
		if !seen[want] {
			t.Fatalf("missing page request with offset %d (got %v)", want, offsets)
		}
	}

	results := resultsOf(payload)
	if len(results) != total {
		t.Fatalf("len(results) = %d, want %d", len(results), total)
	}
	// Pages concatenated in page order.
	first := results[0].(map[string]any)
	last := results[total-1].(map[string]any)
	if first["id"].(float64) != 0 || last["id"].(float64) != float64(total-1) {
		t.Fatalf("merged order wrong: first=%v last=%v", first["id"], last["id"])
	}
}

func TestGetTwoPages(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		count := 10
		if offset == 10 {
			count = 5
		}
		results := make([]any, count)
		for i := range results {
			results[i] = map[string]any{"id": offset + i}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"paging":  map[string]any{"total": 15, "limit": 10},
			"results": results,
		})
	}))
	defer upstream.Close()

	exec := NewExecutor(upstream.URL)
	payload, err := exec.Get(context.Background(), Static("orders", "/orders/search").WithPaging(), testAccount(1, "s", "t"), "", RequestOptions{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if requests != 2 {
		t.Fatalf("requests = %d, want 2", requests)
	}
	if len(resultsOf(payload)) != 15 {
		t.Fatalf("len(results) = %d, want 15", len(resultsOf(payload)))
	}
}

func TestGetDateFilter(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []any{
				map[string]any{"id": 1, "date_created": "2024-04-30T23:59:59.000-04:00"},
				map[string]any{"id": 2, "date_created": "2024-05-01T00:00:00.000-04:00"},
				map[string]any{"id": 3, "date_created": "2024-05-10T12:00:00.000-04:00"},
				map[string]any{"id": 4, "date_created": "2024-05-31T23:59:59.000-04:00"},
				map[string]any{"id": 5, "date_created": "2024-06-01T00:00:01.000-04:00"},
				map[string]any{"id": 6},
			},
		})
	}))
	defer upstream.Close()

	loc := time.FixedZone("-04", -4*60*60)
	exec := NewExecutor(upstream.URL)

	payload, err := exec.Get(context.Background(), Static("orders", "/orders/search"), testAccount(1, "s", "t"), "", RequestOptions{
		StartDate: time.Date(2024, 5, 1, 0, 0, 0, 0, loc),
		EndDate:   time.Date(2024, 5, 31, 23, 59, 59, 0, loc),
	})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	results := resultsOf(payload)
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	// Bounds are inclusive.
	if results[0].(map[string]any)["id"].(float64) != 2 {
		t.Fatalf("first id = %v, want 2", results[0].(map[string]any)["id"])
	}
	if results[2].(map[string]any)["id"].(float64) != 4 {
		t.Fatalf("last id = %v, want 4", results[2].(map[string]any)["id"])
	}
}

func TestMultiGetPreservesOrderAndIsolatesFailures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") == "bad-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "invalid token", "status": 401})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []any{map[string]any{"id": 1}}})
	}))
	defer upstream.Close()

	exec := NewExecutor(upstream.URL)
	accounts := []*account.Account{
		testAccount(1, "seller1", "good"),
		testAccount(2, "seller2", "bad-token"),
		testAccount(3, "seller3", "good"),
	}

	outcomes := exec.MultiGet(context.Background(), accounts, Static("orders", "/orders/search"), "", RequestOptions{})

	if len(outcomes) != len(accounts) {
		t.Fatalf("len(outcomes) = %d, want %d", len(outcomes), len(accounts))
	}
	for i, o := range outcomes {
		if o.Account != accounts[i] {
			t.Fatalf("outcomes[%d].Account = %v, want %v", i, o.Account, accounts[i])
		}
	}

	if outcomes[0].Err != nil || outcomes[2].Err != nil {
		t.Fatalf("healthy accounts errored: %v, %v", outcomes[0].Err, outcomes[2].Err)
	}

	failed := outcomes[1]
	if failed.Err == nil {
		t.Fatal("outcomes[1].Err = nil, want non-nil")
	}
	msg := failed.Err.Error()
	if !strings.Contains(msg, "Problem with GET 'orders' request for seller2") {
		t.Fatalf("error message = %q", msg)
	}
	if !strings.Contains(msg, "invalid token") {
		t.Fatalf("error message missing upstream cause: %q", msg)
	}
	if failed.Response == nil {
		t.Fatal("failed outcome has nil response")
	}
	if failed.Response["status"] != 401 {
		t.Fatalf("response status = %v, want 401", failed.Response["status"])
	}
	if !strings.Contains(failed.Response["message"].(string), "seller2") {
		t.Fatalf("response message = %v", failed.Response["message"])
	}
}

func TestPost(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %q, want POST", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "MLA1"})
	}))
	defer upstream.Close()

	exec := NewExecutor(upstream.URL)
	payload, err := exec.Post(context.Background(), Static("answer", "/answers"), testAccount(1, "s", "t"), "", map[string]any{
		"text":        "thanks",
		"question_id": 12345,
	})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if payload["id"] != "MLA1" {
		t.Fatalf("id = %v, want MLA1", payload["id"])
	}
	if gotBody["text"] != "thanks" || gotBody["question_id"].(float64) != 12345 {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestPostUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "question already answered", "status": 400})
	}))
	defer upstream.Close()

	exec := NewExecutor(upstream.URL)
	_, err := exec.Post(context.Background(), Static("answer", "/answers"), testAccount(1, "s", "t"), "", map[string]any{})
	if err == nil {
		t.Fatal("Post() error = nil, want non-nil")
	}

	var upstreamErr *UpstreamRequestError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("error type = %T, want *UpstreamRequestError", err)
	}
	if upstreamErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want 400", upstreamErr.StatusCode)
	}
	if upstreamErr.Message != "question already answered" {
		t.Fatalf("Message = %q", upstreamErr.Message)
	}
}

func TestGetTemplatedResourceWithoutData(t *testing.T) {
	exec := NewExecutor("http://unused.invalid")
	res := Templated("question", func(id string) string { return fmt.Sprintf("/questions/%s", id) })

	_, err := exec.Get(context.Background(), res, testAccount(1, "s", "t"), "", RequestOptions{})
	var malformed *MalformedResourceError
	if !errors.As(err, &malformed) {
		t.Fatalf("error = %v, want *MalformedResourceError", err)
	}
}
