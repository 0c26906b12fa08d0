package meli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"meli-manager/internal/account"
)

const requestTimeout = 30 * time.Second

// Executor issues authenticated requests against marketplace resources,
// traversing pagination and applying post-merge date filtering.
type Executor struct {
	baseURL string
	client  *http.Client
}

func NewExecutor(baseURL string) *Executor {
	return &Executor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// RequestOptions carries per-call query parameters and filters. QueryFor
// supports per-account values such as the seller id.
type RequestOptions struct {
	Query     url.Values
	QueryFor  func(acct *account.Account) url.Values
	StartDate time.Time
	EndDate   time.Time
}

// Outcome is the result of one fan-out leg. Response always holds a
// payload: the merged successful one, or an error-shaped one when Err is
// set.
type Outcome struct {
	Account  *account.Account
	Response map[string]any
	Err      error
}

// Get fetches a resource for one account. When the first page reports
// more results than its limit, the remaining pages are fetched in
// parallel and their results concatenated in page order; date filtering
// runs once over the merged results so page boundaries are not disturbed.
func (e *Executor) Get(ctx context.Context, res Resource, acct *account.Account, data string, opts RequestOptions) (map[string]any, error) {
	path, err := res.Path(data)
	if err != nil {
		return nil, err
	}

	query := e.buildQuery(acct, opts)
	first, err := e.fetchPage(ctx, res, path, query)
	if err != nil {
		return nil, err
	}

	if info, ok := e.pageInfo(res, first); ok && info.Total > info.Limit {
		if err := e.fetchRemainingPages(ctx, res, path, query, first, info); err != nil {
			return nil, err
		}
	}

	e.filterResultsByDate(first, opts.StartDate, opts.EndDate)
	return first, nil
}

// MultiGet fans the same request out across every account concurrently.
// A per-account failure becomes an error-shaped outcome; the returned
// slice always has one outcome per input account, in input order.
func (e *Executor) MultiGet(ctx context.Context, accounts []*account.Account, res Resource, data string, opts RequestOptions) []Outcome {
	outcomes := make([]Outcome, len(accounts))

	var wg sync.WaitGroup
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, acct *account.Account) {
			defer wg.Done()

			response, err := e.Get(ctx, res, acct, data, opts)
			if err != nil {
				wrapped := fmt.Errorf("Problem with GET '%s' request for %s. Msg: %w", res.Name(), acct.Nickname, err)
				payload := ErrorPayload(err)
				payload["message"] = wrapped.Error()
				outcomes[i] = Outcome{Account: acct, Response: payload, Err: wrapped}
				return
			}
			outcomes[i] = Outcome{Account: acct, Response: response}
		}(i, acct)
	}
	wg.Wait()

	return outcomes
}

// Post issues a mutating request with a JSON body. Failures are hard
// errors; there is no batch to preserve.
func (e *Executor) Post(ctx context.Context, res Resource, acct *account.Account, data string, body any) (map[string]any, error) {
	path, err := res.Path(data)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("post '%s': encode body: %w", res.Name(), err)
	}

	query := url.Values{}
	query.Set("access_token", acct.Auth.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.requestURL(path, query), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("post '%s': create request: %w", res.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return e.doJSON(req, http.MethodPost, res)
}

func (e *Executor) buildQuery(acct *account.Account, opts RequestOptions) url.Values {
	query := url.Values{}
	for k, vs := range opts.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	if opts.QueryFor != nil {
		for k, vs := range opts.QueryFor(acct) {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	}
	query.Set("access_token", acct.Auth.AccessToken)
	return query
}

func (e *Executor) pageInfo(res Resource, payload map[string]any) (PageInfo, bool) {
	if res.pageInfo == nil {
		return PageInfo{}, false
	}
	return res.pageInfo(payload)
}

func (e *Executor) fetchRemainingPages(ctx context.Context, res Resource, path string, query url.Values, first map[string]any, info PageInfo) error {
	pageCount := (info.Total + info.Limit - 1) / info.Limit

	pages := make([]map[string]any, pageCount)
	errs := make([]error, pageCount)

	var wg sync.WaitGroup
	for page := 1; page < pageCount; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()

			pageQuery := url.Values{}
			for k, vs := range query {
				pageQuery[k] = vs
			}
			pageQuery.Set("offset", strconv.Itoa(info.Limit*page))

			pages[page], errs[page] = e.fetchPage(ctx, res, path, pageQuery)
		}(page)
	}
	wg.Wait()

	merged := resultsOf(first)
	for page := 1; page < pageCount; page++ {
		if errs[page] != nil {
			return errs[page]
		}
		merged = append(merged, resultsOf(pages[page])...)
	}
	first["results"] = merged
	return nil
}

func (e *Executor) fetchPage(ctx context.Context, res Resource, path string, query url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.requestURL(path, query), nil)
	if err != nil {
		return nil, fmt.Errorf("get '%s': create request: %w", res.Name(), err)
	}
	req.Header.Set("Accept", "application/json")

	return e.doJSON(req, http.MethodGet, res)
}

func (e *Executor) doJSON(req *http.Request, method string, res Resource) (map[string]any, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &UpstreamRequestError{
			Method:   method,
			Resource: res.Name(),
			Message:  err.Error(),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s '%s': read response: %w", strings.ToLower(method), res.Name(), err)
	}

	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil && resp.StatusCode < http.StatusBadRequest {
			return nil, fmt.Errorf("%s '%s': parse json: %w", strings.ToLower(method), res.Name(), err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		message := strings.TrimSpace(string(body))
		if m, ok := payload["message"].(string); ok && m != "" {
			message = m
		}
		return nil, &UpstreamRequestError{
			Method:     method,
			Resource:   res.Name(),
			StatusCode: resp.StatusCode,
			Message:    message,
			Payload:    payload,
		}
	}

	if payload == nil {
		payload = map[string]any{}
	}
	if res.mapResponse != nil {
		payload = res.mapResponse(payload)
	}
	return payload, nil
}

func (e *Executor) requestURL(path string, query url.Values) string {
	return e.baseURL + path + "?" + query.Encode()
}

func (e *Executor) filterResultsByDate(payload map[string]any, start, end time.Time) {
	if start.IsZero() && end.IsZero() {
		return
	}

	results, ok := payload["results"].([]any)
	if !ok {
		return
	}

	filtered := make([]any, 0, len(results))
	for _, item := range results {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw, ok := entry["date_created"].(string)
		if !ok {
			continue
		}
		created, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		if !start.IsZero() && created.Before(start) {
			continue
		}
		if !end.IsZero() && created.After(end) {
			continue
		}
		filtered = append(filtered, item)
	}
	payload["results"] = filtered
}

func resultsOf(payload map[string]any) []any {
	results, ok := payload["results"].([]any)
	if !ok {
		return nil
	}
	return results
}
