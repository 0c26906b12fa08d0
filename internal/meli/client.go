package meli

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"meli-manager/internal/account"
	"meli-manager/internal/config"
	"meli-manager/internal/oauth"
)

// Marketplace resources. Search endpoints page through a `paging` object;
// the questions search nests its items under `questions` and is reshaped
// to the common `results` key.
var (
	ordersResource = Static("orders", "/orders/search").WithPaging()

	questionsResource = Static("questions", "/my/received_questions/search").
				WithPaging().
				WithResponseMapper(questionsToResults)

	questionResource = Templated("question", func(id string) string { return "/questions/" + id })
	itemIDsResource  = Templated("item_ids", func(userID string) string { return "/users/" + userID + "/items/search" })
	itemResource     = Templated("item", func(id string) string { return "/items/" + id })
	userResource     = Templated("user", func(id string) string { return "/users/" + id })

	postItemResource     = Static("item", "/items")
	postQuestionResource = Templated("question", func(itemID string) string { return "/questions/" + itemID })
	postAnswerResource   = Static("answer", "/answers")
)

func questionsToResults(payload map[string]any) map[string]any {
	if questions, ok := payload["questions"]; ok {
		payload["results"] = questions
	}
	return payload
}

// TokenRefresher exchanges a refresh token for new credentials.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// Store is the keyed account persistence the client resynchronizes from
// and persists refreshed tokens to.
type Store interface {
	FindByNicknames(nicknames []string) ([]*account.Account, error)
	Save(acct *account.Account) error
}

// Client owns a working set of registered accounts and fans authenticated
// requests out across them. The store is the source of truth: the
// in-memory set is a snapshot that is resynchronized before every batch.
type Client struct {
	store     Store
	refresher TokenRefresher
	exec      *Executor
	clientID  string
	tokenTTL  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	accounts []*account.Account
}

func NewClient(store Store, refresher TokenRefresher, cfg *config.Config) *Client {
	return &Client{
		store:     store,
		refresher: refresher,
		exec:      NewExecutor(cfg.APIURL),
		clientID:  cfg.ClientID,
		tokenTTL:  cfg.TokenTTL(),
		now:       time.Now,
	}
}

// AddAccount registers an account into the working set. Re-adding a known
// nickname is a no-op.
func (c *Client) AddAccount(acct *account.Account) error {
	if acct == nil || strings.TrimSpace(acct.Nickname) == "" {
		return fmt.Errorf("can't add invalid account: %+v", acct)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, known := range c.accounts {
		if known.Nickname == acct.Nickname {
			return nil
		}
	}
	c.accounts = append(c.accounts, acct)
	return nil
}

// OrdersQuery scopes a GetOrders fan-out.
type OrdersQuery struct {
	Accounts  []*account.Account
	ID        string
	StartDate time.Time
	EndDate   time.Time
}

// GetOrders fetches orders for the selected accounts, newest first, one
// outcome per account in selection order.
func (c *Client) GetOrders(ctx context.Context, q OrdersQuery) ([]Outcome, error) {
	authenticated, err := c.FilterAccounts(ctx, q.Accounts)
	if err != nil {
		return nil, err
	}

	opts := RequestOptions{
		QueryFor: func(acct *account.Account) url.Values {
			query := url.Values{}
			query.Set("seller", strconv.FormatInt(acct.ID, 10))
			query.Set("sort", "date_desc")
			if q.ID != "" {
				query.Set("q", q.ID)
			}
			return query
		},
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
	}

	return c.exec.MultiGet(ctx, authenticated, ordersResource, "", opts), nil
}

// QuestionsQuery scopes a GetQuestions fan-out.
type QuestionsQuery struct {
	Accounts  []*account.Account
	Status    string
	StartDate time.Time
	EndDate   time.Time
}

// GetQuestions fetches received questions for the selected accounts.
func (c *Client) GetQuestions(ctx context.Context, q QuestionsQuery) ([]Outcome, error) {
	authenticated, err := c.FilterAccounts(ctx, q.Accounts)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("sort_fields", "date_created")
	query.Set("sort_types", "DESC")
	if q.Status != "" {
		query.Set("status", q.Status)
	}

	opts := RequestOptions{
		Query:     query,
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
	}

	return c.exec.MultiGet(ctx, authenticated, questionsResource, "", opts), nil
}

// GetQuestion retrieves one question by id and resolves its owning seller
// account. A question that does not resolve is a normal outcome for the
// caller to inspect: the result carries an empty account sentinel plus
// the upstream error payload, never an error return.
func (c *Client) GetQuestion(ctx context.Context, id int64, seller *account.Account) ([]Outcome, error) {
	if id == 0 {
		return nil, fmt.Errorf("must specify the question id to be retrieved")
	}

	var selection []*account.Account
	if seller != nil {
		selection = []*account.Account{seller}
	}
	authenticated, err := c.FilterAccounts(ctx, selection)
	if err != nil {
		return nil, err
	}

	probe := authenticated[0]
	response, err := c.exec.Get(ctx, questionResource, probe, strconv.FormatInt(id, 10), RequestOptions{})
	if err != nil {
		log.Warn().
			Err(err).
			Int64("question_id", id).
			Str("nickname", probe.Nickname).
			Msg("question lookup failed")
		return []Outcome{{Account: &account.Account{}, Response: ErrorPayload(err), Err: err}}, nil
	}

	sellerID, _ := asInt(response["seller_id"])
	owner := &account.Account{}
	for _, acct := range authenticated {
		if acct.ID == int64(sellerID) {
			owner = acct
			break
		}
	}

	return []Outcome{{Account: owner, Response: response}}, nil
}

// GetUser fetches a marketplace user profile through any authenticated
// account, or the given one.
func (c *Client) GetUser(ctx context.Context, id int64, authAccount *account.Account) (map[string]any, error) {
	var selection []*account.Account
	if authAccount != nil {
		selection = []*account.Account{authAccount}
	}
	authenticated, err := c.FilterAccounts(ctx, selection)
	if err != nil {
		return nil, err
	}

	return c.exec.Get(ctx, userResource, authenticated[0], strconv.FormatInt(id, 10), RequestOptions{})
}

// CreateListing posts a new item listing. Not idempotent: retrying a
// failed call may duplicate the listing.
func (c *Client) CreateListing(ctx context.Context, acct *account.Account, item map[string]any) (map[string]any, error) {
	authenticated, err := c.FilterAccounts(ctx, []*account.Account{acct})
	if err != nil {
		return nil, err
	}

	response, err := c.exec.Post(ctx, postItemResource, authenticated[0], "", item)
	if err != nil {
		return nil, fmt.Errorf("could not post the item for %s: %w", authenticated[0].Nickname, err)
	}
	return response, nil
}

// GetListings lists the account's items: ids first, then each item
// fetched concurrently, returned in id order.
func (c *Client) GetListings(ctx context.Context, acct *account.Account) ([]map[string]any, error) {
	authenticated, err := c.FilterAccounts(ctx, []*account.Account{acct})
	if err != nil {
		return nil, err
	}
	owner := authenticated[0]

	idsResponse, err := c.exec.Get(ctx, itemIDsResource, owner, strconv.FormatInt(owner.ID, 10), RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("could not get the listing ids for user id %d: %w", owner.ID, err)
	}

	ids := make([]string, 0)
	for _, raw := range resultsOf(idsResponse) {
		if id, ok := raw.(string); ok {
			ids = append(ids, id)
		}
	}

	listings := make([]map[string]any, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			listings[i], errs[i] = c.exec.Get(ctx, itemResource, owner, id, RequestOptions{})
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("could not get listings for %s: %w", owner.Nickname, err)
		}
	}
	return listings, nil
}

// PostQuestion asks a question on an item from the asking account.
func (c *Client) PostQuestion(ctx context.Context, asker *account.Account, itemID, text string) (map[string]any, error) {
	authenticated, err := c.FilterAccounts(ctx, []*account.Account{asker})
	if err != nil {
		return nil, err
	}

	body := map[string]any{"text": text, "item_id": itemID}
	response, err := c.exec.Post(ctx, postQuestionResource, authenticated[0], itemID, body)
	if err != nil {
		return nil, fmt.Errorf("could not post the question on item %s: %w", itemID, err)
	}
	return response, nil
}

// PostQuestionAnswer answers a received question from the answering
// account. Not retried automatically: the marketplace rejects answers to
// already-answered questions.
func (c *Client) PostQuestionAnswer(ctx context.Context, answerer *account.Account, questionID int64, text string) (map[string]any, error) {
	authenticated, err := c.FilterAccounts(ctx, []*account.Account{answerer})
	if err != nil {
		return nil, err
	}

	body := map[string]any{"text": text, "question_id": questionID}
	response, err := c.exec.Post(ctx, postAnswerResource, authenticated[0], "", body)
	if err != nil {
		return nil, fmt.Errorf("could not post the answer to question %d: %w", questionID, err)
	}
	return response, nil
}

// FilterAccounts resynchronizes the working set from the store, narrows
// it to the caller's selection when one is given, and authenticates the
// result. This is the single chokepoint before any network request.
func (c *Client) FilterAccounts(ctx context.Context, selection []*account.Account) ([]*account.Account, error) {
	snapshot, err := c.resyncAccounts()
	if err != nil {
		return nil, fmt.Errorf("resync accounts: %w", err)
	}

	filtered := snapshot
	if ids, ok := selectionIDs(selection); ok {
		filtered = make([]*account.Account, 0, len(snapshot))
		for _, acct := range snapshot {
			if ids[acct.ID] {
				filtered = append(filtered, acct)
			}
		}
	}

	authenticated := c.authenticate(ctx, filtered)
	if len(authenticated) == 0 {
		return nil, &NoAuthenticatedAccountsError{}
	}
	return authenticated, nil
}

// selectionIDs validates a caller-supplied subset: non-empty and every
// element carrying an id. Invalid selections mean "use all".
func selectionIDs(selection []*account.Account) (map[int64]bool, bool) {
	if len(selection) == 0 {
		return nil, false
	}
	ids := make(map[int64]bool, len(selection))
	for _, acct := range selection {
		if acct == nil || acct.ID == 0 {
			return nil, false
		}
		ids[acct.ID] = true
	}
	return ids, true
}

// resyncAccounts replaces the snapshot with a fresh keyed read from the
// store, tolerating accounts updated externally between calls. The
// registration order of the working set is preserved.
func (c *Client) resyncAccounts() ([]*account.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nicknames := make([]string, 0, len(c.accounts))
	for _, acct := range c.accounts {
		nicknames = append(nicknames, acct.Nickname)
	}

	fresh, err := c.store.FindByNicknames(nicknames)
	if err != nil {
		return nil, err
	}

	byNickname := make(map[string]*account.Account, len(fresh))
	for _, acct := range fresh {
		byNickname[acct.Nickname] = acct
	}

	updated := make([]*account.Account, 0, len(c.accounts))
	for _, known := range c.accounts {
		if acct, ok := byNickname[known.Nickname]; ok {
			updated = append(updated, acct)
		}
	}
	c.accounts = updated

	snapshot := make([]*account.Account, len(updated))
	copy(snapshot, updated)
	return snapshot, nil
}

// authenticate attempts to authorize every account concurrently. One
// account's failure never affects another: failures are logged and the
// account dropped, preserving input order among the survivors.
func (c *Client) authenticate(ctx context.Context, accounts []*account.Account) []*account.Account {
	results := make([]*account.Account, len(accounts))

	var wg sync.WaitGroup
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, acct *account.Account) {
			defer wg.Done()

			if err := c.refreshAuth(ctx, acct); err != nil {
				log.Warn().
					Err(err).
					Str("nickname", acct.Nickname).
					Msg("account authentication failed, excluded from batch")
				return
			}
			results[i] = acct
		}(i, acct)
	}
	wg.Wait()

	authenticated := make([]*account.Account, 0, len(accounts))
	for _, acct := range results {
		if acct != nil {
			authenticated = append(authenticated, acct)
		}
	}
	return authenticated
}

// refreshAuth ensures the account is currently authorized, refreshing and
// persisting when expired. An unexpired token is never touched.
func (c *Client) refreshAuth(ctx context.Context, acct *account.Account) error {
	if acct.IsAuthorized(c.now()) {
		return nil
	}

	if err := acct.CheckRefreshable(c.clientID); err != nil {
		return err
	}

	log.Info().Str("nickname", acct.Nickname).Msg("token expired, refreshing")

	token, err := c.refresher.RefreshToken(ctx, acct.Auth.RefreshToken)
	if err != nil {
		return &RefreshFailedError{Nickname: acct.Nickname, Cause: err}
	}

	acct.Auth.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		acct.Auth.RefreshToken = token.RefreshToken
	}
	acct.Auth.Expires = c.now().Add(c.tokenTTL)

	if err := c.store.Save(acct); err != nil {
		return &RefreshFailedError{Nickname: acct.Nickname, Cause: err}
	}

	log.Info().
		Str("nickname", acct.Nickname).
		Time("expires", acct.Auth.Expires).
		Msg("refresh token success")
	return nil
}
