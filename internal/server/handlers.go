package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"meli-manager/internal/account"
	"meli-manager/internal/meli"
)

const (
	stateCookieName = "meli_oauth_state"
	ownerCookieName = "meli_oauth_owner"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthLogin starts the authorization code flow: a random state is
// pinned in a short-lived cookie and the caller is sent to the
// marketplace consent page.
func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth/mercadolibre",
		MaxAge:   600,
		HttpOnly: true,
	})
	if owner := r.URL.Query().Get("owner"); owner != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     ownerCookieName,
			Value:    owner,
			Path:     "/auth/mercadolibre",
			MaxAge:   600,
			HttpOnly: true,
		})
	}

	http.Redirect(w, r, s.auth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("authorization denied: %s", errParam))
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != query.Get("state") {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	token, err := s.auth.ExchangeCode(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Msg("authorization code exchange failed")
		writeError(w, http.StatusBadGateway, "could not exchange the authorization code")
		return
	}

	profile, err := s.auth.FetchUser(r.Context(), token.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("user profile fetch failed")
		writeError(w, http.StatusBadGateway, "could not fetch the user profile")
		return
	}

	owner := s.config.ClientOwner
	if ownerCookie, err := r.Cookie(ownerCookieName); err == nil && ownerCookie.Value != "" {
		owner = ownerCookie.Value
	}

	auth := account.Auth{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ClientID:     s.config.ClientID,
	}
	acct, err := s.store.Register(*profile, auth, owner)
	if err != nil {
		log.Error().Err(err).Int64("user_id", profile.ID).Msg("account registration failed")
		writeError(w, http.StatusInternalServerError, "could not register the account")
		return
	}
	if err := s.market.AddAccount(acct); err != nil {
		log.Warn().Err(err).Str("nickname", acct.Nickname).Msg("could not add account to working set")
	}

	clearAuthCookies(w)

	log.Info().Str("nickname", acct.Nickname).Int64("id", acct.ID).Msg("account authorized")
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       acct.ID,
		"nickname": acct.Nickname,
	})
}

func clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{stateCookieName, ownerCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/auth/mercadolibre",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	selection, err := parseAccountSelection(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcomes, err := s.market.GetOrders(r.Context(), meli.OrdersQuery{
		Accounts:  selection,
		ID:        r.URL.Query().Get("id"),
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		writeFanOutError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcomesPayload(outcomes))
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	selection, err := parseAccountSelection(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcomes, err := s.market.GetQuestions(r.Context(), meli.QuestionsQuery{
		Accounts:  selection,
		Status:    r.URL.Query().Get("status"),
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		writeFanOutError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcomesPayload(outcomes))
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	outcomes, err := s.market.GetQuestion(r.Context(), id, nil)
	if err != nil {
		writeFanOutError(w, err)
		return
	}
	if len(outcomes) == 0 {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}

	out := outcomes[0]
	if out.Err != nil {
		writeJSON(w, payloadStatus(out.Response, http.StatusBadGateway), out.Response)
		return
	}
	writeJSON(w, http.StatusOK, out.Response)
}

func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	answerer, ok := s.resolveAnswerer(w, r, id)
	if !ok {
		return
	}

	response, err := s.market.PostQuestionAnswer(r.Context(), answerer, id, body.Text)
	if err != nil {
		var upstream *meli.UpstreamRequestError
		if errors.As(err, &upstream) {
			// Transport-level failures carry no upstream status.
			status := upstream.StatusCode
			if status < 100 {
				status = http.StatusBadGateway
			}
			writeError(w, status, err.Error())
			return
		}
		writeFanOutError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, response)
}

// resolveAnswerer picks the account an answer is posted from: the
// `nickname` query parameter when given, otherwise the account the
// question itself resolves to. A false return means the response has
// already been written.
func (s *Server) resolveAnswerer(w http.ResponseWriter, r *http.Request, questionID int64) (*account.Account, bool) {
	if nickname := r.URL.Query().Get("nickname"); nickname != "" {
		accounts, err := s.store.FindByNicknames([]string{nickname})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return nil, false
		}
		if len(accounts) == 0 {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown account %q", nickname))
			return nil, false
		}
		return accounts[0], true
	}

	outcomes, err := s.market.GetQuestion(r.Context(), questionID, nil)
	if err != nil {
		writeFanOutError(w, err)
		return nil, false
	}
	if len(outcomes) == 0 || outcomes[0].Err != nil || outcomes[0].Account.ID == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("question %d not found", questionID))
		return nil, false
	}
	return outcomes[0].Account, true
}

// handleNotifications acknowledges marketplace webhook deliveries. The
// marketplace retries on anything but a fast 200, so this only validates
// the envelope and logs it.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var notification struct {
		Resource string `json:"resource"`
		UserID   int64  `json:"user_id"`
		Topic    string `json:"topic"`
		Attempts int    `json:"attempts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification body")
		return
	}
	if notification.Resource == "" || notification.Topic == "" {
		writeError(w, http.StatusBadRequest, "resource and topic are required")
		return
	}

	event := log.Info().
		Str("topic", notification.Topic).
		Str("resource", notification.Resource).
		Int64("user_id", notification.UserID).
		Int("attempts", notification.Attempts)
	if acct, err := s.store.FindByID(notification.UserID); err == nil {
		event = event.Str("nickname", acct.Nickname)
	}
	event.Msg("notification received")

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// parseAccountSelection reads the `accounts` query parameter, a comma
// separated list of account ids. An absent parameter means all accounts.
func parseAccountSelection(r *http.Request) ([]*account.Account, error) {
	raw := r.URL.Query().Get("accounts")
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	selection := make([]*account.Account, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid account id %q", part)
		}
		selection = append(selection, &account.Account{ID: id})
	}
	return selection, nil
}

func parseDateRange(r *http.Request) (start, end time.Time, err error) {
	query := r.URL.Query()
	if start, err = parseDate(query.Get("start")); err != nil {
		return start, end, fmt.Errorf("invalid start date: %w", err)
	}
	if end, err = parseDate(query.Get("end")); err != nil {
		return start, end, fmt.Errorf("invalid end date: %w", err)
	}
	return start, end, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

func outcomesPayload(outcomes []meli.Outcome) []map[string]any {
	payload := make([]map[string]any, 0, len(outcomes))
	for _, out := range outcomes {
		entry := map[string]any{
			"account":  out.Account.Nickname,
			"response": out.Response,
		}
		payload = append(payload, entry)
	}
	return payload
}

func payloadStatus(payload map[string]any, fallback int) int {
	if payload == nil {
		return fallback
	}
	switch status := payload["status"].(type) {
	case int:
		if status >= 100 {
			return status
		}
	case float64:
		if status >= 100 {
			return int(status)
		}
	}
	return fallback
}

func writeFanOutError(w http.ResponseWriter, err error) {
	var noAccounts *meli.NoAuthenticatedAccountsError
	if errors.As(err, &noAccounts) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	log.Error().Err(err).Msg("marketplace request failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}
