package account

import (
	"fmt"
	"time"
)

// Auth holds the OAuth credentials minted for one account, together with
// the application they were minted under.
type Auth struct {
	AccessToken         string    `json:"access_token"`
	RefreshToken        string    `json:"refresh_token"`
	Expires             time.Time `json:"expires"`
	ClientID            string    `json:"client_id"`
	ClientOwnerNickname string    `json:"client_owner_nickname,omitempty"`
}

// TestAccountInfo carries sandbox-only credentials.
type TestAccountInfo struct {
	Password string `json:"password,omitempty"`
}

// Account is one MercadoLibre seller identity known to the system. The
// marketplace-assigned ID is the correlation key everywhere.
type Account struct {
	ID              int64            `json:"id"`
	Nickname        string           `json:"nickname"`
	FirstName       string           `json:"first_name,omitempty"`
	LastName        string           `json:"last_name,omitempty"`
	Email           string           `json:"email,omitempty"`
	Auth            Auth             `json:"auth"`
	IsTestAccount   bool             `json:"is_test_account,omitempty"`
	TestAccountInfo *TestAccountInfo `json:"test_account_info,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Profile is the identity subset returned by the marketplace user API,
// used when registering an account.
type Profile struct {
	ID        int64  `json:"id"`
	Nickname  string `json:"nickname"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// NotRefreshableError reports tokens minted under a different OAuth
// application. Refreshing them with the current secret would fail upstream
// with an opaque 400, so the mismatch is rejected before any network call.
type NotRefreshableError struct {
	Nickname       string
	TokenClientID  string
	OwnerNickname  string
	ActiveClientID string
}

func (e *NotRefreshableError) Error() string {
	return fmt.Sprintf(
		"account '%s' tokens were issued by client %s (owner '%s') but the active client is %s: re-login is required",
		e.Nickname, e.TokenClientID, e.OwnerNickname, e.ActiveClientID,
	)
}

// IsAuthorized reports whether the access token is still valid at now.
func (a *Account) IsAuthorized(now time.Time) bool {
	return now.Before(a.Auth.Expires)
}

// CheckRefreshable fails when the account's tokens do not belong to the
// currently configured OAuth application.
func (a *Account) CheckRefreshable(currentClientID string) error {
	if a.Auth.ClientID == currentClientID {
		return nil
	}
	return &NotRefreshableError{
		Nickname:       a.Nickname,
		TokenClientID:  a.Auth.ClientID,
		OwnerNickname:  a.Auth.ClientOwnerNickname,
		ActiveClientID: currentClientID,
	}
}
