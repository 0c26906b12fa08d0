package account

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIsAuthorized(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	acct := &Account{Auth: Auth{Expires: now.Add(time.Hour)}}
	if !acct.IsAuthorized(now) {
		t.Fatal("IsAuthorized(unexpired) = false, want true")
	}
	if acct.IsAuthorized(now.Add(2 * time.Hour)) {
		t.Fatal("IsAuthorized(expired) = true, want false")
	}
	// Deterministic for a fixed now.
	if acct.IsAuthorized(now) != acct.IsAuthorized(now) {
		t.Fatal("IsAuthorized not idempotent for a fixed now")
	}

	expiredAt := &Account{Auth: Auth{Expires: now}}
	if expiredAt.IsAuthorized(now) {
		t.Fatal("IsAuthorized(expires == now) = true, want false")
	}
}

func TestCheckRefreshable(t *testing.T) {
	acct := &Account{
		Nickname: "seller1",
		Auth: Auth{
			ClientID:            "111",
			ClientOwnerNickname: "OWNER",
		},
	}

	if err := acct.CheckRefreshable("111"); err != nil {
		t.Fatalf("CheckRefreshable(same client) error = %v", err)
	}

	err := acct.CheckRefreshable("222")
	if err == nil {
		t.Fatal("CheckRefreshable(other client) error = nil, want non-nil")
	}
	var notRefreshable *NotRefreshableError
	if !errors.As(err, &notRefreshable) {
		t.Fatalf("error type = %T, want *NotRefreshableError", err)
	}
	for _, want := range []string{"seller1", "111", "222", "OWNER"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}
