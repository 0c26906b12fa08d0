package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"meli-manager/internal/account"
	"meli-manager/internal/config"
	"meli-manager/internal/oauth"
)

type oauthTokenClient interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth.Token, error)
	FetchUser(ctx context.Context, accessToken string) (*account.Profile, error)
	RefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

var newOAuthClient = func(cfg *config.Config) oauthTokenClient {
	return oauth.NewClient(cfg)
}

var loginOwner string

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage seller accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE:  runAccountsList,
}

var accountsLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize a new account via the marketplace consent page",
	RunE:  runAccountsLogin,
}

var accountsRefreshCmd = &cobra.Command{
	Use:   "refresh <nickname>",
	Short: "Refresh an account's tokens now",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsRefresh,
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsDelete,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsLoginCmd)
	accountsCmd.AddCommand(accountsRefreshCmd)
	accountsCmd.AddCommand(accountsDeleteCmd)
	accountsLoginCmd.Flags().StringVar(&loginOwner, "owner", "", "nickname of the account that owns the application credentials")
}

func runAccountsList(cmd *cobra.Command, _ []string) error {
	store, _, err := newAccountStore()
	if err != nil {
		return err
	}

	accounts, err := store.List()
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No accounts found.")
		return nil
	}

	now := time.Now()
	fmt.Fprintln(cmd.OutOrStdout(), "ID\tNICKNAME\tOWNER\tAUTHORIZED\tEXPIRES")
	for _, acct := range accounts {
		authorized := "no"
		if acct.IsAuthorized(now) {
			authorized = "yes"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\t%s\n",
			acct.ID,
			acct.Nickname,
			acct.Auth.ClientOwnerNickname,
			authorized,
			acct.Auth.Expires.Format(time.RFC3339),
		)
	}
	return nil
}

func runAccountsLogin(cmd *cobra.Command, _ []string) error {
	store, cfg, err := newAccountStore()
	if err != nil {
		return err
	}

	client := newOAuthClient(cfg)
	state := uuid.NewString()

	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in a browser and authorize the account:\n\n  %s\n\n", client.AuthCodeURL(state))
	fmt.Fprint(cmd.OutOrStdout(), "Paste the authorization code (or the full redirect URL): ")

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read authorization code: %w", err)
	}

	code, err := parseAuthorizationCode(line, state)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	token, err := client.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	profile, err := client.FetchUser(ctx, token.AccessToken)
	if err != nil {
		return fmt.Errorf("fetch user profile: %w", err)
	}

	owner := loginOwner
	if owner == "" {
		owner = cfg.ClientOwner
	}

	auth := account.Auth{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ClientID:     cfg.ClientID,
	}
	acct, err := store.Register(*profile, auth, owner)
	if err != nil {
		return fmt.Errorf("register account: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nAccount authorized: %s (id %d)\n", acct.Nickname, acct.ID)
	return nil
}

// parseAuthorizationCode accepts either a bare code or a pasted redirect
// URL. When the URL carries a state it must match the one we issued.
func parseAuthorizationCode(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty authorization code")
	}

	if strings.Contains(input, "://") {
		parsed, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("parse redirect url: %w", err)
		}
		query := parsed.Query()
		if got := query.Get("state"); got != "" && got != state {
			return "", fmt.Errorf("state mismatch in redirect url")
		}
		code := query.Get("code")
		if code == "" {
			return "", fmt.Errorf("redirect url carries no code")
		}
		return code, nil
	}

	return input, nil
}

func runAccountsRefresh(cmd *cobra.Command, args []string) error {
	nickname := strings.TrimSpace(args[0])
	if nickname == "" {
		return fmt.Errorf("empty nickname")
	}

	store, cfg, err := newAccountStore()
	if err != nil {
		return err
	}

	matches, err := store.FindByNicknames([]string{nickname})
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("unknown account %q", nickname)
	}
	acct := matches[0]
	if err := acct.CheckRefreshable(cfg.ClientID); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := newOAuthClient(cfg)
	token, err := client.RefreshToken(ctx, acct.Auth.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	acct.Auth.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		acct.Auth.RefreshToken = token.RefreshToken
	}
	acct.Auth.Expires = time.Now().Add(cfg.TokenTTL())

	if err := store.Save(acct); err != nil {
		return fmt.Errorf("persist refreshed token: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Token refreshed for %s, valid until %s\n", acct.Nickname, acct.Auth.Expires.Format(time.RFC3339))
	return nil
}

func runAccountsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseAccountID(args[0])
	if err != nil {
		return err
	}

	store, _, err := newAccountStore()
	if err != nil {
		return err
	}

	if err := store.Delete(id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Account deleted: %d\n", id)
	return nil
}

func parseAccountID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id: %s", raw)
	}
	return id, nil
}

func newAccountStore() (*account.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return account.NewStore(cfg.DataDir, cfg.TokenTTL()), cfg, nil
}
