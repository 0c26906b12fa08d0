package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"meli-manager/internal/account"
	"meli-manager/internal/config"
	"meli-manager/internal/meli"
	"meli-manager/internal/oauth"
)

type marketClient interface {
	AddAccount(acct *account.Account) error
	GetOrders(ctx context.Context, q meli.OrdersQuery) ([]meli.Outcome, error)
	GetQuestions(ctx context.Context, q meli.QuestionsQuery) ([]meli.Outcome, error)
	GetQuestion(ctx context.Context, id int64, seller *account.Account) ([]meli.Outcome, error)
	PostQuestionAnswer(ctx context.Context, answerer *account.Account, questionID int64, text string) (map[string]any, error)
}

type authClient interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth.Token, error)
	FetchUser(ctx context.Context, accessToken string) (*account.Profile, error)
}

type Server struct {
	config     *config.Config
	store      *account.Store
	market     marketClient
	auth       authClient
	httpServer *http.Server

	serveFn    func() error
	shutdownFn func(ctx context.Context) error
}

func New(cfg *config.Config) *Server {
	if cfg == nil {
		cfg = &config.Config{
			Host:    "0.0.0.0",
			Port:    3000,
			DataDir: "./data",
		}
	}

	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}

	store := account.NewStore(cfg.DataDir, cfg.TokenTTL())
	oauthClient := oauth.NewClient(cfg)

	s := &Server{
		config: cfg,
		store:  store,
		market: meli.NewClient(store, oauthClient, cfg),
		auth:   oauthClient,
	}
	s.seedAccounts()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.setupRoutes(),
	}
	s.serveFn = s.httpServer.ListenAndServe
	s.shutdownFn = s.httpServer.Shutdown

	return s
}

// seedAccounts loads every stored account into the marketplace client's
// working set so batch endpoints see them without a fresh login.
func (s *Server) seedAccounts() {
	accounts, err := s.store.List()
	if err != nil {
		log.Warn().Err(err).Msg("could not load stored accounts")
		return
	}
	for _, acct := range accounts {
		if err := s.market.AddAccount(acct); err != nil {
			log.Warn().Err(err).Str("nickname", acct.Nickname).Msg("could not register account")
		}
	}
	log.Info().Int("accounts", len(accounts)).Msg("accounts loaded")
}

func (s *Server) Start() error {
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("http server starting")

	if err := s.serveFn(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.shutdownFn(ctx); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("stop server: %w", err)
	}
	return nil
}
