package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"meli-manager/internal/account"
	"meli-manager/internal/config"
)

const (
	defaultCheckInterval = time.Hour
	defaultRefreshBuffer = 15 * time.Minute
)

// Refresher periodically renews access tokens that are about to expire so
// interactive requests rarely pay the refresh round-trip themselves.
type Refresher struct {
	store         *account.Store
	client        *Client
	clientID      string
	tokenTTL      time.Duration
	checkInterval time.Duration
	refreshBuffer time.Duration
	stopChan      chan struct{}
	doneChan      chan struct{}

	mu      sync.Mutex
	running bool
}

func NewRefresher(store *account.Store, cfg *config.Config) *Refresher {
	return &Refresher{
		store:         store,
		client:        NewClient(cfg),
		clientID:      cfg.ClientID,
		tokenTTL:      cfg.TokenTTL(),
		checkInterval: defaultCheckInterval,
		refreshBuffer: defaultRefreshBuffer,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
}

func (r *Refresher) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		log.Debug().Msg("token refresher: start ignored because it is already running")
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.doneChan = make(chan struct{})
	r.mu.Unlock()

	log.Info().
		Dur("check_interval", r.checkInterval).
		Dur("refresh_buffer", r.refreshBuffer).
		Msg("token refresher: started")
	go r.loop()
}

func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		log.Debug().Msg("token refresher: stop ignored because it is not running")
		return
	}
	r.running = false
	stopChan := r.stopChan
	doneChan := r.doneChan
	r.mu.Unlock()

	close(stopChan)
	<-doneChan
	log.Info().Msg("token refresher: stopped")
}

func (r *Refresher) shouldRefresh(acct *account.Account) bool {
	if acct == nil {
		return false
	}
	if acct.Auth.RefreshToken == "" {
		return false
	}
	if acct.Auth.Expires.IsZero() {
		return false
	}
	return time.Until(acct.Auth.Expires) <= r.refreshBuffer
}

func (r *Refresher) loop() {
	defer close(r.doneChan)

	r.refreshOnce()

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refreshOnce()
		case <-r.stopChan:
			return
		}
	}
}

func (r *Refresher) refreshOnce() {
	accounts, err := r.store.List()
	if err != nil {
		log.Warn().Err(err).Msg("token refresher: list accounts failed")
		return
	}

	candidates := 0
	refreshed := 0

	for _, acct := range accounts {
		if !r.shouldRefresh(acct) {
			continue
		}
		candidates++

		if err := acct.CheckRefreshable(r.clientID); err != nil {
			log.Warn().
				Err(err).
				Str("nickname", acct.Nickname).
				Msg("token refresher: account not refreshable under active client")
			continue
		}

		token, err := r.client.RefreshToken(context.Background(), acct.Auth.RefreshToken)
		if err != nil {
			log.Warn().
				Err(err).
				Str("nickname", acct.Nickname).
				Msg("token refresher: refresh token failed")
			continue
		}

		acct.Auth.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			acct.Auth.RefreshToken = token.RefreshToken
		}
		acct.Auth.Expires = time.Now().UTC().Add(r.tokenTTL)

		if err := r.store.Save(acct); err != nil {
			log.Warn().
				Err(err).
				Str("nickname", acct.Nickname).
				Msg("token refresher: persist refreshed token failed")
			continue
		}

		log.Info().
			Str("nickname", acct.Nickname).
			Time("expires", acct.Auth.Expires).
			Msg("token refresher: token refreshed")
		refreshed++
	}

	log.Debug().
		Int("accounts", len(accounts)).
		Int("candidates", candidates).
		Int("refreshed", refreshed).
		Msg("token refresher: cycle completed")
}
