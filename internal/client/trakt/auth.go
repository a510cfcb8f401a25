package trakt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"

	"github.com/reelpick/pkg/logger"
)

// Refresh a day before the access token expires.
const tokenExpirySafe = 24 * time.Hour

var (
	ErrNotAuthenticated = errors.New("trakt: not authorized")
	ErrAuthDenied       = errors.New("trakt: authorization denied")
	ErrAuthExpired      = errors.New("trakt: device code expired")
)

// authManager runs the device authorization flow and keeps tokens fresh.
type authManager struct {
	client       *resty.Client
	clientID     string
	clientSecret string
	tokenPath    string
	now          func() time.Time

	mu     sync.RWMutex
	tokens *tokenStore
}

func newAuthManager(client *resty.Client, clientID, clientSecret, tokenPath string) *authManager {
	return &authManager{
		client:       client,
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenPath:    tokenPath,
		now:          time.Now,
	}
}

// authorize loads stored tokens, refreshing them if close to expiry, and
// falls back to the device flow when there are none or refresh fails.
func (a *authManager) authorize(ctx context.Context) error {
	if err := a.loadTokens(); err == nil {
		if !a.needsRefresh() {
			return nil
		}
		logger.Debug("[trakt] refreshing token")
		err := a.refresh(ctx)
		if err == nil {
			return nil
		}
		logger.Warnf("[trakt] token refresh failed, need re-auth: %v", err)
	}
	return a.deviceAuth(ctx)
}

// token returns a valid access token, refreshing it first when needed.
func (a *authManager) token(ctx context.Context) (string, error) {
	a.mu.RLock()
	tokens := a.tokens
	a.mu.RUnlock()

	if tokens == nil && a.loadTokens() == nil {
		a.mu.RLock()
		tokens = a.tokens
		a.mu.RUnlock()
	}

	if tokens == nil || tokens.AccessToken == "" {
		return "", ErrNotAuthenticated
	}
	if a.needsRefresh() {
		if err := a.refresh(ctx); err != nil {
			return "", err
		}
		a.mu.RLock()
		tokens = a.tokens
		a.mu.RUnlock()
	}
	return tokens.AccessToken, nil
}

func (a *authManager) authenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokens != nil && a.tokens.AccessToken != ""
}

func (a *authManager) needsRefresh() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.tokens == nil {
		return true
	}
	return a.now().Add(tokenExpirySafe).After(a.tokens.ExpiresAt)
}

func (a *authManager) loadTokens() error {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return err
	}

	var tokens tokenStore
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parsing %s: %w", a.tokenPath, err)
	}

	a.mu.Lock()
	a.tokens = &tokens
	a.mu.Unlock()
	return nil
}

func (a *authManager) setTokens(tokens *tokenStore) error {
	a.mu.Lock()
	a.tokens = tokens
	a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.tokenPath), 0755); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.tokenPath, data, 0600)
}

func (a *authManager) deviceAuth(ctx context.Context) error {
	var code deviceCodeResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"client_id": a.clientID}).
		SetResult(&code).
		Post("/oauth/device/code")
	if err != nil {
		return fmt.Errorf("getting device code: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("device code error: status=%d", resp.StatusCode())
	}

	logger.Info("")
	logger.Info("┌──────────────────────────────────────────────────────────────┐")
	logger.Info("│            TRAKT AUTHORIZATION (history import)              │")
	logger.Info("├──────────────────────────────────────────────────────────────┤")
	logger.Infof("│  1. Go to: %-50s│", code.VerificationURL)
	logger.Infof("│  2. Enter code: %-45s│", code.UserCode)
	logger.Info("└──────────────────────────────────────────────────────────────┘")
	logger.Info("⏳ Waiting for Trakt authorization...")

	interval := time.Duration(code.Interval) * time.Second
	if interval < time.Second {
		interval = 5 * time.Second
	}
	deadline := a.now().Add(time.Duration(code.ExpiresIn) * time.Second)

	for a.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		token, err := a.poll(ctx, code.DeviceCode)
		if err != nil {
			return err
		}
		if token != nil {
			logger.Info("✅  Trakt authorized")
			return a.setTokens(token.store())
		}
	}
	return ErrAuthExpired
}

// poll returns (nil, nil) while the user has not answered yet.
func (a *authManager) poll(ctx context.Context, deviceCode string) (*tokenResponse, error) {
	var token tokenResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"code":          deviceCode,
			"client_id":     a.clientID,
			"client_secret": a.clientSecret,
		}).
		SetResult(&token).
		Post("/oauth/device/token")
	if err != nil {
		return nil, fmt.Errorf("polling token: %w", err)
	}

	switch resp.StatusCode() {
	case 200:
		return &token, nil
	case 400, 429:
		return nil, nil
	case 410:
		return nil, ErrAuthExpired
	case 418:
		return nil, ErrAuthDenied
	default:
		return nil, fmt.Errorf("device token: unexpected status %d", resp.StatusCode())
	}
}

func (a *authManager) refresh(ctx context.Context) error {
	a.mu.RLock()
	if a.tokens == nil {
		a.mu.RUnlock()
		return ErrNotAuthenticated
	}
	refreshToken := a.tokens.RefreshToken
	a.mu.RUnlock()

	var token tokenResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"refresh_token": refreshToken,
			"client_id":     a.clientID,
			"client_secret": a.clientSecret,
			"grant_type":    "refresh_token",
		}).
		SetResult(&token).
		Post("/oauth/token")
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("refresh error: status=%d", resp.StatusCode())
	}

	return a.setTokens(token.store())
}
