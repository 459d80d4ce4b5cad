package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/crypto"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/utils"

	"golang.org/x/sync/singleflight"
)

// AuthRequest is the result of starting an authorization flow.
type AuthRequest struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type RefreshResult struct {
	AccessToken string `json:"-"`
	ExpiresIn   int64  `json:"expires_in"`
}

type RefreshSweepResult struct {
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
}

type IConnectionUsecase interface {
	GenerateAuthURL(ctx context.Context, userID, platformID, callbackURL string, scopes []string) (*AuthRequest, error)
	HandleCallback(ctx context.Context, platformID, code, state string) (*model.SocialAccount, *model.Identity, error)
	RefreshAccessToken(ctx context.Context, accountID int64, userID string) (*RefreshResult, error)
	// DisconnectAccount revokes upstream on a best-effort basis, then deletes the row.
	DisconnectAccount(ctx context.Context, accountID int64, userID string) error
	// ValidateState peeks at a pending flow without consuming it. It returns nil when absent.
	ValidateState(ctx context.Context, state string) (*model.ConnectionState, error)
	ListConnections(ctx context.Context, userID, platformID string) ([]*model.SocialAccount, error)
	Stats(ctx context.Context, userID string) ([]model.PlatformStats, error)
	// AccessToken returns a usable access token for the account, refreshing it first when close to expiry.
	AccessToken(ctx context.Context, account *model.SocialAccount) (string, error)
	RefreshSweep(ctx context.Context) (*RefreshSweepResult, error)
}

type ConnectionConfig struct {
	StateTTL      time.Duration
	RefreshBuffer time.Duration
	SweepBatch    int
}

type connectionUsecase struct {
	accounts repository.ISocialAccount
	registry repository.IPlatformRegistry
	store    repository.ICorrelationStore
	cipher   *crypto.Cipher
	cfg      ConnectionConfig
	now      func() time.Time
	// flights collapses concurrent refreshes of one account; platforms that
	// rotate refresh tokens reject the second use of the old one.
	flights singleflight.Group
}

func NewConnectionUsecase(
	accounts repository.ISocialAccount,
	registry repository.IPlatformRegistry,
	store repository.ICorrelationStore,
	cipher *crypto.Cipher,
	cfg ConnectionConfig,
) IConnectionUsecase {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = crypto.DefaultRefreshBuffer
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 50
	}
	return &connectionUsecase{
		accounts: accounts,
		registry: registry,
		store:    store,
		cipher:   cipher,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (u *connectionUsecase) GenerateAuthURL(ctx context.Context, userID, platformID, callbackURL string, scopes []string) (*AuthRequest, error) {
	adapter, err := u.registry.Adapter(platformID)
	if err != nil {
		return nil, err
	}
	if callbackURL == "" {
		callbackURL = adapter.RedirectURI()
	} else if !sameOrigin(callbackURL, adapter.RedirectURI()) {
		logger.GetLogger().WithField("platform", platformID).WithField("callback_url", callbackURL).
			Warn("Callback URL rejected")
		return nil, model.ErrInvalidCallbackURL
	}
	if len(scopes) == 0 {
		scopes = adapter.DefaultScopes()
	}

	var verifier, challenge string
	if adapter.UsesPKCE() {
		if verifier, err = utils.NewCodeVerifier(adapter.VerifierLength()); err != nil {
			return nil, err
		}
		challenge = utils.CodeChallenge(verifier)
	}
	state, err := utils.NewState()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(&model.ConnectionState{
		UserID:       userID,
		PlatformID:   platformID,
		CodeVerifier: verifier,
		CallbackURL:  callbackURL,
		Scope:        scopes,
		CreatedAt:    u.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if err := u.store.Put(ctx, model.ConnectionStateKey(state), payload, u.cfg.StateTTL); err != nil {
		return nil, fmt.Errorf("store connection state: %w", err)
	}

	logger.GetLogger().WithField("user_id", userID).WithField("platform", platformID).
		WithField("pkce", adapter.UsesPKCE()).Info("Authorization flow started")
	return &AuthRequest{URL: adapter.AuthCodeURL(state, challenge, callbackURL, scopes), State: state}, nil
}

func (u *connectionUsecase) HandleCallback(ctx context.Context, platformID, code, state string) (*model.SocialAccount, *model.Identity, error) {
	if state == "" || code == "" {
		return nil, nil, model.ErrInvalidOrExpiredState
	}
	raw, err := u.store.Get(ctx, model.ConnectionStateKey(state))
	if errors.Is(err, repository.ErrCacheMiss) {
		return nil, nil, model.ErrInvalidOrExpiredState
	}
	if err != nil {
		return nil, nil, err
	}
	var cs model.ConnectionState
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, nil, model.ErrInvalidOrExpiredState
	}
	if platformID != "" && platformID != cs.PlatformID {
		return nil, nil, model.ErrInvalidOrExpiredState
	}
	log := logger.GetLogger().WithField("user_id", cs.UserID).WithField("platform", cs.PlatformID)

	adapter, err := u.registry.Adapter(cs.PlatformID)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := adapter.Exchange(ctx, code, cs.CodeVerifier, cs.CallbackURL)
	if err != nil {
		log.WithField("error", err).Warn("Token exchange failed")
		return nil, nil, err
	}
	identity, err := adapter.FetchIdentity(ctx, tokens.AccessToken)
	if err != nil {
		log.WithField("error", err).Error("Fetching identity failed")
		return nil, nil, err
	}
	bundle, err := u.cipher.EncryptTokenPair(tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		return nil, nil, err
	}

	now := u.now().UTC()
	scope := tokens.Scope
	if len(scope) == 0 {
		scope = cs.Scope
	}
	platformData := identity.Raw
	if platformData == nil {
		platformData = map[string]any{}
	}
	account := &model.SocialAccount{
		UserID:           cs.UserID,
		PlatformID:       cs.PlatformID,
		AccountID:        identity.AccountID,
		DisplayName:      identity.DisplayName,
		Username:         identity.Username,
		ProfileImageURL:  identity.ProfileImageURL,
		FollowerCount:    identity.FollowerCount,
		FollowingCount:   identity.FollowingCount,
		OAuthVersion:     model.OAuthVersion2,
		Scope:            scope,
		AccessTokenEnc:   bundle.AccessToken,
		RefreshTokenEnc:  bundle.RefreshToken,
		TokenIV:          bundle.IV,
		TokenExpiresAt:   crypto.CalculateExpiry(now, tokens.ExpiresIn),
		ConnectionStatus: model.ConnectionConnected,
		IsActive:         true,
		IsVerified:       identity.Verified,
		LastSyncAt:       &now,
		PlatformData:     platformData,
	}
	if err := u.accounts.Create(ctx, account); err != nil {
		log.WithField("error", err).Error("Saving social account failed")
		return nil, nil, err
	}
	log.WithField("account_id", account.ID).Info("Social account connected")
	return account, identity, nil
}

func (u *connectionUsecase) RefreshAccessToken(ctx context.Context, accountID int64, userID string) (*RefreshResult, error) {
	account, err := u.accounts.GetByID(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	return u.refresh(ctx, account.ID, true)
}

// refresh runs at most one refresh per account at a time. Callers that join an
// in-flight refresh share its outcome. Unless force is set, a token another
// caller already renewed is returned as is.
func (u *connectionUsecase) refresh(ctx context.Context, accountID int64, force bool) (*RefreshResult, error) {
	v, err, shared := u.flights.Do(strconv.FormatInt(accountID, 10), func() (any, error) {
		// The flight outlives any single caller.
		return u.refreshAccount(context.WithoutCancel(ctx), accountID, force)
	})
	if shared {
		logger.GetLogger().WithField("account_id", accountID).Debug("Joined in-flight token refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*RefreshResult), nil
}

func (u *connectionUsecase) refreshAccount(ctx context.Context, accountID int64, force bool) (*RefreshResult, error) {
	account, err := u.accounts.GetByID(ctx, accountID, "")
	if err != nil {
		return nil, err
	}
	log := logger.GetLogger().WithField("account_id", account.ID).WithField("platform", account.PlatformID)
	if !account.HasRefreshToken() {
		return nil, model.ErrRefreshUnavailable
	}
	if !force && !crypto.NeedsRefresh(account.TokenExpiresAt, u.now(), u.cfg.RefreshBuffer) {
		accessToken, _, err := u.cipher.DecryptTokenPair(bundleOf(account))
		if err != nil {
			return nil, err
		}
		var expiresIn int64
		if account.TokenExpiresAt != nil {
			expiresIn = int64(account.TokenExpiresAt.Sub(u.now()).Seconds())
		}
		return &RefreshResult{AccessToken: accessToken, ExpiresIn: expiresIn}, nil
	}
	_, refreshToken, err := u.cipher.DecryptTokenPair(bundleOf(account))
	if err != nil {
		log.Error("Stored tokens could not be decrypted")
		return nil, err
	}
	adapter, err := u.registry.Adapter(account.PlatformID)
	if err != nil {
		return nil, err
	}

	tokens, err := adapter.Refresh(ctx, refreshToken)
	if err != nil {
		attempts, uerr := u.accounts.RecordRefreshFailure(ctx, account.ID, err.Error())
		if uerr != nil {
			log.WithField("error", uerr).Error("Recording refresh failure failed")
		}
		log.WithField("error", err).WithField("attempts", attempts).Warn("Token refresh failed")
		return nil, err
	}

	// Platforms that do not rotate refresh tokens omit them from the response.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	bundle, err := u.cipher.EncryptTokenPair(tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		return nil, err
	}
	now := u.now().UTC()
	fields := map[string]any{
		"access_token_enc":       bundle.AccessToken,
		"refresh_token_enc":      bundle.RefreshToken,
		"token_iv":               bundle.IV,
		"token_expires_at":       crypto.CalculateExpiry(now, tokens.ExpiresIn),
		"last_token_refresh":     now,
		"token_refresh_attempts": 0,
		"token_refresh_error":    nil,
		"connection_status":      model.ConnectionConnected,
	}
	if len(tokens.Scope) > 0 {
		fields["scope"] = tokens.Scope
	}
	if err := u.accounts.Update(ctx, account.ID, "", fields); err != nil {
		return nil, err
	}
	log.Info("Token refreshed")
	return &RefreshResult{AccessToken: tokens.AccessToken, ExpiresIn: tokens.ExpiresIn}, nil
}

func (u *connectionUsecase) DisconnectAccount(ctx context.Context, accountID int64, userID string) error {
	account, err := u.accounts.GetByID(ctx, accountID, userID)
	if err != nil {
		return err
	}
	log := logger.GetLogger().WithField("account_id", accountID).WithField("platform", account.PlatformID)

	if err := u.revoke(ctx, account); err != nil {
		log.WithField("revoke_failed", true).WithField("error", err).Warn("Upstream revocation failed; deleting locally")
	}
	if err := u.accounts.Delete(ctx, accountID, userID); err != nil {
		log.WithField("error", err).Error("Deleting social account failed")
		return err
	}
	log.Info("Social account disconnected")
	return nil
}

func (u *connectionUsecase) revoke(ctx context.Context, account *model.SocialAccount) error {
	adapter, err := u.registry.Adapter(account.PlatformID)
	if err != nil {
		return err
	}
	accessToken, _, err := u.cipher.DecryptTokenPair(bundleOf(account))
	if err != nil {
		return err
	}
	return adapter.Revoke(ctx, accessToken)
}

func (u *connectionUsecase) ValidateState(ctx context.Context, state string) (*model.ConnectionState, error) {
	raw, err := u.store.Peek(ctx, model.ConnectionStateKey(state))
	if errors.Is(err, repository.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cs model.ConnectionState
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, nil
	}
	cs.CodeVerifier = ""
	return &cs, nil
}

func (u *connectionUsecase) ListConnections(ctx context.Context, userID, platformID string) ([]*model.SocialAccount, error) {
	return u.accounts.GetByUser(ctx, userID, platformID)
}

func (u *connectionUsecase) Stats(ctx context.Context, userID string) ([]model.PlatformStats, error) {
	return u.accounts.GetStats(ctx, userID)
}

func (u *connectionUsecase) AccessToken(ctx context.Context, account *model.SocialAccount) (string, error) {
	if account.HasRefreshToken() && crypto.NeedsRefresh(account.TokenExpiresAt, u.now(), u.cfg.RefreshBuffer) {
		res, err := u.refresh(ctx, account.ID, false)
		if err != nil {
			return "", err
		}
		return res.AccessToken, nil
	}
	accessToken, _, err := u.cipher.DecryptTokenPair(bundleOf(account))
	return accessToken, err
}

// RefreshSweep refreshes tokens about to expire and marks expired accounts that cannot be refreshed.
func (u *connectionUsecase) RefreshSweep(ctx context.Context) (*RefreshSweepResult, error) {
	res := &RefreshSweepResult{}
	due, err := u.accounts.GetNeedingRefresh(ctx, u.cfg.RefreshBuffer, u.cfg.SweepBatch)
	if err != nil {
		return nil, err
	}
	for _, a := range due {
		if _, err := u.refresh(ctx, a.ID, false); err != nil {
			res.Failed++
			continue
		}
		res.Refreshed++
	}

	expired, err := u.accounts.GetExpired(ctx, u.cfg.SweepBatch)
	if err != nil {
		return res, err
	}
	for _, a := range expired {
		if a.HasRefreshToken() {
			continue
		}
		if err := u.accounts.Update(ctx, a.ID, "", map[string]any{"connection_status": model.ConnectionExpired}); err != nil {
			logger.GetLogger().WithField("account_id", a.ID).WithField("error", err).Error("Marking account expired failed")
			continue
		}
		res.Expired++
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"refreshed": res.Refreshed,
		"failed":    res.Failed,
		"expired":   res.Expired,
	}).Info("Token refresh sweep finished")
	return res, nil
}

// sameOrigin reports whether candidate has the scheme and host of registered.
func sameOrigin(candidate, registered string) bool {
	c, err := url.Parse(candidate)
	if err != nil || c.Scheme == "" || c.Host == "" || c.User != nil {
		return false
	}
	r, err := url.Parse(registered)
	if err != nil {
		return false
	}
	return c.Scheme == r.Scheme && c.Host == r.Host
}

func bundleOf(a *model.SocialAccount) *crypto.TokenBundle {
	return &crypto.TokenBundle{AccessToken: a.AccessTokenEnc, RefreshToken: a.RefreshTokenEnc, IV: a.TokenIV}
}
