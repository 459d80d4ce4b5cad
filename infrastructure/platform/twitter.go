package platform

import (
	"context"
	"fmt"
	"net/http"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"

	"golang.org/x/oauth2"
)

const Twitter = "twitter"

var _ repository.IPlatformAdapter = (*TwitterAdapter)(nil)

// TwitterAdapter uses OAuth 2.0 with PKCE and confidential-client Basic auth.
type TwitterAdapter struct {
	*base
}

func NewTwitterAdapter(client configuration.OAuthClient, opts ...Option) *TwitterAdapter {
	b := newBase(Twitter, client, oauth2.Endpoint{
		AuthURL:   "https://twitter.com/i/oauth2/authorize",
		TokenURL:  "https://api.twitter.com/2/oauth2/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}, []string{"tweet.read", "tweet.write", "users.read", "offline.access"})
	b.pkce = true
	b.verifierLen = 128
	b.apiBase = "https://api.twitter.com/2"
	b.revokeURL = "https://api.twitter.com/2/oauth2/revoke"
	b.apply(opts)
	return &TwitterAdapter{base: b}
}

func (a *TwitterAdapter) FetchIdentity(ctx context.Context, accessToken string) (*model.Identity, error) {
	var resp struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
			Verified        bool   `json:"verified"`
			PublicMetrics   struct {
				FollowersCount int64 `json:"followers_count"`
				FollowingCount int64 `json:"following_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	path := "/users/me?user.fields=profile_image_url,public_metrics,verified"
	if _, err := a.doJSON(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch twitter identity: %w", err)
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("fetch twitter identity: empty user id")
	}
	d := resp.Data
	return &model.Identity{
		AccountID:       d.ID,
		DisplayName:     d.Name,
		Username:        d.Username,
		ProfileImageURL: d.ProfileImageURL,
		FollowerCount:   d.PublicMetrics.FollowersCount,
		FollowingCount:  d.PublicMetrics.FollowingCount,
		Verified:        d.Verified,
		Raw:             map[string]any{"username": d.Username},
	}, nil
}

func (a *TwitterAdapter) Publish(ctx context.Context, accessToken string, account *model.SocialAccount, post *model.Post) (*model.PublishResult, error) {
	var resp struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	body := map[string]any{"text": post.Content}
	if _, err := a.doJSON(ctx, http.MethodPost, "/tweets", accessToken, body, &resp); err != nil {
		return nil, fmt.Errorf("create tweet: %w", err)
	}
	return &model.PublishResult{
		PlatformPostID: resp.Data.ID,
		PlatformURL:    fmt.Sprintf("https://twitter.com/%s/status/%s", account.Username, resp.Data.ID),
		Raw:            map[string]any{"id": resp.Data.ID, "text": resp.Data.Text},
	}, nil
}

func (a *TwitterAdapter) Revoke(ctx context.Context, accessToken string) error {
	return a.revoke(ctx, accessToken)
}
