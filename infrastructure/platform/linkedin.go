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

const LinkedIn = "linkedin"

var _ repository.IPlatformAdapter = (*LinkedInAdapter)(nil)

// LinkedInAdapter skips PKCE and sends client credentials in the request body.
// LinkedIn has no token revocation endpoint.
type LinkedInAdapter struct {
	*base
}

func NewLinkedInAdapter(client configuration.OAuthClient, opts ...Option) *LinkedInAdapter {
	b := newBase(LinkedIn, client, oauth2.Endpoint{
		AuthURL:   "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL:  "https://www.linkedin.com/oauth/v2/accessToken",
		AuthStyle: oauth2.AuthStyleInParams,
	}, []string{"openid", "profile", "email", "w_member_social"})
	b.apiBase = "https://api.linkedin.com"
	b.apply(opts)
	return &LinkedInAdapter{base: b}
}

func (a *LinkedInAdapter) FetchIdentity(ctx context.Context, accessToken string) (*model.Identity, error) {
	var info struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
		Picture       string `json:"picture"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if _, err := a.doJSON(ctx, http.MethodGet, "/v2/userinfo", accessToken, nil, &info); err != nil {
		return nil, fmt.Errorf("fetch linkedin identity: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("fetch linkedin identity: empty subject")
	}
	name := info.Name
	if name == "" {
		name = info.GivenName + " " + info.FamilyName
	}
	return &model.Identity{
		AccountID:       info.Sub,
		DisplayName:     name,
		Username:        info.Email,
		ProfileImageURL: info.Picture,
		Verified:        info.EmailVerified,
		Raw:             map[string]any{"email": info.Email, "person_urn": personURN(info.Sub)},
	}, nil
}

func (a *LinkedInAdapter) Publish(ctx context.Context, accessToken string, account *model.SocialAccount, post *model.Post) (*model.PublishResult, error) {
	body := map[string]any{
		"author":         personURN(account.AccountID),
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": post.Content},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	resp, err := a.doJSON(ctx, http.MethodPost, "/v2/ugcPosts", accessToken, body, &out)
	if err != nil {
		return nil, fmt.Errorf("create linkedin post: %w", err)
	}
	id := out.ID
	if id == "" {
		id = resp.Header.Get("X-RestLi-Id")
	}
	return &model.PublishResult{
		PlatformPostID: id,
		PlatformURL:    "https://www.linkedin.com/feed/update/" + id,
		Raw:            map[string]any{"id": id},
	}, nil
}

func (a *LinkedInAdapter) Revoke(ctx context.Context, accessToken string) error {
	return nil
}

func personURN(sub string) string {
	return "urn:li:person:" + sub
}
