package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
)

const (
	Reddit = "reddit"

	redditTitleLimit = 300
	defaultRedditUA  = "social-publisher/1.0"
)

var _ repository.IPlatformAdapter = (*RedditAdapter)(nil)

// RedditAdapter asks for a permanent grant so a refresh token is issued.
// Reddit rejects requests without a descriptive User-Agent.
type RedditAdapter struct {
	*base
}

type redditSubmit struct {
	APIType     string `url:"api_type"`
	Kind        string `url:"kind"`
	Subreddit   string `url:"sr"`
	Title       string `url:"title"`
	Text        string `url:"text,omitempty"`
	SendReplies bool   `url:"sendreplies"`
}

func NewRedditAdapter(client configuration.OAuthClient, opts ...Option) *RedditAdapter {
	if client.UserAgent == "" {
		client.UserAgent = defaultRedditUA
	}
	b := newBase(Reddit, client, oauth2.Endpoint{
		AuthURL:   "https://www.reddit.com/api/v1/authorize",
		TokenURL:  "https://www.reddit.com/api/v1/access_token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}, []string{"identity", "submit", "read"})
	b.authParams = []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("duration", "permanent")}
	b.apiBase = "https://oauth.reddit.com"
	b.revokeURL = "https://www.reddit.com/api/v1/revoke_token"
	b.apply(opts)
	return &RedditAdapter{base: b}
}

func (a *RedditAdapter) FetchIdentity(ctx context.Context, accessToken string) (*model.Identity, error) {
	var me struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		IconImg    string `json:"icon_img"`
		TotalKarma int64  `json:"total_karma"`
		Verified   bool   `json:"verified"`
		Subreddit  struct {
			DisplayNamePrefixed string `json:"display_name_prefixed"`
			Subscribers         int64  `json:"subscribers"`
		} `json:"subreddit"`
	}
	if _, err := a.doJSON(ctx, http.MethodGet, "/api/v1/me", accessToken, nil, &me); err != nil {
		return nil, fmt.Errorf("fetch reddit identity: %w", err)
	}
	if me.ID == "" {
		return nil, fmt.Errorf("fetch reddit identity: empty user id")
	}
	return &model.Identity{
		AccountID:       me.ID,
		DisplayName:     me.Name,
		Username:        me.Name,
		ProfileImageURL: strings.Split(me.IconImg, "?")[0],
		FollowerCount:   me.Subreddit.Subscribers,
		Verified:        me.Verified,
		Raw: map[string]any{
			"total_karma": me.TotalKarma,
			"profile_sr":  me.Subreddit.DisplayNamePrefixed,
		},
	}, nil
}

// Publish submits a self post to the account's profile subreddit.
func (a *RedditAdapter) Publish(ctx context.Context, accessToken string, account *model.SocialAccount, post *model.Post) (*model.PublishResult, error) {
	title := post.Title
	if title == "" {
		title = post.Content
	}
	if r := []rune(title); len(r) > redditTitleLimit {
		title = string(r[:redditTitleLimit])
	}
	form, err := query.Values(redditSubmit{
		APIType:     "json",
		Kind:        "self",
		Subreddit:   "u_" + account.Username,
		Title:       title,
		Text:        post.Content,
		SendReplies: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/api/submit", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		JSON struct {
			Errors [][]any `json:"errors"`
			Data   struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				URL  string `json:"url"`
			} `json:"data"`
		} `json:"json"`
	}
	if err := a.do(req, &out); err != nil {
		return nil, fmt.Errorf("submit reddit post: %w", err)
	}
	if len(out.JSON.Errors) > 0 {
		return nil, fmt.Errorf("submit reddit post: %v", out.JSON.Errors[0])
	}
	return &model.PublishResult{
		PlatformPostID: out.JSON.Data.ID,
		PlatformURL:    out.JSON.Data.URL,
		Raw:            map[string]any{"id": out.JSON.Data.ID, "name": out.JSON.Data.Name, "url": out.JSON.Data.URL},
	}, nil
}

func (a *RedditAdapter) Revoke(ctx context.Context, accessToken string) error {
	return a.revoke(ctx, accessToken)
}
