package platform

import (
	"context"
	"fmt"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const YouTube = "youtube"

var _ repository.IPlatformAdapter = (*YouTubeAdapter)(nil)

// YouTubeAdapter connects a Google account's channel. Text posts cannot be
// published through the Data API, so Publish always fails.
type YouTubeAdapter struct {
	*base
	endpoint string
}

func NewYouTubeAdapter(client configuration.OAuthClient, opts ...Option) *YouTubeAdapter {
	b := newBase(YouTube, client, google.Endpoint, []string{
		youtube.YoutubeReadonlyScope,
		youtube.YoutubeUploadScope,
	})
	b.pkce = true
	b.verifierLen = 64
	b.authParams = []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	b.revokeURL = "https://oauth2.googleapis.com/revoke"
	b.apply(opts)
	return &YouTubeAdapter{base: b, endpoint: b.apiBase}
}

func (a *YouTubeAdapter) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	httpClient := oauth2.NewClient(a.oauthContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint+"/"))
	}
	return youtube.NewService(ctx, opts...)
}

func (a *YouTubeAdapter) FetchIdentity(ctx context.Context, accessToken string) (*model.Identity, error) {
	svc, err := a.service(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	resp, err := svc.Channels.List([]string{"snippet", "statistics"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetch youtube channel: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("fetch youtube channel: account has no channel")
	}

	ch := resp.Items[0]
	id := &model.Identity{AccountID: ch.Id, Raw: map[string]any{}}
	if ch.Snippet != nil {
		id.DisplayName = ch.Snippet.Title
		id.Username = ch.Snippet.CustomUrl
		if ch.Snippet.Thumbnails != nil && ch.Snippet.Thumbnails.Default != nil {
			id.ProfileImageURL = ch.Snippet.Thumbnails.Default.Url
		}
	}
	if ch.Statistics != nil {
		id.FollowerCount = int64(ch.Statistics.SubscriberCount)
		id.Raw["video_count"] = int64(ch.Statistics.VideoCount)
		id.Raw["view_count"] = int64(ch.Statistics.ViewCount)
	}
	return id, nil
}

func (a *YouTubeAdapter) Publish(ctx context.Context, accessToken string, account *model.SocialAccount, post *model.Post) (*model.PublishResult, error) {
	return nil, fmt.Errorf("%w: %s", model.ErrPublishNotSupportedForPlatform, YouTube)
}

func (a *YouTubeAdapter) Revoke(ctx context.Context, accessToken string) error {
	return a.revoke(ctx, accessToken)
}
