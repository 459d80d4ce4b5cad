package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"social-publisher/domain/model"
	"social-publisher/usecase"
)

type MockConnectionUsecase struct {
	mock.Mock
}

func (m *MockConnectionUsecase) GenerateAuthURL(ctx context.Context, userID, platformID, callbackURL string, scopes []string) (*usecase.AuthRequest, error) {
	args := m.Called(ctx, userID, platformID, callbackURL, scopes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.AuthRequest), args.Error(1)
}

func (m *MockConnectionUsecase) HandleCallback(ctx context.Context, platformID, code, state string) (*model.SocialAccount, *model.Identity, error) {
	args := m.Called(ctx, platformID, code, state)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.SocialAccount), args.Get(1).(*model.Identity), args.Error(2)
}

func (m *MockConnectionUsecase) RefreshAccessToken(ctx context.Context, accountID int64, userID string) (*usecase.RefreshResult, error) {
	args := m.Called(ctx, accountID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.RefreshResult), args.Error(1)
}

func (m *MockConnectionUsecase) DisconnectAccount(ctx context.Context, accountID int64, userID string) error {
	return m.Called(ctx, accountID, userID).Error(0)
}

func (m *MockConnectionUsecase) ValidateState(ctx context.Context, state string) (*model.ConnectionState, error) {
	args := m.Called(ctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConnectionState), args.Error(1)
}

func (m *MockConnectionUsecase) ListConnections(ctx context.Context, userID, platformID string) ([]*model.SocialAccount, error) {
	args := m.Called(ctx, userID, platformID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SocialAccount), args.Error(1)
}

func (m *MockConnectionUsecase) Stats(ctx context.Context, userID string) ([]model.PlatformStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PlatformStats), args.Error(1)
}

func (m *MockConnectionUsecase) AccessToken(ctx context.Context, account *model.SocialAccount) (string, error) {
	args := m.Called(ctx, account)
	return args.String(0), args.Error(1)
}

func (m *MockConnectionUsecase) RefreshSweep(ctx context.Context) (*usecase.RefreshSweepResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.RefreshSweepResult), args.Error(1)
}

type MockDistributionUsecase struct {
	mock.Mock
}

func (m *MockDistributionUsecase) CreatePost(ctx context.Context, userID string, in usecase.CreatePostInput) (*model.Post, error) {
	args := m.Called(ctx, userID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Post), args.Error(1)
}

func (m *MockDistributionUsecase) GetPostWithLedger(ctx context.Context, postID int64, userID string) (*usecase.PostWithLedger, error) {
	args := m.Called(ctx, postID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.PostWithLedger), args.Error(1)
}

func (m *MockDistributionUsecase) LinkToAccounts(ctx context.Context, postID int64, userID string, accountIDs []int64) ([]*model.PostAccount, error) {
	args := m.Called(ctx, postID, userID, accountIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PostAccount), args.Error(1)
}

func (m *MockDistributionUsecase) Unlink(ctx context.Context, postID, accountID int64, userID string) error {
	return m.Called(ctx, postID, accountID, userID).Error(0)
}

func (m *MockDistributionUsecase) Schedule(ctx context.Context, postID int64, userID string, at time.Time, accountIDs []int64) ([]*model.PostAccount, error) {
	args := m.Called(ctx, postID, userID, at, accountIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PostAccount), args.Error(1)
}

func (m *MockDistributionUsecase) PublishNow(ctx context.Context, postID int64, userID string, accountID *int64) (*usecase.FanOutResult, error) {
	args := m.Called(ctx, postID, userID, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.FanOutResult), args.Error(1)
}

func (m *MockDistributionUsecase) RetryPostAccount(ctx context.Context, postID, accountID int64, userID string, at *time.Time) (*model.PostAccount, error) {
	args := m.Called(ctx, postID, accountID, userID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PostAccount), args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
}

// withUser stands in for the auth middleware.
func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}

func newTestRouter(userID string, conn IConnectionHandler, posts IPostHandler) *gin.Engine {
	r := gin.New()
	if conn != nil {
		r.GET("/auth/:platform/callback", conn.Callback)
	}
	api := r.Group("/api", withUser(userID))
	if conn != nil {
		api.POST("/connections/authorize/:platform", conn.Authorize)
		api.GET("/connections", conn.List)
		api.GET("/connections/state/:state", conn.ValidateState)
		api.POST("/connections/:accountId/refresh", conn.Refresh)
		api.DELETE("/connections/:accountId", conn.Disconnect)
	}
	if posts != nil {
		api.POST("/posts", posts.Create)
		api.GET("/posts/:postId", posts.Get)
		api.PUT("/posts/:postId/accounts", posts.LinkAccounts)
		api.POST("/posts/:postId/schedule", posts.Schedule)
		api.POST("/posts/:postId/publish", posts.PublishNow)
		api.POST("/posts/:postId/accounts/:accountId/retry", posts.Retry)
	}
	return r
}

func perform(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrInvalidOrExpiredState, http.StatusBadRequest},
		{model.ErrInvalidCallbackURL, http.StatusBadRequest},
		{fmt.Errorf("%w: invalid_grant", model.ErrTokenExchangeFailed), http.StatusBadRequest},
		{model.ErrAccountNotFoundOrAccessDenied, http.StatusNotFound},
		{model.ErrPostNotFoundOrAccessDenied, http.StatusNotFound},
		{model.ErrNoLinkedAccounts, http.StatusConflict},
		{model.ErrInvalidTransition, http.StatusConflict},
		{model.ErrPublishNotSupportedForPlatform, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: myspace", model.ErrUnknownPlatform), http.StatusUnprocessableEntity},
		{model.ErrRefreshUnavailable, http.StatusBadGateway},
		{model.ErrRefreshFailed, http.StatusBadGateway},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestAuthorize(t *testing.T) {
	uc := new(MockConnectionUsecase)
	uc.On("GenerateAuthURL", mock.Anything, "user-1", "twitter", "", []string(nil)).
		Return(&usecase.AuthRequest{URL: "https://twitter.com/i/oauth2/authorize?state=s1", State: "s1"}, nil)
	r := newTestRouter("user-1", NewConnectionHandler(uc, ""), nil)

	w := perform(r, http.MethodPost, "/api/connections/authorize/twitter", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body usecase.AuthRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "s1", body.State)
	uc.AssertExpectations(t)
}

func TestAuthorize_Unauthenticated(t *testing.T) {
	uc := new(MockConnectionUsecase)
	r := newTestRouter("", NewConnectionHandler(uc, ""), nil)

	w := perform(r, http.MethodPost, "/api/connections/authorize/twitter", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	uc.AssertNotCalled(t, "GenerateAuthURL")
}

func TestAuthorize_UnknownPlatform(t *testing.T) {
	uc := new(MockConnectionUsecase)
	uc.On("GenerateAuthURL", mock.Anything, "user-1", "myspace", "https://app/cb", []string{"a"}).
		Return(nil, fmt.Errorf("%w: myspace", model.ErrUnknownPlatform))
	r := newTestRouter("user-1", NewConnectionHandler(uc, ""), nil)

	w := perform(r, http.MethodPost, "/api/connections/authorize/myspace", `{"callback_url":"https://app/cb","scopes":["a"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCallback(t *testing.T) {
	uc := new(MockConnectionUsecase)
	uc.On("HandleCallback", mock.Anything, "twitter", "code-1", "s1").
		Return(&model.SocialAccount{ID: 7, PlatformID: "twitter"}, &model.Identity{AccountID: "tw-1"}, nil)
	r := newTestRouter("", NewConnectionHandler(uc, ""), nil)

	w := perform(r, http.MethodGet, "/auth/twitter/callback?code=code-1&state=s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"account_id":"tw-1"`)
	assert.NotContains(t, w.Body.String(), "access_token")
}

func TestCallback_RedirectsWhenConfigured(t *testing.T) {
	uc := new(MockConnectionUsecase)
	uc.On("HandleCallback", mock.Anything, "linkedin", "c", "s").
		Return(&model.SocialAccount{ID: 9}, &model.Identity{}, nil)
	r := newTestRouter("", NewConnectionHandler(uc, "https://app.example/connected"), nil)

	w := perform(r, http.MethodGet, "/auth/linkedin/callback?code=c&state=s", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://app.example/connected?account_id=9&platform=linkedin", w.Header().Get("Location"))
}

func TestCallback_ReplayedState(t *testing.T) {
	uc := new(MockConnectionUsecase)
	uc.On("HandleCallback", mock.Anything, "twitter", "c", "used").Return(nil, nil, model.ErrInvalidOrExpiredState)
	r := newTestRouter("", NewConnectionHandler(uc, ""), nil)

	w := perform(r, http.MethodGet, "/auth/twitter/callback?code=c&state=used", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallback_UpstreamDenied(t *testing.T) {
	uc := new(MockConnectionUsecase)
	r := newTestRouter("", NewConnectionHandler(uc, ""), nil)

	w := perform(r, http.MethodGet, "/auth/twitter/callback?error=access_denied", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	uc.AssertNotCalled(t, "HandleCallback")
}

func TestListConnections(t *testing.T) {
	uc := new(MockConnectionUsecase)
	uc.On("ListConnections", mock.Anything, "user-1", "reddit").Return(nil, nil)
	r := newTestRouter("user-1", NewConnectionHandler(uc, ""), nil)

	w := perform(r, http.MethodGet, "/api/connections?platform=reddit", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accounts":[]}`, w.Body.String())
}

func TestValidateState_OtherUsersStateIsInvalid(t *testing.T) {
	uc := new(MockConnectionUsecase)
	uc.On("ValidateState", mock.Anything, "s1").Return(&model.ConnectionState{UserID: "user-2", PlatformID: "twitter"}, nil)
	r := newTestRouter("user-1", NewConnectionHandler(uc, ""), nil)

	w := perform(r, http.MethodGet, "/api/connections/state/s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"valid":false}`, w.Body.String())
}

func TestRefresh(t *testing.T) {
	uc := new(MockConnectionUsecase)
	uc.On("RefreshAccessToken", mock.Anything, int64(3), "user-1").Return(nil, model.ErrRefreshUnavailable)
	uc.On("RefreshAccessToken", mock.Anything, int64(4), "user-1").Return(&usecase.RefreshResult{AccessToken: "secret", ExpiresIn: 3600}, nil)
	r := newTestRouter("user-1", NewConnectionHandler(uc, ""), nil)

	w := perform(r, http.MethodPost, "/api/connections/3/refresh", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = perform(r, http.MethodPost, "/api/connections/4/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")

	w = perform(r, http.MethodPost, "/api/connections/abc/refresh", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisconnect(t *testing.T) {
	uc := new(MockConnectionUsecase)
	uc.On("DisconnectAccount", mock.Anything, int64(5), "user-1").Return(nil)
	uc.On("DisconnectAccount", mock.Anything, int64(6), "user-1").Return(model.ErrAccountNotFoundOrAccessDenied)
	r := newTestRouter("user-1", NewConnectionHandler(uc, ""), nil)

	assert.Equal(t, http.StatusNoContent, perform(r, http.MethodDelete, "/api/connections/5", "").Code)
	assert.Equal(t, http.StatusNotFound, perform(r, http.MethodDelete, "/api/connections/6", "").Code)
}

func TestCreatePost(t *testing.T) {
	uc := new(MockDistributionUsecase)
	in := usecase.CreatePostInput{Title: "t", Content: "hello"}
	uc.On("CreatePost", mock.Anything, "user-1", in).Return(&model.Post{ID: 1, Content: "hello", Status: model.PostDraft}, nil)
	r := newTestRouter("user-1", nil, NewPostHandler(uc))

	w := perform(r, http.MethodPost, "/api/posts", `{"title":"t","content":"hello"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = perform(r, http.MethodPost, "/api/posts", `{"title":"no content"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	uc.AssertNumberOfCalls(t, "CreatePost", 1)
}

func TestGetPost_OtherUser(t *testing.T) {
	uc := new(MockDistributionUsecase)
	uc.On("GetPostWithLedger", mock.Anything, int64(1), "user-2").Return(nil, model.ErrPostNotFoundOrAccessDenied)
	r := newTestRouter("user-2", nil, NewPostHandler(uc))

	assert.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/api/posts/1", "").Code)
}

func TestLinkAccounts(t *testing.T) {
	uc := new(MockDistributionUsecase)
	uc.On("LinkToAccounts", mock.Anything, int64(1), "user-1", []int64{2, 3}).
		Return([]*model.PostAccount{{ID: 1, SocialAccountID: 2}, {ID: 2, SocialAccountID: 3}}, nil)
	r := newTestRouter("user-1", nil, NewPostHandler(uc))

	w := perform(r, http.MethodPut, "/api/posts/1/accounts", `{"account_ids":[2,3]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"social_account_id":3`)
}

func TestSchedule(t *testing.T) {
	uc := new(MockDistributionUsecase)
	at := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	uc.On("Schedule", mock.Anything, int64(1), "user-1", mock.MatchedBy(at.Equal), []int64(nil)).Return(nil, model.ErrNoLinkedAccounts)
	r := newTestRouter("user-1", nil, NewPostHandler(uc))

	w := perform(r, http.MethodPost, "/api/posts/1/schedule", `{"scheduled_for":"2026-11-01T09:00:00Z"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = perform(r, http.MethodPost, "/api/posts/1/schedule", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishNow_PartialFailureIsOK(t *testing.T) {
	uc := new(MockDistributionUsecase)
	res := &usecase.FanOutResult{
		PostID:     1,
		PostStatus: model.PostPartiallyPublished,
		Succeeded:  []*model.PostAccount{{SocialAccountID: 2, Status: model.PostAccountPublished}},
		Failed:     []usecase.FailedEntry{{SocialAccountID: 3, PlatformID: "linkedin", Error: "publish timed out after 30s"}},
	}
	uc.On("PublishNow", mock.Anything, int64(1), "user-1", (*int64)(nil)).Return(res, nil)
	r := newTestRouter("user-1", nil, NewPostHandler(uc))

	w := perform(r, http.MethodPost, "/api/posts/1/publish", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body usecase.FanOutResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, model.PostPartiallyPublished, body.PostStatus)
	assert.Len(t, body.Succeeded, 1)
	assert.Len(t, body.Failed, 1)
}

func TestPublishNow_SingleAccount(t *testing.T) {
	uc := new(MockDistributionUsecase)
	uc.On("PublishNow", mock.Anything, int64(1), "user-1", mock.MatchedBy(func(id *int64) bool { return id != nil && *id == 2 })).
		Return(&usecase.FanOutResult{PostID: 1, PostStatus: model.PostPublished}, nil)
	r := newTestRouter("user-1", nil, NewPostHandler(uc))

	w := perform(r, http.MethodPost, "/api/posts/1/publish", `{"account_id":2}`)
	assert.Equal(t, http.StatusOK, w.Code)
	uc.AssertExpectations(t)
}

func TestRetry_NotFailed(t *testing.T) {
	uc := new(MockDistributionUsecase)
	uc.On("RetryPostAccount", mock.Anything, int64(1), int64(2), "user-1", (*time.Time)(nil)).Return(nil, model.ErrInvalidTransition)
	r := newTestRouter("user-1", nil, NewPostHandler(uc))

	w := perform(r, http.MethodPost, "/api/posts/1/accounts/2/retry", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthz(t *testing.T) {
	r := gin.New()
	r.GET("/healthz", NewHealthHandler(map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	}).Healthz)

	w := perform(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)

	r = gin.New()
	r.GET("/healthz", NewHealthHandler(nil).Healthz)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/healthz", "").Code)
}
