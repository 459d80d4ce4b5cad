package usecase

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

type fakePosts struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.Post
}

func newFakePosts() *fakePosts { return &fakePosts{rows: map[int64]*model.Post{}} }

func (f *fakePosts) Create(_ context.Context, p *model.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	if p.Status == "" {
		p.Status = model.PostDraft
	}
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *fakePosts) GetByID(_ context.Context, id int64, userID string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok || (userID != "" && p.UserID != userID) {
		return nil, model.ErrPostNotFoundOrAccessDenied
	}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) UpdateStatus(_ context.Context, id int64, status model.PostStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.rows[id]; ok && p.Status != model.PostArchived {
		p.Status = status
	}
	return nil
}

func (f *fakePosts) status(id int64) model.PostStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Status
}

type fakeAccounts struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.SocialAccount
}

func newFakeAccounts() *fakeAccounts { return &fakeAccounts{rows: map[int64]*model.SocialAccount{}} }

func (f *fakeAccounts) Create(_ context.Context, a *model.SocialAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.rows {
		if existing.UserID == a.UserID && existing.PlatformID == a.PlatformID && existing.AccountID == a.AccountID {
			a.ID = id
			a.CreatedAt = existing.CreatedAt
			cp := *a
			f.rows[id] = &cp
			return nil
		}
	}
	f.nextID++
	a.ID = f.nextID
	a.CreatedAt = time.Now()
	cp := *a
	f.rows[a.ID] = &cp
	return nil
}

func (f *fakeAccounts) Update(_ context.Context, id int64, userID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok || (userID != "" && a.UserID != userID) {
		return model.ErrAccountNotFoundOrAccessDenied
	}
	for k, v := range fields {
		switch k {
		case "access_token_enc":
			a.AccessTokenEnc = v.(string)
		case "refresh_token_enc":
			a.RefreshTokenEnc = v.(*string)
		case "token_iv":
			a.TokenIV = v.(string)
		case "token_expires_at":
			a.TokenExpiresAt = v.(*time.Time)
		case "last_token_refresh":
			t := v.(time.Time)
			a.LastTokenRefresh = &t
		case "token_refresh_attempts":
			a.TokenRefreshAttempts = v.(int)
		case "token_refresh_error":
			if v == nil {
				a.TokenRefreshError = nil
			} else {
				s := v.(string)
				a.TokenRefreshError = &s
			}
		case "connection_status":
			a.ConnectionStatus = v.(model.ConnectionStatus)
		case "scope":
			a.Scope = v.([]string)
		default:
			return fmt.Errorf("fake: unsupported column %s", k)
		}
	}
	return nil
}

func (f *fakeAccounts) RecordRefreshFailure(_ context.Context, id int64, msg string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return 0, model.ErrAccountNotFoundOrAccessDenied
	}
	a.TokenRefreshAttempts++
	a.TokenRefreshError = &msg
	a.ConnectionStatus = model.ConnectionError
	return a.TokenRefreshAttempts, nil
}

func (f *fakeAccounts) Delete(_ context.Context, id int64, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok || a.UserID != userID {
		return model.ErrAccountNotFoundOrAccessDenied
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id int64, userID string) (*model.SocialAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok || (userID != "" && a.UserID != userID) {
		return nil, model.ErrAccountNotFoundOrAccessDenied
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) filter(keep func(*model.SocialAccount) bool) []*model.SocialAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.SocialAccount
	for _, a := range f.rows {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.SocialAccount) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (f *fakeAccounts) GetByUser(_ context.Context, userID, platformID string) ([]*model.SocialAccount, error) {
	return f.filter(func(a *model.SocialAccount) bool {
		return a.UserID == userID && (platformID == "" || a.PlatformID == platformID)
	}), nil
}

func (f *fakeAccounts) GetByPlatformAndExternalID(_ context.Context, userID, platformID, accountID string) (*model.SocialAccount, error) {
	list := f.filter(func(a *model.SocialAccount) bool {
		return a.UserID == userID && a.PlatformID == platformID && a.AccountID == accountID
	})
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (f *fakeAccounts) GetActive(_ context.Context, userID string) ([]*model.SocialAccount, error) {
	return f.filter(func(a *model.SocialAccount) bool {
		return a.UserID == userID && a.IsActive && a.ConnectionStatus == model.ConnectionConnected
	}), nil
}

func (f *fakeAccounts) GetExpired(_ context.Context, limit int) ([]*model.SocialAccount, error) {
	now := time.Now()
	return f.filter(func(a *model.SocialAccount) bool {
		return a.IsActive && a.ConnectionStatus != model.ConnectionExpired && a.TokenExpiresAt != nil && !a.TokenExpiresAt.After(now)
	}), nil
}

func (f *fakeAccounts) GetNeedingRefresh(_ context.Context, buffer time.Duration, limit int) ([]*model.SocialAccount, error) {
	cutoff := time.Now().Add(buffer)
	return f.filter(func(a *model.SocialAccount) bool {
		return a.IsActive && a.ConnectionStatus == model.ConnectionConnected && a.HasRefreshToken() &&
			a.TokenExpiresAt != nil && !a.TokenExpiresAt.After(cutoff)
	}), nil
}

func (f *fakeAccounts) GetStats(context.Context, string) ([]model.PlatformStats, error) {
	return nil, nil
}

func (f *fakeAccounts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeLedger struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[int64]*model.PostAccount
	accounts *fakeAccounts
}

func newFakeLedger(accounts *fakeAccounts) *fakeLedger {
	return &fakeLedger{rows: map[int64]*model.PostAccount{}, accounts: accounts}
}

func (f *fakeLedger) view(pa *model.PostAccount) *model.PostAccount {
	cp := *pa
	f.accounts.mu.Lock()
	if a, ok := f.accounts.rows[pa.SocialAccountID]; ok {
		cp.PlatformID = a.PlatformID
		cp.AccountName = a.DisplayName
	}
	f.accounts.mu.Unlock()
	return &cp
}

func (f *fakeLedger) find(postID, accountID int64) *model.PostAccount {
	for _, pa := range f.rows {
		if pa.PostID == postID && pa.SocialAccountID == accountID {
			return pa
		}
	}
	return nil
}

func (f *fakeLedger) sorted(keep func(*model.PostAccount) bool) []*model.PostAccount {
	var out []*model.PostAccount
	for _, pa := range f.rows {
		if keep(pa) {
			out = append(out, f.view(pa))
		}
	}
	slices.SortFunc(out, func(a, b *model.PostAccount) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (f *fakeLedger) ReplaceForPost(_ context.Context, postID int64, ids []int64) ([]*model.PostAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, pa := range f.rows {
		if pa.PostID == postID {
			delete(f.rows, id)
		}
	}
	var out []*model.PostAccount
	for _, accountID := range ids {
		f.nextID++
		pa := &model.PostAccount{ID: f.nextID, PostID: postID, SocialAccountID: accountID, Status: model.PostAccountScheduled}
		f.rows[pa.ID] = pa
		out = append(out, f.view(pa))
	}
	return out, nil
}

func (f *fakeLedger) Delete(_ context.Context, postID, accountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pa := f.find(postID, accountID)
	if pa == nil {
		return model.ErrAccountNotFoundOrAccessDenied
	}
	delete(f.rows, pa.ID)
	return nil
}

func (f *fakeLedger) Get(_ context.Context, postID, accountID int64) (*model.PostAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pa := f.find(postID, accountID)
	if pa == nil {
		return nil, model.ErrAccountNotFoundOrAccessDenied
	}
	return f.view(pa), nil
}

func (f *fakeLedger) ListByPost(_ context.Context, postID int64) ([]*model.PostAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(pa *model.PostAccount) bool { return pa.PostID == postID }), nil
}

func (f *fakeLedger) Schedule(_ context.Context, postID int64, ids []int64, at time.Time) ([]*model.PostAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var touched []int64
	for _, pa := range f.rows {
		if pa.PostID != postID || pa.Status == model.PostAccountPublishing || pa.Status == model.PostAccountPublished {
			continue
		}
		if len(ids) > 0 && !slices.Contains(ids, pa.SocialAccountID) {
			continue
		}
		t := at
		pa.ScheduledFor = &t
		pa.Status = model.PostAccountScheduled
		touched = append(touched, pa.ID)
	}
	return f.sorted(func(pa *model.PostAccount) bool { return slices.Contains(touched, pa.ID) }), nil
}

func (f *fakeLedger) ListDue(_ context.Context, now time.Time, limit int) ([]*model.PostAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(pa *model.PostAccount) bool {
		return pa.Status == model.PostAccountScheduled && pa.ScheduledFor != nil && !pa.ScheduledFor.After(now)
	}), nil
}

func (f *fakeLedger) MarkPublishing(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pa, ok := f.rows[id]
	if !ok || pa.Status != model.PostAccountScheduled {
		return false, nil
	}
	pa.Status = model.PostAccountPublishing
	pa.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeLedger) MarkPublished(_ context.Context, id int64, res *model.PublishResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pa, ok := f.rows[id]
	if !ok || pa.Status != model.PostAccountPublishing {
		return model.ErrInvalidTransition
	}
	now := time.Now()
	pa.Status = model.PostAccountPublished
	pa.PublishedAt = &now
	pa.PlatformPostID = &res.PlatformPostID
	pa.PlatformURL = &res.PlatformURL
	pa.PlatformResponse = res.Raw
	pa.ErrorMessage = nil
	pa.RetryCount = 0
	return nil
}

func (f *fakeLedger) MarkFailed(_ context.Context, id int64, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pa, ok := f.rows[id]
	if !ok || pa.Status != model.PostAccountPublishing {
		return model.ErrInvalidTransition
	}
	pa.Status = model.PostAccountFailed
	pa.ErrorMessage = &msg
	pa.RetryCount++
	return nil
}

func (f *fakeLedger) ReclaimStale(_ context.Context, before time.Time, msg string) ([]*model.PostAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var touched []int64
	for _, pa := range f.rows {
		if pa.Status != model.PostAccountPublishing || !pa.UpdatedAt.Before(before) {
			continue
		}
		m := msg
		pa.Status = model.PostAccountFailed
		pa.ErrorMessage = &m
		pa.RetryCount++
		pa.UpdatedAt = time.Now()
		touched = append(touched, pa.ID)
	}
	return f.sorted(func(pa *model.PostAccount) bool { return slices.Contains(touched, pa.ID) }), nil
}

// claim forces an entry into publishing as if a dispatcher took it at claimedAt.
func (f *fakeLedger) claim(id int64, claimedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].Status = model.PostAccountPublishing
	f.rows[id].UpdatedAt = claimedAt
}

func (f *fakeLedger) Retry(_ context.Context, postID, accountID int64, at time.Time) (*model.PostAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pa := f.find(postID, accountID)
	if pa == nil || pa.Status != model.PostAccountFailed {
		return nil, model.ErrInvalidTransition
	}
	pa.Status = model.PostAccountScheduled
	pa.ScheduledFor = &at
	pa.ErrorMessage = nil
	return f.view(pa), nil
}

type fakeAdapter struct {
	id           string
	pkce         bool
	verifierLen  int
	identity     model.Identity
	tokens       model.TokenSet
	exchangeErr  error
	refreshErr   error
	revokeErr    error
	publish      func(ctx context.Context, post *model.Post) (*model.PublishResult, error)
	publishCalls atomic.Int32

	mu            sync.Mutex
	lastVerifier  string
	lastRefresh   string
	lastPublished string
}

func (a *fakeAdapter) PlatformID() string      { return a.id }
func (a *fakeAdapter) UsesPKCE() bool          { return a.pkce }
func (a *fakeAdapter) VerifierLength() int     { return a.verifierLen }
func (a *fakeAdapter) DefaultScopes() []string { return []string{"read", "write"} }
func (a *fakeAdapter) RedirectURI() string     { return "https://app.example/auth/" + a.id + "/callback" }

func (a *fakeAdapter) AuthCodeURL(state, challenge, redirectURI string, scopes []string) string {
	return fmt.Sprintf("https://auth.example/%s?state=%s&code_challenge=%s&redirect_uri=%s", a.id, state, challenge, redirectURI)
}

func (a *fakeAdapter) Exchange(_ context.Context, code, verifier, redirectURI string) (*model.TokenSet, error) {
	a.mu.Lock()
	a.lastVerifier = verifier
	a.mu.Unlock()
	if a.exchangeErr != nil {
		return nil, a.exchangeErr
	}
	ts := a.tokens
	return &ts, nil
}

func (a *fakeAdapter) Refresh(_ context.Context, refreshToken string) (*model.TokenSet, error) {
	a.mu.Lock()
	a.lastRefresh = refreshToken
	a.mu.Unlock()
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	return &model.TokenSet{AccessToken: "refreshed-access", ExpiresIn: 3600}, nil
}

func (a *fakeAdapter) FetchIdentity(context.Context, string) (*model.Identity, error) {
	id := a.identity
	return &id, nil
}

func (a *fakeAdapter) Publish(ctx context.Context, accessToken string, _ *model.SocialAccount, post *model.Post) (*model.PublishResult, error) {
	a.publishCalls.Add(1)
	a.mu.Lock()
	a.lastPublished = accessToken
	a.mu.Unlock()
	if a.publish == nil {
		return nil, model.ErrPublishNotSupportedForPlatform
	}
	return a.publish(ctx, post)
}

func (a *fakeAdapter) Revoke(context.Context, string) error { return a.revokeErr }

type fakeRegistry map[string]repository.IPlatformAdapter

func (r fakeRegistry) Adapter(id string) (repository.IPlatformAdapter, error) {
	a, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownPlatform, id)
	}
	return a, nil
}

func (r fakeRegistry) Platforms() []string {
	var out []string
	for id := range r {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (r *recordingEvents) PublishStatus(_ context.Context, evt *model.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *evt)
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	records []model.PublishAudit
}

func (r *recordingAudit) Record(_ context.Context, a *model.PublishAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *a)
	return nil
}

type recordingQueue struct {
	mu        sync.Mutex
	enqueued  []repository.EnqueueOptions
	payloads  [][]byte
	repeating map[string]time.Duration
	handlers  map[string]repository.JobHandler
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{repeating: map[string]time.Duration{}, handlers: map[string]repository.JobHandler{}}
}

func (q *recordingQueue) Enqueue(_ context.Context, _ string, payload []byte, opts repository.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, opts)
	q.payloads = append(q.payloads, payload)
	return nil
}

func (q *recordingQueue) EnqueueRepeating(_ context.Context, jobType string, every time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.repeating[jobType] = every
	return nil
}

func (q *recordingQueue) Process(jobType string, h repository.JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

func (q *recordingQueue) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (q *recordingQueue) Close(context.Context) error { return nil }
