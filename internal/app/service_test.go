package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"agora/api/internal/auth"
	"agora/api/internal/authpw"
	"agora/api/internal/config"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/upload"
	"agora/api/internal/util"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "secret1"

// fakeStore is an in-memory dataStore. The *Fn fields override single
// methods to inject failures.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	threads  map[string]store.Thread
	messages []store.Message

	pingFn          func(context.Context) error
	listSummariesFn func(context.Context, store.ForumType) ([]store.ThreadSummary, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]store.User),
		threads: make(map[string]store.Thread),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) UsernameOrEmailTaken(_ context.Context, username, email string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var usernameTaken, emailTaken bool
	for _, u := range f.users {
		usernameTaken = usernameTaken || strings.EqualFold(u.Username, username)
		emailTaken = emailTaken || strings.EqualFold(u.Email, email)
	}
	return usernameTaken, emailTaken, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Username, user.Username) {
			return store.User{}, store.ErrUsernameTaken
		}
		if strings.EqualFold(u.Email, user.Email) {
			return store.User{}, store.ErrEmailTaken
		}
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) SetApproved(_ context.Context, userID string) (store.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, false, store.ErrNotFound
	}
	if u.IsApproved {
		return u, false, nil
	}
	u.IsApproved = true
	f.users[userID] = u
	return u, true, nil
}

func (f *fakeStore) SetAdmin(_ context.Context, userID string, admin bool) (store.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, false, store.ErrNotFound
	}
	if u.IsAdmin == admin {
		return u, false, nil
	}
	u.IsAdmin = admin
	f.users[userID] = u
	return u, true, nil
}

func (f *fakeStore) ListUsersByApproval(_ context.Context, approved bool) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.User
	for _, u := range f.users {
		if u.IsApproved == approved {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) DeletePendingUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if u.IsApproved {
		return store.ErrAlreadyApproved
	}
	delete(f.users, userID)
	return nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, userID string, displayName, pic *string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	if displayName != nil {
		u.DisplayName = *displayName
	}
	if pic != nil {
		u.ProfilePicPath = pic
	}
	f.users[userID] = u
	return u, nil
}

func (f *fakeStore) FindUserIDsByDisplayName(_ context.Context, displayName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, u := range f.users {
		if strings.EqualFold(u.DisplayName, displayName) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (f *fakeStore) CreateThread(_ context.Context, thread store.Thread) (store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[thread.ID] = thread
	return thread, nil
}

func (f *fakeStore) GetThread(_ context.Context, threadID string) (store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[threadID]
	if !ok {
		return store.Thread{}, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) ListThreadSummaries(ctx context.Context, forumType store.ForumType) ([]store.ThreadSummary, error) {
	if f.listSummariesFn != nil {
		return f.listSummariesFn(ctx, forumType)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ThreadSummary
	for _, t := range f.threads {
		if t.ForumType != forumType {
			continue
		}
		summary := store.ThreadSummary{Thread: t}
		if author, ok := f.users[t.AuthorID]; ok {
			summary.AuthorName = author.DisplayName
			summary.AuthorProfilePic = author.ProfilePicPath
		}
		var initial *store.Message
		for i := range f.messages {
			m := &f.messages[i]
			if m.ThreadID != t.ID {
				continue
			}
			summary.LiveMessageCount++
			if initial == nil || m.CreatedAt.Before(initial.CreatedAt) {
				initial = m
			}
		}
		if initial != nil {
			id, content, authorID, createdAt := initial.ID, initial.Content, initial.AuthorID, initial.CreatedAt
			summary.InitialID = &id
			summary.InitialContent = &content
			summary.InitialAuthorID = &authorID
			summary.InitialCreatedAt = &createdAt
			summary.InitialImageURL = initial.ImageURL
			summary.InitialLikes = append(store.IDSet{}, initial.Likes...)
			summary.InitialDislikes = append(store.IDSet{}, initial.Dislikes...)
			summary.InitialLikeCount = initial.LikeCount
			summary.InitialDislikeCount = initial.DislikeCount
		}
		out = append(out, summary)
	}
	return out, nil
}

func (f *fakeStore) TouchThread(_ context.Context, threadID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[threadID]
	if !ok {
		return store.ErrNotFound
	}
	if at.After(t.LastActivity) {
		t.LastActivity = at
	}
	t.MessageCount++
	f.threads[threadID] = t
	return nil
}

func (f *fakeStore) CreateMessage(_ context.Context, msg store.Message) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeStore) findMessage(messageID string) int {
	for i, m := range f.messages {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

func (f *fakeStore) GetMessage(_ context.Context, messageID string) (store.AuthoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findMessage(messageID)
	if i < 0 {
		return store.AuthoredMessage{}, store.ErrNotFound
	}
	m := f.messages[i]
	t, ok := f.threads[m.ThreadID]
	if !ok {
		return store.AuthoredMessage{}, store.ErrNotFound
	}
	return store.AuthoredMessage{Message: m, ThreadTitle: t.Title, ForumType: t.ForumType}, nil
}

func (f *fakeStore) view(m store.Message) store.MessageView {
	v := store.MessageView{Message: m}
	if u, ok := f.users[m.AuthorID]; ok {
		v.AuthorName = u.DisplayName
		v.AuthorProfilePic = u.ProfilePicPath
	}
	return v
}

func (f *fakeStore) ThreadMessages(_ context.Context, threadID string) ([]store.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.MessageView
	for _, m := range f.messages {
		if m.ThreadID == threadID {
			out = append(out, f.view(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) ToggleReaction(_ context.Context, messageID, userID string, action store.ReactionAction) (store.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findMessage(messageID)
	if i < 0 {
		return store.MessageView{}, store.ErrNotFound
	}
	m := f.messages[i]
	same, other := &m.Likes, &m.Dislikes
	if action == store.ReactionDislike {
		same, other = other, same
	}
	if same.Contains(userID) {
		*same = without(*same, userID)
	} else {
		*same = append(without(*same, userID), userID)
		*other = without(*other, userID)
	}
	m.LikeCount, m.DislikeCount = len(m.Likes), len(m.Dislikes)
	f.messages[i] = m
	return f.view(m), nil
}

func without(set store.IDSet, id string) store.IDSet {
	out := store.IDSet{}
	for _, item := range set {
		if item != id {
			out = append(out, item)
		}
	}
	return out
}

func (f *fakeStore) DeleteMessage(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findMessage(messageID)
	if i < 0 {
		return store.ErrNotFound
	}
	f.messages = append(f.messages[:i], f.messages[i+1:]...)
	return nil
}

func (f *fakeStore) MessagesByAuthor(_ context.Context, authorID string, includeClosed bool) ([]store.AuthoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AuthoredMessage
	for _, m := range f.messages {
		t, ok := f.threads[m.ThreadID]
		if m.AuthorID != authorID || !ok || (!includeClosed && t.ForumType == store.ForumClosed) {
			continue
		}
		out = append(out, store.AuthoredMessage{Message: m, ThreadTitle: t.Title, ForumType: t.ForumType})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// fakeBackend answers searches from the fake store with the same rules as
// the Postgres pipeline.
type fakeBackend struct {
	store *fakeStore
}

func (b *fakeBackend) Search(_ context.Context, c search.Criteria) ([]search.Result, error) {
	return b.run(c, nil, true), nil
}

func (b *fakeBackend) Hydrate(_ context.Context, c search.Criteria, ids []string) ([]search.Result, error) {
	return b.run(c, ids, false), nil
}

func (b *fakeBackend) LoadAllRecords(context.Context) ([]search.MessageRecord, error) {
	return nil, nil
}

func (b *fakeBackend) run(c search.Criteria, ids []string, matchWords bool) []search.Result {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	var out []search.Result
	for _, m := range b.store.messages {
		t, ok := b.store.threads[m.ThreadID]
		switch {
		case !ok,
			!c.IncludeClosed && t.ForumType == store.ForumClosed,
			len(c.AuthorIDs) > 0 && !store.IDSet(c.AuthorIDs).Contains(m.AuthorID),
			ids != nil && !store.IDSet(ids).Contains(m.ID),
			c.From != nil && m.CreatedAt.Before(*c.From),
			c.Until != nil && !m.CreatedAt.Before(*c.Until),
			matchWords && !c.MatchesWords(m.Content):
			continue
		}
		authorName := "Unknown"
		if u, ok := b.store.users[m.AuthorID]; ok {
			authorName = u.DisplayName
		}
		out = append(out, search.Result{
			ID:          m.ID,
			ThreadID:    m.ThreadID,
			ThreadTitle: t.Title,
			ForumType:   t.ForumType,
			AuthorID:    m.AuthorID,
			AuthorName:  authorName,
			Content:     m.Content,
			CreatedAt:   m.CreatedAt,
			LikeCount:   m.LikeCount,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > search.MaxResults {
		out = out[:search.MaxResults]
	}
	return out
}

// recordingSearch is the real search service plus a log of index calls.
type recordingSearch struct {
	*search.Service
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (r *recordingSearch) IndexMessage(rec search.MessageRecord) {
	r.mu.Lock()
	r.indexed = append(r.indexed, rec.ID)
	r.mu.Unlock()
	r.Service.IndexMessage(rec)
}

func (r *recordingSearch) DeleteMessage(id string) {
	r.mu.Lock()
	r.deleted = append(r.deleted, id)
	r.mu.Unlock()
	r.Service.DeleteMessage(id)
}

type fakeDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	pingErr error
}

func (d *fakeDenylist) Deny(_ context.Context, tokenHash string, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[tokenHash]; !ok && expiresAt.After(time.Now()) {
		d.entries[tokenHash] = expiresAt
	}
	return nil
}

func (d *fakeDenylist) IsDenied(_ context.Context, tokenHash string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[tokenHash]
	return ok, nil
}

func (d *fakeDenylist) Ping(context.Context) error { return d.pingErr }

type sentEmail struct {
	to, userName, loginURL string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (m *fakeMailer) IsConfigured() bool { return true }

func (m *fakeMailer) SendApprovalEmail(to, userName, loginURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmail{to: to, userName: userName, loginURL: loginURL})
	return nil
}

type testEnv struct {
	t        *testing.T
	svc      *Service
	store    *fakeStore
	denylist *fakeDenylist
	search   *recordingSearch
	mailer   *fakeMailer
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newFakeStore()
	sink, err := upload.NewDiskSink(t.TempDir())
	if err != nil {
		t.Fatalf("create upload sink: %v", err)
	}
	env := &testEnv{
		t:        t,
		store:    fs,
		denylist: &fakeDenylist{entries: make(map[string]time.Time)},
		search:   &recordingSearch{Service: search.NewService(nil, &fakeBackend{store: fs}, fs)},
		mailer:   &fakeMailer{},
	}
	cfg := config.Config{
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		PublicURL: "http://forum.test",
	}
	env.svc = New(cfg, fs, env.denylist, env.search, sink, env.mailer)
	env.svc.passwords = authpw.NewService(fs).WithCost(bcrypt.MinCost)

	// every call advances the clock so createdAt values are distinct
	var mu sync.Mutex
	clock := time.Now().UTC()
	env.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	env.handler = NewHTTPServer(env.svc, "*").Handler()
	return env
}

// seedUser stores a user whose password is testPassword.
func (e *testEnv) seedUser(username string, approved, admin bool) store.User {
	e.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		e.t.Fatalf("hash password: %v", err)
	}
	user, err := e.store.CreateUser(context.Background(), store.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		DisplayName:  username,
		IsApproved:   approved,
		IsAdmin:      admin,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		e.t.Fatalf("seed user %s: %v", username, err)
	}
	return user
}

// tokenFor signs a session for user directly, bypassing the approval check
// login applies.
func (e *testEnv) tokenFor(user store.User) string {
	e.t.Helper()
	token, err := auth.IssueToken([]byte(e.svc.cfg.JWTSecret), auth.Claims{
		UserID:     user.ID,
		Username:   user.Username,
		IsApproved: user.IsApproved,
		IsAdmin:    user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        util.NewID(),
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		e.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(username string) string {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": testPassword})
	expectStatus(e.t, rr, http.StatusOK)
	var result LoginResult
	decodeJSON(e.t, rr, &result)
	if result.Token == "" {
		e.t.Fatalf("login %s returned no token", username)
	}
	return result.Token
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	var payload map[string]any
	decodeJSON(t, rr, &payload)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
	if msg, _ := payload["message"].(string); msg == "" {
		t.Fatalf("expected an error message, got %v", payload)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
}
