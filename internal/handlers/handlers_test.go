package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/services"
	"github.com/quillpress/apiserver/internal/store"
	"github.com/quillpress/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUsers struct {
	mu     sync.Mutex
	nextID int
	rows   map[string]types.User
	err    error
}

func (m *memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.User{}, m.err
	}
	if _, ok := m.rows[user.Email]; ok {
		return types.User{}, store.ErrDuplicateEmail
	}
	m.nextID++
	user.ID = m.nextID
	m.rows[user.Email] = user
	return user, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.User{}, m.err
	}
	user, ok := m.rows[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

type memPosts struct {
	mu     sync.Mutex
	nextID int
	rows   map[int]types.Post
}

func (m *memPosts) Create(_ context.Context, post types.Post) (types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	post.ID = m.nextID
	m.rows[post.ID] = post
	return post, nil
}

func (m *memPosts) Get(_ context.Context, userID, postID int) (types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.rows[postID]
	if !ok || post.UserID != userID {
		return types.Post{}, store.ErrNotFound
	}
	return post, nil
}

func (m *memPosts) CountOwned(ctx context.Context, userID, postID int) (int, error) {
	if _, err := m.Get(ctx, userID, postID); err != nil {
		return 0, nil
	}
	return 1, nil
}

func (m *memPosts) Update(_ context.Context, post types.Post) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[post.ID]
	if !ok || current.UserID != post.UserID {
		return 0, nil
	}
	m.rows[post.ID] = post
	return 1, nil
}

func (m *memPosts) Delete(_ context.Context, userID, postID int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.rows[postID]
	if !ok || post.UserID != userID {
		return 0, nil
	}
	delete(m.rows, postID)
	return 1, nil
}

type testAPI struct {
	router http.Handler
	users  *memUsers
	tokens *auth.TokenService
}

func newTestAPI(t *testing.T, secret string) *testAPI {
	t.Helper()

	users := &memUsers{rows: map[string]types.User{}}
	posts := &memPosts{rows: map[int]types.Post{}}
	tokens := auth.NewTokenService(secret, time.Hour)
	userService := services.NewUserService(users, tokens, nil, nil)
	t.Cleanup(userService.Wait)

	v := NewValidator()
	authMiddleware := RequireAuth(tokens)

	r := chi.NewRouter()
	r.Get("/healthz", Healthz)
	AuthRouter(r, userService, authMiddleware, v, nil)
	PostRouter(r, services.NewPostService(posts), authMiddleware, v, nil)

	return &testAPI{router: r, users: users, tokens: tokens}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) signupAndLogin(t *testing.T, name, email, password string) string {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/signup", "", map[string]string{"name": name, "email": email, "password": password})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSignupLoginProfileScenario(t *testing.T) {
	api := newTestAPI(t, "test-secret")

	rec := api.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "A", "email": "a@x.com", "password": "p1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	created := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, created["id"])
	assert.Equal(t, "A", created["name"])

	rec = api.do(t, http.MethodPost, "/login", "", map[string]string{"email": "a@x.com", "password": "p1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	login := decode[map[string]any](t, rec)
	token, _ := login["Token"].(string)
	require.NotEmpty(t, token)
	assert.Contains(t, login, "loggedUser")

	rec = api.do(t, http.MethodGet, "/profile", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"userId":1,"username":"A","email":"a@x.com"}`, rec.Body.String())
}

func TestSignup_Validation(t *testing.T) {
	api := newTestAPI(t, "test-secret")

	rec := api.do(t, http.MethodPost, "/signup", "", map[string]string{"name": " ", "email": "nope", "password": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Validation failed", resp.Error)
	assert.ElementsMatch(t, []string{"name : Required", "email : Invalid email", "password : Required"}, resp.Details)

	rec = api.do(t, http.MethodPost, "/signup", "", "{broken")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"body : Invalid JSON"}, decode[ErrorResponse](t, rec).Details)
}

func TestSignup_PasswordByteLimit(t *testing.T) {
	api := newTestAPI(t, "test-secret")

	for _, password := range []string{strings.Repeat("é", 40), strings.Repeat("é", 72)} {
		rec := api.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "A", "email": "a@x.com", "password": password})
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "Validation failed", resp.Error)
		assert.Equal(t, []string{"password : Must contain at most 72 byte(s)"}, resp.Details)
	}

	rec := api.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "A", "email": "a@x.com", "password": strings.Repeat("é", 36)})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestSignup_UnhashablePasswordIsBadRequest(t *testing.T) {
	users := &memUsers{rows: map[string]types.User{}}
	userService := services.NewUserService(users, auth.NewTokenService("test-secret", time.Hour), nil, nil)
	t.Cleanup(userService.Wait)
	handler := NewAuthHandler(userService, nil)

	body := SignupRequest{Name: "A", Email: "a@x.com", Password: strings.Repeat("x", 73)}
	req := httptest.NewRequest(http.MethodPost, "/signup", nil)
	req = req.WithContext(withBody(req.Context(), body))
	rec := httptest.NewRecorder()

	handler.Signup(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"password : Must contain at most 72 byte(s)"}, decode[ErrorResponse](t, rec).Details)
	assert.Empty(t, users.rows)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	api := newTestAPI(t, "test-secret")
	body := map[string]string{"name": "A", "email": "a@x.com", "password": "p1"}

	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/signup", "", body).Code)

	rec := api.do(t, http.MethodPost, "/signup", "", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Email already registered", decode[ErrorResponse](t, rec).Error)
}

func TestSignup_InternalErrorDoesNotLeak(t *testing.T) {
	api := newTestAPI(t, "test-secret")
	api.users.err = errors.New(`pq: relation "users" does not exist`)

	rec := api.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "A", "email": "a@x.com", "password": "p1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to add user"}`, rec.Body.String())
}

func TestLogin_FailuresAreGeneric(t *testing.T) {
	api := newTestAPI(t, "test-secret")
	api.signupAndLogin(t, "A", "a@x.com", "p1")

	wrongPassword := api.do(t, http.MethodPost, "/login", "", map[string]string{"email": "a@x.com", "password": "nope"})
	unknownEmail := api.do(t, http.MethodPost, "/login", "", map[string]string{"email": "b@x.com", "password": "p1"})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestLogin_MissingSigningKey(t *testing.T) {
	api := newTestAPI(t, "")
	rec := api.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "A", "email": "a@x.com", "password": "p1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPost, "/login", "", map[string]string{"email": "a@x.com", "password": "p1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Token")
}

func TestRequireAuth(t *testing.T) {
	api := newTestAPI(t, "test-secret")
	valid, err := api.tokens.Issue(types.Identity{UserID: 1, Username: "A", Email: "a@x.com"})
	require.NoError(t, err)
	foreign, err := auth.NewTokenService("other-secret", time.Hour).Issue(types.Identity{UserID: 1})
	require.NoError(t, err)
	expired, err := api.tokens.WithClock(func() time.Time { return time.Now().Add(-61 * time.Minute) }).
		Issue(types.Identity{UserID: 1})
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantError  string
	}{
		{name: "valid", header: "Bearer " + valid, wantStatus: http.StatusCreated},
		{name: "lowercase scheme", header: "bearer " + valid, wantStatus: http.StatusCreated},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantError: msgNoToken},
		{name: "wrong scheme", header: "Basic " + valid, wantStatus: http.StatusUnauthorized, wantError: msgNoToken},
		{name: "scheme only", header: "Bearer ", wantStatus: http.StatusUnauthorized, wantError: msgNoToken},
		{name: "wrong signature", header: "Bearer " + foreign, wantStatus: http.StatusUnauthorized, wantError: msgInvalidToken},
		{name: "expired", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized, wantError: msgInvalidToken},
		{name: "garbage", header: "Bearer abc.def.ghi", wantStatus: http.StatusUnauthorized, wantError: msgInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			api.router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decode[ErrorResponse](t, rec).Error)
			}
		})
	}
}

func TestRequireAuth_MissingSigningKey(t *testing.T) {
	api := newTestAPI(t, "")
	signed, err := auth.NewTokenService("some-secret", time.Hour).Issue(types.Identity{UserID: 1})
	require.NoError(t, err)

	rec := api.do(t, http.MethodGet, "/profile", signed, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgMisconfigured, decode[ErrorResponse](t, rec).Error)

	rec = api.do(t, http.MethodGet, "/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPosts_OwnerLifecycle(t *testing.T) {
	api := newTestAPI(t, "test-secret")
	token := api.signupAndLogin(t, "A", "a@x.com", "p1")

	rec := api.do(t, http.MethodPost, "/create", token, map[string]any{
		"title": "T", "description": "D", "article": "Body", "user_id": 99,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[types.Post](t, rec)
	assert.Equal(t, 1, created.UserID)
	path := fmt.Sprintf("/post/%d", created.ID)

	rec = api.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[types.Post](t, rec)
	assert.Equal(t, "T", got.Title)
	assert.Equal(t, "D", got.Description)
	assert.Equal(t, "Body", got.Article)

	rec = api.do(t, http.MethodPut, fmt.Sprintf("/update/%d", created.ID), token, map[string]string{
		"title": "T2", "description": "D2", "article": "Body2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "T2", decode[types.Post](t, rec).Title)

	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/delete/%d", created.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Post deleted"}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/delete/%d", created.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPosts_ForeignOwnerGetsNotFound(t *testing.T) {
	api := newTestAPI(t, "test-secret")
	alice := api.signupAndLogin(t, "A", "a@x.com", "p1")
	bob := api.signupAndLogin(t, "B", "b@x.com", "p2")

	rec := api.do(t, http.MethodPost, "/create", alice, map[string]string{"title": "secret", "article": "hidden"})
	require.Equal(t, http.StatusCreated, rec.Code)
	post := decode[types.Post](t, rec)

	requests := []struct {
		method string
		path   string
		body   any
	}{
		{method: http.MethodGet, path: fmt.Sprintf("/post/%d", post.ID)},
		{method: http.MethodPut, path: fmt.Sprintf("/update/%d", post.ID), body: map[string]string{"title": "pwned", "article": "x"}},
		{method: http.MethodDelete, path: fmt.Sprintf("/delete/%d", post.ID)},
	}
	for _, req := range requests {
		rec := api.do(t, req.method, req.path, bob, req.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, req.method)
		assert.NotContains(t, rec.Body.String(), "hidden")
	}

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/post/%d", post.ID), alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret", decode[types.Post](t, rec).Title)
}

func TestPosts_BadRequests(t *testing.T) {
	api := newTestAPI(t, "test-secret")
	token := api.signupAndLogin(t, "A", "a@x.com", "p1")

	rec := api.do(t, http.MethodGet, "/post/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid post id", decode[ErrorResponse](t, rec).Error)

	rec = api.do(t, http.MethodDelete, "/delete/0", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/create", token, map[string]string{"description": strings.Repeat("x", 1001)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.ElementsMatch(t,
		[]string{"title : Required", "description : Must contain at most 1000 character(s)", "article : Required"},
		decode[ErrorResponse](t, rec).Details,
	)

	rec = api.do(t, http.MethodPut, "/update/999", token, map[string]string{"title": "t", "article": "a"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPosts_RequireToken(t *testing.T) {
	api := newTestAPI(t, "test-secret")

	rec := api.do(t, http.MethodPost, "/create", "", map[string]string{"title": "t", "article": "a"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/create", "", "{broken")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlersWithoutIdentity(t *testing.T) {
	h := NewPostHandler(services.NewPostService(&memPosts{rows: map[int]types.Post{}}), nil)

	rec := httptest.NewRecorder()
	h.GetPost(rec, httptest.NewRequest(http.MethodGet, "/post/1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgMissingIdentity, decode[ErrorResponse](t, rec).Error)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, "test-secret")

	rec := api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
