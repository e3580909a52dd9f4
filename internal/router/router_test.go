package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"quorum/internal/config"
	"quorum/internal/middleware"
	"quorum/internal/models"
	"quorum/internal/ratelimit"
	"quorum/internal/services"
	"quorum/internal/storage/memstore"
)

type testServer struct {
	engine *gin.Engine
	store  *memstore.Store
	svc    *services.Services
}

func newTestServer(t *testing.T, health func(context.Context) error, voteLimit int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Session: config.SessionConfig{Name: "quorum_test", Secret: "test-secret"},
		RateLimit: config.RateLimitConfig{
			Policies: map[string]config.Policy{
				config.ActionVote: {Limit: voteLimit, Window: time.Minute},
			},
		},
		Comments:      config.CommentsConfig{MaxDepth: 3, MaxLength: 2000},
		Notifications: config.NotificationsConfig{BatchSize: 500, QueueSize: 100, Workers: 2, TaskTimeout: 5 * time.Second},
	}

	limiter, err := ratelimit.NewMemoryLimiter(4, 256)
	require.NoError(t, err)
	store := memstore.New()
	svc := services.New(store, limiter, cfg, nil)
	svc.Start()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	engine := New(Deps{
		Config:   cfg,
		Services: svc,
		Store:    store,
		Limiter:  limiter,
		Health:   health,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	})
	// stands in for the auth service, which owns the session cookie
	engine.GET("/test/login/:id", func(c *gin.Context) {
		id, _ := strconv.Atoi(c.Param("id"))
		s := sessions.Default(c)
		s.Set(middleware.SessionUserKey, id)
		require.NoError(t, s.Save())
		c.Status(http.StatusNoContent)
	})

	return &testServer{engine: engine, store: store, svc: svc}
}

func (s *testServer) user(t *testing.T, name, role string) (*models.User, string) {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.org", Role: role}
	require.NoError(t, s.store.Users().Save(context.Background(), u))

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/test/login/%d", u.ID), nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	cookie := w.Header().Get("Set-Cookie")
	require.NotEmpty(t, cookie)
	return u, strings.SplitN(cookie, ";", 2)[0]
}

func (s *testServer) post(t *testing.T, authorID uint, title string) *models.Post {
	t.Helper()
	p := &models.Post{UserID: authorID, Title: title, Status: models.PostPublished}
	require.NoError(t, s.store.Posts().Create(context.Background(), p))
	return p
}

func (s *testServer) do(method, path, body, cookie string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil, 100)

	w := s.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = s.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeError(t, w)
	require.Equal(t, "not_found", body.Error.Code)
	require.Equal(t, w.Header().Get(middleware.RequestIDHeader), body.Error.RequestID)

	down := newTestServer(t, func(context.Context) error { return errors.New("db down") }, 100)
	w = down.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, nil, 100)
	req := httptest.NewRequest(http.MethodGet, "/api/posts/999", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "abc-123", w.Header().Get(middleware.RequestIDHeader))
	require.Equal(t, "abc-123", decodeError(t, w).Error.RequestID)
}

func TestVote_Endpoint(t *testing.T) {
	s := newTestServer(t, nil, 100)
	author, _ := s.user(t, "author", models.RoleUser)
	_, cookie := s.user(t, "voter", models.RoleUser)
	post := s.post(t, author.ID, "Hello")
	path := fmt.Sprintf("/api/vote/post/%d", post.ID)

	w := s.do(http.MethodPost, path, `{"value":1}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "unauthenticated", decodeError(t, w).Error.Code)

	w = s.do(http.MethodPost, path, `{"value":1}`, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeMap(t, w)
	require.Equal(t, "created", got["action"])
	require.EqualValues(t, 1, got["voteScore"])
	require.EqualValues(t, 1, got["userVote"])

	w = s.do(http.MethodPost, path, `{"value":1}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	got = decodeMap(t, w)
	require.Equal(t, "removed", got["action"])
	require.EqualValues(t, 0, got["voteScore"])
	require.Nil(t, got["userVote"])

	w = s.do(http.MethodGet, path, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 0, decodeMap(t, w)["voteScore"])
}

func TestVote_BadInput(t *testing.T) {
	s := newTestServer(t, nil, 100)
	author, cookie := s.user(t, "author", models.RoleUser)
	post := s.post(t, author.ID, "Hello")

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"bad kind", fmt.Sprintf("/api/vote/user/%d", post.ID), `{"value":1}`, http.StatusBadRequest},
		{"bad id", "/api/vote/post/abc", `{"value":1}`, http.StatusBadRequest},
		{"missing value", fmt.Sprintf("/api/vote/post/%d", post.ID), `{}`, http.StatusBadRequest},
		{"value out of range", fmt.Sprintf("/api/vote/post/%d", post.ID), `{"value":5}`, http.StatusBadRequest},
		{"malformed", fmt.Sprintf("/api/vote/post/%d", post.ID), `{"value":`, http.StatusBadRequest},
		{"missing target", "/api/vote/comment/4242", `{"value":1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, tt.path, tt.body, cookie)
			require.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestVote_RateLimited(t *testing.T) {
	s := newTestServer(t, nil, 3)
	author, cookie := s.user(t, "author", models.RoleUser)
	post := s.post(t, author.ID, "Hello")
	path := fmt.Sprintf("/api/vote/post/%d", post.ID)

	for i := 0; i < 3; i++ {
		w := s.do(http.MethodPost, path, `{"value":1}`, cookie)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, strconv.Itoa(2-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := s.do(http.MethodPost, path, `{"value":1}`, cookie)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.True(t, retry >= 1 && retry <= 60, "Retry-After = %d", retry)
	require.Equal(t, "rate_limited", decodeError(t, w).Error.Code)
}

func TestComments_Endpoints(t *testing.T) {
	s := newTestServer(t, nil, 100)
	author, authorCookie := s.user(t, "author", models.RoleUser)
	_, otherCookie := s.user(t, "other", models.RoleUser)
	post := s.post(t, author.ID, "Thread")

	w := s.do(http.MethodPost, fmt.Sprintf("/api/posts/%d/comments", post.ID), `{"content":"top"}`, authorCookie)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	top := decodeMap(t, w)
	topID := uint(top["id"].(float64))

	w = s.do(http.MethodPost, fmt.Sprintf("/api/posts/%d/comments", post.ID), fmt.Sprintf(`{"content":"reply","parentId":%d}`, topID), otherCookie)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	replyID := uint(decodeMap(t, w)["id"].(float64))

	w = s.do(http.MethodGet, fmt.Sprintf("/api/posts/%d/comments", post.ID), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tree struct {
		Comments []*services.CommentNode `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	require.Len(t, tree.Comments, 1)
	require.Len(t, tree.Comments[0].Replies, 1)
	require.Equal(t, replyID, tree.Comments[0].Replies[0].ID)

	w = s.do(http.MethodDelete, fmt.Sprintf("/api/comments/%d", topID), "", otherCookie)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, fmt.Sprintf("/api/comments/%d", topID), "", authorCookie)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodDelete, fmt.Sprintf("/api/comments/%d", topID), "", authorCookie)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPosts_Endpoints(t *testing.T) {
	s := newTestServer(t, nil, 100)
	_, authorCookie := s.user(t, "author", models.RoleUser)
	_, readerCookie := s.user(t, "reader", models.RoleUser)

	w := s.do(http.MethodPost, "/api/posts", `{"title":"Launch","content":"**big** news","tags":["go"]}`, authorCookie)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeMap(t, w)
	id := uint(created["id"].(float64))
	require.Contains(t, created["contentHtml"], "<strong>big</strong>")
	require.NotContains(t, created, "user")

	path := fmt.Sprintf("/api/posts/%d", id)
	w = s.do(http.MethodGet, path, "", readerCookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, decodeMap(t, w)["viewCount"])

	// a second read in the same window is not counted
	w = s.do(http.MethodGet, path, "", readerCookie)
	require.EqualValues(t, 1, decodeMap(t, w)["viewCount"])

	w = s.do(http.MethodPatch, path, `{"title":"Renamed","score":100}`, authorCookie)
	require.Equal(t, http.StatusBadRequest, w.Code, "unknown fields are rejected")

	w = s.do(http.MethodPatch, path, `{"title":"Renamed"}`, readerCookie)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPatch, path, `{"title":"Renamed","status":"DRAFT"}`, authorCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "DRAFT", decodeMap(t, w)["status"])

	w = s.do(http.MethodGet, path, "", readerCookie)
	require.Equal(t, http.StatusNotFound, w.Code, "drafts are hidden from other users")

	w = s.do(http.MethodDelete, path, "", authorCookie)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestReactions_Endpoint(t *testing.T) {
	s := newTestServer(t, nil, 100)
	author, cookie := s.user(t, "author", models.RoleUser)
	post := s.post(t, author.ID, "React")
	path := fmt.Sprintf("/api/posts/%d/reactions", post.ID)

	w := s.do(http.MethodPost, path, `{"kind":"consult"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeMap(t, w)
	require.Equal(t, map[string]interface{}{"WANT_MORE": 0.0, "DISCOVERY": 0.0, "CONSULT": 1.0}, got["reactions"])
	require.Equal(t, []interface{}{"CONSULT"}, got["userReactions"])

	w = s.do(http.MethodPost, path, `{"kind":"LOVE"}`, cookie)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, path, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []interface{}{}, decodeMap(t, w)["userReactions"])
}

func TestNotifications_Endpoints(t *testing.T) {
	s := newTestServer(t, nil, 100)
	author, authorCookie := s.user(t, "author", models.RoleUser)
	_, voterCookie := s.user(t, "voter", models.RoleUser)
	post := s.post(t, author.ID, "Popular")

	w := s.do(http.MethodPost, fmt.Sprintf("/api/vote/post/%d", post.ID), `{"value":1}`, voterCookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, s.svc.Shutdown(context.Background()))

	w = s.do(http.MethodGet, "/api/notifications", "", authorCookie)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeMap(t, w)
	require.EqualValues(t, 1, got["unreadCount"])
	require.Len(t, got["notifications"], 1)

	w = s.do(http.MethodPut, "/api/notifications", `{"markAll":true,"ids":[1]}`, authorCookie)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/notifications", `{}`, authorCookie)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/notifications", `{"markAll":true}`, authorCookie)
	require.Equal(t, http.StatusOK, w.Code)
	got = decodeMap(t, w)
	require.EqualValues(t, 1, got["updated"])
	require.EqualValues(t, 0, got["unreadCount"])
}

func TestModerationAndAdmin_Endpoints(t *testing.T) {
	s := newTestServer(t, nil, 100)
	author, authorCookie := s.user(t, "author", models.RoleUser)
	_, modCookie := s.user(t, "mod", models.RoleModerator)
	_, adminCookie := s.user(t, "admin", models.RoleAdmin)
	post := s.post(t, author.ID, "Questionable")

	path := fmt.Sprintf("/api/mod/posts/%d", post.ID)
	w := s.do(http.MethodPatch, path, `{"status":"FLAGGED"}`, authorCookie)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPatch, path, `{"status":"FLAGGED","reason":"check sources"}`, modCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "FLAGGED", decodeMap(t, w)["status"])

	w = s.do(http.MethodPost, "/api/admin/updates", `{"title":"Dark mode","impact":"all pages"}`, modCookie)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/admin/updates", `{"title":"Dark mode","impact":"all pages"}`, adminCookie)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = s.do(http.MethodPatch, fmt.Sprintf("/api/admin/users/%d", author.ID), `{"banned":true}`, adminCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// the banned author is locked out of write endpoints
	w = s.do(http.MethodPost, "/api/posts", `{"title":"again"}`, authorCookie)
	require.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, s.svc.Shutdown(context.Background()))

	w = s.do(http.MethodGet, "/api/admin/audit?action=ban", "", adminCookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeMap(t, w)["entries"], 1)

	w = s.do(http.MethodGet, "/api/admin/audit?action=nonsense", "", adminCookie)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/admin/audit", "", adminCookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeMap(t, w)["entries"], 3)
}
