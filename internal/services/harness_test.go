package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorum/internal/config"
	"quorum/internal/models"
	"quorum/internal/ratelimit"
	"quorum/internal/storage/memstore"
)

type harness struct {
	store   *memstore.Store
	limiter *ratelimit.MemoryLimiter
	svc     *Services
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			Policies: map[string]config.Policy{
				config.ActionView: {Limit: 1, Window: 300 * time.Second},
			},
		},
		Comments: config.CommentsConfig{MaxDepth: 3, MaxLength: 2000},
		Notifications: config.NotificationsConfig{
			BatchSize:   500,
			QueueSize:   100,
			Workers:     2,
			TaskTimeout: 5 * time.Second,
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	limiter, err := ratelimit.NewMemoryLimiter(4, 128)
	require.NoError(t, err)

	store := memstore.New()
	svc := New(store, limiter, testConfig(), nil)
	svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &harness{store: store, limiter: limiter, svc: svc}
}

// drain waits for every queued notification and audit task.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(ctx))
}

func (h *harness) user(t *testing.T, name, role string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.org", Role: role}
	require.NoError(t, h.store.Users().Save(context.Background(), u))
	return u
}

func (h *harness) post(t *testing.T, authorID uint, title string, status models.PostStatus) *models.Post {
	t.Helper()
	p := &models.Post{UserID: authorID, Title: title, Status: status}
	require.NoError(t, h.store.Posts().Create(context.Background(), p))
	return p
}

func (h *harness) notificationsFor(userID uint) []models.Notification {
	var out []models.Notification
	for _, n := range h.store.AllNotifications() {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}
