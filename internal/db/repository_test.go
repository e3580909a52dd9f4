package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"quorum/internal/config"
	"quorum/internal/models"
	"quorum/internal/storage"
)

// Run locally:
//   GO_TEST_INTEGRATION=1 go test ./internal/db -v -count=1

func startPostgres(t *testing.T) (*DB, func()) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "5432/tcp")
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	var d *DB
	require.Eventually(t, func() bool {
		d, err = New(&config.DatabaseConfig{URL: dsn, MaxOpenConns: 10, MaxIdleConns: 2}, "error")
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	require.NoError(t, d.Migrate())

	cleanup := func() {
		_ = d.Close()
		_ = c.Terminate(context.Background())
	}
	return d, cleanup
}

func seedUsers(t *testing.T, st *Store, n int) []*models.User {
	t.Helper()
	users := make([]*models.User, 0, n)
	for i := 0; i < n; i++ {
		u := &models.User{Username: fmt.Sprintf("user%d", i), Email: fmt.Sprintf("user%d@example.org", i)}
		require.NoError(t, st.Users().Save(context.Background(), u))
		users = append(users, u)
	}
	return users
}

func TestIntegration_VoteIdentityAndScores(t *testing.T) {
	d, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	st := NewStore(d.DB)
	users := seedUsers(t, st, 2)

	post := &models.Post{UserID: users[0].ID, Title: "hello", Status: models.PostPublished}
	require.NoError(t, st.Posts().Create(ctx, post))

	v := &models.Vote{UserID: users[1].ID, TargetKind: models.TargetPost, TargetID: post.ID, Value: 1, Label: models.LabelUpvote}
	require.NoError(t, st.Votes().Create(ctx, v))

	dup := &models.Vote{UserID: users[1].ID, TargetKind: models.TargetPost, TargetID: post.ID, Value: -1, Label: models.LabelDownvote}
	require.ErrorIs(t, st.Votes().Create(ctx, dup), storage.ErrConflict)

	require.NoError(t, st.Votes().Create(ctx, &models.Vote{UserID: users[0].ID, TargetKind: models.TargetPost, TargetID: post.ID, Value: 1, Label: models.LabelUpvote}))

	score, err := st.Votes().Score(ctx, models.TargetPost, post.ID)
	require.NoError(t, err)
	require.Equal(t, 2, score)

	require.NoError(t, st.WithTx(ctx, func(tx storage.Store) error {
		found, err := tx.Votes().FindForUpdate(ctx, users[1].ID, models.TargetPost, post.ID)
		if err != nil {
			return err
		}
		return tx.Votes().UpdateValue(ctx, found.ID, -1)
	}))

	scores, err := st.Votes().Scores(ctx, models.TargetPost, []uint{post.ID, post.ID + 100})
	require.NoError(t, err)
	require.Equal(t, map[uint]int{post.ID: 0}, scores)

	mine, err := st.Votes().UserVotes(ctx, users[1].ID, models.TargetPost, []uint{post.ID})
	require.NoError(t, err)
	require.Equal(t, -1, mine[post.ID])

	_, err = st.Votes().FindForUpdate(ctx, users[1].ID, models.TargetComment, post.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_ListIDsAfterAndBatchInsert(t *testing.T) {
	d, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	st := NewStore(d.DB)
	users := seedUsers(t, st, 7)

	var seen []uint
	var after uint
	for {
		ids, err := st.Users().ListIDsAfter(ctx, after, 3)
		require.NoError(t, err)
		seen = append(seen, ids...)
		if len(ids) < 3 {
			break
		}
		after = ids[len(ids)-1]
	}
	require.Len(t, seen, len(users))

	batch := make([]*models.Notification, 0, len(seen))
	for _, id := range seen {
		batch = append(batch, &models.Notification{UserID: id, Type: models.NotificationUpdate, Message: "hi"})
	}
	require.NoError(t, st.Notifications().CreateBatch(ctx, batch))

	n, err := st.Notifications().UnreadCount(ctx, users[0].ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	affected, err := st.Notifications().MarkAllRead(ctx, users[0].ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	n, err = st.Notifications().UnreadCount(ctx, users[1].ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestIntegration_CommentReparent(t *testing.T) {
	d, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	st := NewStore(d.DB)
	users := seedUsers(t, st, 1)

	post := &models.Post{UserID: users[0].ID, Title: "tree", Status: models.PostPublished}
	require.NoError(t, st.Posts().Create(ctx, post))

	a := &models.Comment{PostID: post.ID, UserID: users[0].ID, Content: "a"}
	require.NoError(t, st.Comments().Create(ctx, a))
	b := &models.Comment{PostID: post.ID, UserID: users[0].ID, Content: "b", ParentID: &a.ID}
	require.NoError(t, st.Comments().Create(ctx, b))
	c := &models.Comment{PostID: post.ID, UserID: users[0].ID, Content: "c", ParentID: &b.ID}
	require.NoError(t, st.Comments().Create(ctx, c))

	require.NoError(t, st.Comments().Reparent(ctx, b.ID, b.ParentID))
	require.NoError(t, st.Comments().Delete(ctx, b.ID))

	got, err := st.Comments().Get(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ParentID)
	require.Equal(t, a.ID, *got.ParentID)

	require.NoError(t, st.Comments().Reparent(ctx, a.ID, nil))
	got, err = st.Comments().Get(ctx, c.ID)
	require.NoError(t, err)
	require.Nil(t, got.ParentID)

	all, err := st.Comments().ListByPost(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestIntegration_UserApplyPatch(t *testing.T) {
	d, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	st := NewStore(d.DB)
	users := seedUsers(t, st, 1)

	role := models.RoleModerator
	require.NoError(t, st.Users().ApplyPatch(ctx, users[0].ID, storage.UserChanges{Role: &role}))

	got, err := st.Users().Get(ctx, users[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleModerator, got.Role)
	require.Equal(t, users[0].Email, got.Email)
	require.Equal(t, models.PlanFree, got.Plan)

	require.ErrorIs(t, st.Users().ApplyPatch(ctx, users[0].ID+100, storage.UserChanges{Role: &role}), storage.ErrNotFound)
}
