package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorum/internal/models"
)

func TestComments_TreeAndDeleteReparents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "author", models.RoleUser)
	x := h.user(t, "x", models.RoleUser)
	y := h.user(t, "y", models.RoleUser)
	post := h.post(t, author.ID, "Tree", models.PostPublished)

	a, err := h.svc.Comments.Create(ctx, post.ID, x.ID, "A", nil)
	require.NoError(t, err)
	b, err := h.svc.Comments.Create(ctx, post.ID, y.ID, "B", &a.ID)
	require.NoError(t, err)
	c, err := h.svc.Comments.Create(ctx, post.ID, x.ID, "C", &b.ID)
	require.NoError(t, err)

	tree, err := h.svc.Comments.List(ctx, post.ID, 0)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Equal(t, a.ID, tree[0].ID)
	require.Len(t, tree[0].Replies, 1)
	require.Equal(t, b.ID, tree[0].Replies[0].ID)
	require.Len(t, tree[0].Replies[0].Replies, 1)
	require.Equal(t, c.ID, tree[0].Replies[0].Replies[0].ID)

	_, err = h.svc.Votes.Vote(ctx, x.ID, b.ID, models.TargetComment, 1)
	require.NoError(t, err)

	require.NoError(t, h.svc.Comments.Delete(ctx, b.ID, y.ID))

	tree, err = h.svc.Comments.List(ctx, post.ID, 0)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Replies, 1)
	require.Equal(t, c.ID, tree[0].Replies[0].ID)
	require.Equal(t, 0, h.store.VoteCount(), "votes on the deleted comment go with it")

	// deleting a root promotes its replies to the top level
	require.NoError(t, h.svc.Comments.Delete(ctx, a.ID, x.ID))
	tree, err = h.svc.Comments.List(ctx, post.ID, 0)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Equal(t, c.ID, tree[0].ID)
	require.Nil(t, tree[0].ParentID)
}

func TestComments_DeleteRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "author", models.RoleUser)
	other := h.user(t, "other", models.RoleUser)
	post := h.post(t, author.ID, "Rules", models.PostPublished)

	c, err := h.svc.Comments.Create(ctx, post.ID, author.ID, "mine", nil)
	require.NoError(t, err)

	require.ErrorIs(t, h.svc.Comments.Delete(ctx, c.ID, 0), ErrUnauthenticated)
	require.ErrorIs(t, h.svc.Comments.Delete(ctx, c.ID, other.ID), ErrForbidden)
	require.ErrorIs(t, h.svc.Comments.Delete(ctx, 9999, author.ID), ErrNotFound)
	require.NoError(t, h.svc.Comments.Delete(ctx, c.ID, author.ID))
	require.ErrorIs(t, h.svc.Comments.Delete(ctx, c.ID, author.ID), ErrNotFound)
}

func TestBuildTree_CollapsesAtMaxDepth(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ptr := func(id uint) *uint { return &id }
	comments := []*models.Comment{
		{ID: 1, CreatedAt: base},
		{ID: 2, ParentID: ptr(1), CreatedAt: base.Add(time.Second)},
		{ID: 3, ParentID: ptr(2), CreatedAt: base.Add(2 * time.Second)},
		{ID: 4, ParentID: ptr(3), CreatedAt: base.Add(3 * time.Second)},
		{ID: 5, ParentID: ptr(4), CreatedAt: base.Add(4 * time.Second)},
		{ID: 6, ParentID: ptr(42), CreatedAt: base.Add(5 * time.Second)},
	}

	roots, nodes := buildTree(comments, 3)
	require.Len(t, nodes, 6)
	require.Len(t, roots, 2, "a reply to a missing parent becomes a root")
	require.Equal(t, uint(1), roots[0].ID)
	require.Equal(t, uint(6), roots[1].ID)

	third := roots[0].Replies[0].Replies[0]
	require.Equal(t, uint(3), third.ID)
	require.Len(t, third.Replies, 2)
	require.Equal(t, uint(4), third.Replies[0].ID)
	require.Equal(t, uint(5), third.Replies[1].ID)
	require.Empty(t, third.Replies[0].Replies)
}

func TestComments_ListEnrichesVotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "author", models.RoleUser)
	voter := h.user(t, "voter", models.RoleUser)
	post := h.post(t, author.ID, "Scores", models.PostPublished)

	c, err := h.svc.Comments.Create(ctx, post.ID, author.ID, "**bold**", nil)
	require.NoError(t, err)
	_, err = h.svc.Votes.Vote(ctx, voter.ID, c.ID, models.TargetComment, 1)
	require.NoError(t, err)

	tree, err := h.svc.Comments.List(ctx, post.ID, voter.ID)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Equal(t, 1, tree[0].VoteScore)
	require.NotNil(t, tree[0].UserVote)
	require.Equal(t, 1, *tree[0].UserVote)
	require.Equal(t, "author", tree[0].AuthorName)
	require.Contains(t, tree[0].ContentHTML, "<strong>bold</strong>")

	tree, err = h.svc.Comments.List(ctx, post.ID, 0)
	require.NoError(t, err)
	require.Nil(t, tree[0].UserVote)
}

func TestComments_CreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "author", models.RoleUser)
	post := h.post(t, author.ID, "One", models.PostPublished)
	other := h.post(t, author.ID, "Two", models.PostPublished)
	draft := h.post(t, author.ID, "Draft", models.PostDraft)

	foreign, err := h.svc.Comments.Create(ctx, other.ID, author.ID, "elsewhere", nil)
	require.NoError(t, err)
	missing := uint(9999)

	tests := []struct {
		name    string
		actor   uint
		post    uint
		content string
		parent  *uint
		want    error
	}{
		{"anonymous", 0, post.ID, "hi", nil, ErrUnauthenticated},
		{"blank", author.ID, post.ID, "   ", nil, ErrInvalidArgument},
		{"too long", author.ID, post.ID, strings.Repeat("x", 2001), nil, ErrInvalidArgument},
		{"only markup", author.ID, post.ID, "<script>alert(1)</script>", nil, ErrInvalidArgument},
		{"missing post", author.ID, 9999, "hi", nil, ErrNotFound},
		{"draft post", author.ID, draft.ID, "hi", nil, ErrNotFound},
		{"missing parent", author.ID, post.ID, "hi", &missing, ErrNotFound},
		{"parent on another post", author.ID, post.ID, "hi", &foreign.ID, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Comments.Create(ctx, tt.post, tt.actor, tt.content, tt.parent)
			require.ErrorIs(t, err, tt.want)
		})
	}

	ok, err := h.svc.Comments.Create(ctx, post.ID, author.ID, strings.Repeat("é", 2000), nil)
	require.NoError(t, err)
	require.NotZero(t, ok.ID)
}

func TestComments_CreateSanitizesAndNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "author", models.RoleUser)
	x := h.user(t, "x", models.RoleUser)
	y := h.user(t, "y", models.RoleUser)
	post := h.post(t, author.ID, "Notify", models.PostPublished)

	top, err := h.svc.Comments.Create(ctx, post.ID, x.ID, `nice <img src=x onerror="alert(1)"> post`, nil)
	require.NoError(t, err)
	require.NotContains(t, top.Content, "onerror")
	require.NotContains(t, top.Content, "<img")

	_, err = h.svc.Comments.Create(ctx, post.ID, y.ID, "reply", &top.ID)
	require.NoError(t, err)

	// replying to yourself notifies nobody
	_, err = h.svc.Comments.Create(ctx, post.ID, x.ID, "self", &top.ID)
	require.NoError(t, err)

	h.drain(t)

	toAuthor := h.notificationsFor(author.ID)
	require.Len(t, toAuthor, 1)
	require.Equal(t, models.NotificationComment, toAuthor[0].Type)
	require.NotNil(t, toAuthor[0].Link)
	require.Contains(t, *toAuthor[0].Link, "#comment-")

	toX := h.notificationsFor(x.ID)
	require.Len(t, toX, 1)
	require.Equal(t, models.NotificationReply, toX[0].Type)

	require.Empty(t, h.notificationsFor(y.ID))
}

func TestComments_CreateKeepsMarkdownText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "author", models.RoleUser)
	post := h.post(t, author.ID, "Markdown", models.PostPublished)

	content := "x<y and 1<2, see <https://example.org>\n\nuse `<div>` here\n\n```html\n<b>hi</b>\n```"
	node, err := h.svc.Comments.Create(ctx, post.ID, author.ID, content, nil)
	require.NoError(t, err)
	require.Equal(t, content, node.Content)

	stored, err := h.store.Comments().Get(ctx, node.ID)
	require.NoError(t, err)
	require.Equal(t, content, stored.Content)

	tree, err := h.svc.Comments.List(ctx, post.ID, 0)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Equal(t, content, tree[0].Content)
	require.Contains(t, tree[0].ContentHTML, "&lt;div&gt;")
	require.Contains(t, tree[0].ContentHTML, `href="https://example.org"`)
}
