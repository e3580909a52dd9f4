// Package memstore is an in-memory storage.Store for tests. Only _test.go
// files import it; the server always runs on internal/db. It keeps the
// repository contracts (ErrNotFound, ErrConflict, transactional rollback) and
// adds inspection helpers such as AllNotifications and FailNotifications.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"quorum/internal/models"
	"quorum/internal/storage"
)

type state struct {
	nextID        uint
	votes         map[uint]models.Vote
	reactions     map[uint]models.Reaction
	comments      map[uint]models.Comment
	posts         map[uint]models.Post
	users         map[uint]models.User
	notifications map[uint]models.Notification
	audit         []models.AuditEntry
	updates       map[uint]models.Update

	batches         []int
	notificationErr error
}

func newState() *state {
	return &state{
		votes:         make(map[uint]models.Vote),
		reactions:     make(map[uint]models.Reaction),
		comments:      make(map[uint]models.Comment),
		posts:         make(map[uint]models.Post),
		users:         make(map[uint]models.User),
		notifications: make(map[uint]models.Notification),
		updates:       make(map[uint]models.Update),
	}
}

func cloneMap[V any](m map[uint]V) map[uint]V {
	out := make(map[uint]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	c := *s
	c.votes = cloneMap(s.votes)
	c.reactions = cloneMap(s.reactions)
	c.comments = cloneMap(s.comments)
	c.posts = cloneMap(s.posts)
	c.users = cloneMap(s.users)
	c.notifications = cloneMap(s.notifications)
	c.updates = cloneMap(s.updates)
	c.audit = append([]models.AuditEntry(nil), s.audit...)
	c.batches = append([]int(nil), s.batches...)
	return &c
}

func (s *state) id() uint {
	s.nextID++
	return s.nextID
}

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Votes() storage.VoteStore                 { return voteStore{s} }
func (s *Store) Reactions() storage.ReactionStore         { return reactionStore{s} }
func (s *Store) Comments() storage.CommentStore           { return commentStore{s} }
func (s *Store) Posts() storage.PostStore                 { return postStore{s} }
func (s *Store) Users() storage.UserStore                 { return userStore{s} }
func (s *Store) Notifications() storage.NotificationStore { return notificationStore{s} }
func (s *Store) Audit() storage.AuditStore                { return auditStore{s} }
func (s *Store) Updates() storage.UpdateStore             { return updateStore{s} }

// WithTx holds the store lock for the whole of fn and restores the previous
// state when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&Store{mu: s.mu, st: s.st, inTx: true}); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

// NotificationBatches returns the size of every CreateBatch call so far.
func (s *Store) NotificationBatches() []int {
	defer s.lock()()
	return append([]int(nil), s.st.batches...)
}

// AllNotifications returns every stored notification ordered by id.
func (s *Store) AllNotifications() []models.Notification {
	defer s.lock()()
	out := make([]models.Notification, 0, len(s.st.notifications))
	for _, n := range s.st.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllAudit returns every audit entry in insertion order.
func (s *Store) AllAudit() []models.AuditEntry {
	defer s.lock()()
	return append([]models.AuditEntry(nil), s.st.audit...)
}

// VoteCount returns the number of stored vote rows.
func (s *Store) VoteCount() int {
	defer s.lock()()
	return len(s.st.votes)
}

// FailNotifications makes every later notification write return err.
func (s *Store) FailNotifications(err error) {
	defer s.lock()()
	s.st.notificationErr = err
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

type voteStore struct{ s *Store }

func (v voteStore) FindForUpdate(ctx context.Context, userID uint, kind models.TargetKind, targetID uint) (*models.Vote, error) {
	defer v.s.lock()()
	for _, vote := range v.s.st.votes {
		if vote.UserID == userID && vote.TargetKind == kind && vote.TargetID == targetID {
			return &vote, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (v voteStore) Create(ctx context.Context, vote *models.Vote) error {
	defer v.s.lock()()
	for _, existing := range v.s.st.votes {
		if existing.UserID == vote.UserID && existing.TargetKind == vote.TargetKind && existing.TargetID == vote.TargetID {
			return storage.ErrConflict
		}
	}
	vote.ID = v.s.st.id()
	stamp(&vote.CreatedAt)
	vote.UpdatedAt = vote.CreatedAt
	v.s.st.votes[vote.ID] = *vote
	return nil
}

func (v voteStore) UpdateValue(ctx context.Context, id uint, value int) error {
	defer v.s.lock()()
	vote, ok := v.s.st.votes[id]
	if !ok {
		return storage.ErrNotFound
	}
	vote.Value = value
	vote.Label = models.LabelFor(value)
	vote.UpdatedAt = time.Now().UTC()
	v.s.st.votes[id] = vote
	return nil
}

func (v voteStore) Delete(ctx context.Context, id uint) error {
	defer v.s.lock()()
	delete(v.s.st.votes, id)
	return nil
}

func (v voteStore) DeleteForTarget(ctx context.Context, kind models.TargetKind, targetID uint) error {
	defer v.s.lock()()
	for id, vote := range v.s.st.votes {
		if vote.TargetKind == kind && vote.TargetID == targetID {
			delete(v.s.st.votes, id)
		}
	}
	return nil
}

func (v voteStore) Score(ctx context.Context, kind models.TargetKind, targetID uint) (int, error) {
	defer v.s.lock()()
	total := 0
	for _, vote := range v.s.st.votes {
		if vote.TargetKind == kind && vote.TargetID == targetID {
			total += vote.Value
		}
	}
	return total, nil
}

func (v voteStore) Scores(ctx context.Context, kind models.TargetKind, targetIDs []uint) (map[uint]int, error) {
	defer v.s.lock()()
	wanted := idSet(targetIDs)
	scores := make(map[uint]int)
	for _, vote := range v.s.st.votes {
		if _, ok := wanted[vote.TargetID]; ok && vote.TargetKind == kind {
			scores[vote.TargetID] += vote.Value
		}
	}
	return scores, nil
}

func (v voteStore) UserVotes(ctx context.Context, userID uint, kind models.TargetKind, targetIDs []uint) (map[uint]int, error) {
	defer v.s.lock()()
	wanted := idSet(targetIDs)
	votes := make(map[uint]int)
	for _, vote := range v.s.st.votes {
		if _, ok := wanted[vote.TargetID]; ok && vote.TargetKind == kind && vote.UserID == userID {
			votes[vote.TargetID] = vote.Value
		}
	}
	return votes, nil
}

func idSet(ids []uint) map[uint]struct{} {
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

type reactionStore struct{ s *Store }

func (r reactionStore) Find(ctx context.Context, userID, postID uint, kind models.ReactionKind) (*models.Reaction, error) {
	defer r.s.lock()()
	for _, reaction := range r.s.st.reactions {
		if reaction.UserID == userID && reaction.PostID == postID && reaction.Kind == kind {
			return &reaction, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r reactionStore) Create(ctx context.Context, reaction *models.Reaction) error {
	defer r.s.lock()()
	for _, existing := range r.s.st.reactions {
		if existing.UserID == reaction.UserID && existing.PostID == reaction.PostID && existing.Kind == reaction.Kind {
			return storage.ErrConflict
		}
	}
	reaction.ID = r.s.st.id()
	stamp(&reaction.CreatedAt)
	r.s.st.reactions[reaction.ID] = *reaction
	return nil
}

func (r reactionStore) Delete(ctx context.Context, id uint) error {
	defer r.s.lock()()
	delete(r.s.st.reactions, id)
	return nil
}

func (r reactionStore) Counts(ctx context.Context, postID uint) (map[models.ReactionKind]int, error) {
	defer r.s.lock()()
	counts := make(map[models.ReactionKind]int)
	for _, reaction := range r.s.st.reactions {
		if reaction.PostID == postID {
			counts[reaction.Kind]++
		}
	}
	return counts, nil
}

func (r reactionStore) UserKinds(ctx context.Context, userID, postID uint) ([]models.ReactionKind, error) {
	defer r.s.lock()()
	var kinds []models.ReactionKind
	for _, reaction := range r.s.st.reactions {
		if reaction.PostID == postID && reaction.UserID == userID {
			kinds = append(kinds, reaction.Kind)
		}
	}
	return kinds, nil
}

type commentStore struct{ s *Store }

func (c commentStore) Get(ctx context.Context, id uint) (*models.Comment, error) {
	defer c.s.lock()()
	comment, ok := c.s.st.comments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &comment, nil
}

func (c commentStore) ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	defer c.s.lock()()
	var out []*models.Comment
	for _, comment := range c.s.st.comments {
		if comment.PostID == postID {
			comment := comment
			comment.User = c.s.st.users[comment.UserID]
			out = append(out, &comment)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c commentStore) Create(ctx context.Context, comment *models.Comment) error {
	defer c.s.lock()()
	comment.ID = c.s.st.id()
	stamp(&comment.CreatedAt)
	c.s.st.comments[comment.ID] = *comment
	return nil
}

func (c commentStore) Delete(ctx context.Context, id uint) error {
	defer c.s.lock()()
	delete(c.s.st.comments, id)
	return nil
}

func (c commentStore) Reparent(ctx context.Context, parentID uint, newParent *uint) error {
	defer c.s.lock()()
	for id, comment := range c.s.st.comments {
		if comment.ParentID != nil && *comment.ParentID == parentID {
			if newParent == nil {
				comment.ParentID = nil
			} else {
				p := *newParent
				comment.ParentID = &p
			}
			c.s.st.comments[id] = comment
		}
	}
	return nil
}

func (c commentStore) MarkRemoved(ctx context.Context, id uint, content string) error {
	defer c.s.lock()()
	comment, ok := c.s.st.comments[id]
	if !ok {
		return storage.ErrNotFound
	}
	comment.Removed = true
	comment.Content = content
	c.s.st.comments[id] = comment
	return nil
}

type postStore struct{ s *Store }

func (p postStore) Get(ctx context.Context, id uint) (*models.Post, error) {
	defer p.s.lock()()
	post, ok := p.s.st.posts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &post, nil
}

func (p postStore) Create(ctx context.Context, post *models.Post) error {
	defer p.s.lock()()
	post.ID = p.s.st.id()
	stamp(&post.CreatedAt)
	post.UpdatedAt = post.CreatedAt
	if post.Status == "" {
		post.Status = models.PostPublished
	}
	p.s.st.posts[post.ID] = *post
	return nil
}

func (p postStore) Save(ctx context.Context, post *models.Post) error {
	defer p.s.lock()()
	if _, ok := p.s.st.posts[post.ID]; !ok {
		return storage.ErrNotFound
	}
	post.UpdatedAt = time.Now().UTC()
	p.s.st.posts[post.ID] = *post
	return nil
}

func (p postStore) IncrementViews(ctx context.Context, id uint) error {
	defer p.s.lock()()
	post, ok := p.s.st.posts[id]
	if !ok {
		return storage.ErrNotFound
	}
	post.ViewCount++
	p.s.st.posts[id] = post
	return nil
}

func (p postStore) CountByCategory(ctx context.Context, userID uint, category string, from, to time.Time) (int64, error) {
	defer p.s.lock()()
	var n int64
	for _, post := range p.s.st.posts {
		if post.UserID == userID && post.Category == category &&
			!post.CreatedAt.Before(from) && post.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

type userStore struct{ s *Store }

func (u userStore) Get(ctx context.Context, id uint) (*models.User, error) {
	defer u.s.lock()()
	user, ok := u.s.st.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &user, nil
}

func (u userStore) Save(ctx context.Context, user *models.User) error {
	defer u.s.lock()()
	if user.ID == 0 {
		user.ID = u.s.st.id()
		stamp(&user.CreatedAt)
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.Plan == "" {
		user.Plan = models.PlanFree
	}
	user.UpdatedAt = time.Now().UTC()
	u.s.st.users[user.ID] = *user
	return nil
}

func (u userStore) ApplyPatch(ctx context.Context, id uint, changes storage.UserChanges) error {
	defer u.s.lock()()
	user, ok := u.s.st.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	if changes.Role != nil {
		user.Role = *changes.Role
	}
	if changes.Plan != nil {
		user.Plan = *changes.Plan
	}
	if changes.Banned != nil {
		user.Banned = *changes.Banned
	}
	user.UpdatedAt = time.Now().UTC()
	u.s.st.users[id] = user
	return nil
}

func (u userStore) ListIDsAfter(ctx context.Context, afterID uint, limit int) ([]uint, error) {
	defer u.s.lock()()
	var ids []uint
	for id := range u.s.st.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type notificationStore struct{ s *Store }

func (n notificationStore) CreateBatch(ctx context.Context, notifications []*models.Notification) error {
	defer n.s.lock()()
	if n.s.st.notificationErr != nil {
		return n.s.st.notificationErr
	}
	if len(notifications) == 0 {
		return nil
	}
	n.s.st.batches = append(n.s.st.batches, len(notifications))
	for _, notification := range notifications {
		notification.ID = n.s.st.id()
		stamp(&notification.CreatedAt)
		n.s.st.notifications[notification.ID] = *notification
	}
	return nil
}

func (n notificationStore) ListForUser(ctx context.Context, userID uint, limit int) ([]*models.Notification, error) {
	defer n.s.lock()()
	var out []*models.Notification
	for _, notification := range n.s.st.notifications {
		if notification.UserID == userID {
			notification := notification
			out = append(out, &notification)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (n notificationStore) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	defer n.s.lock()()
	var count int64
	for _, notification := range n.s.st.notifications {
		if notification.UserID == userID && !notification.IsRead {
			count++
		}
	}
	return count, nil
}

func (n notificationStore) MarkRead(ctx context.Context, userID uint, ids []uint) (int64, error) {
	defer n.s.lock()()
	var affected int64
	for _, id := range ids {
		notification, ok := n.s.st.notifications[id]
		if !ok || notification.UserID != userID || notification.IsRead {
			continue
		}
		notification.IsRead = true
		n.s.st.notifications[id] = notification
		affected++
	}
	return affected, nil
}

func (n notificationStore) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	defer n.s.lock()()
	var affected int64
	for id, notification := range n.s.st.notifications {
		if notification.UserID == userID && !notification.IsRead {
			notification.IsRead = true
			n.s.st.notifications[id] = notification
			affected++
		}
	}
	return affected, nil
}

type auditStore struct{ s *Store }

func (a auditStore) Create(ctx context.Context, entry *models.AuditEntry) error {
	defer a.s.lock()()
	entry.ID = a.s.st.id()
	stamp(&entry.CreatedAt)
	a.s.st.audit = append(a.s.st.audit, *entry)
	return nil
}

func (a auditStore) List(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	defer a.s.lock()()
	var out []*models.AuditEntry
	for i := len(a.s.st.audit) - 1; i >= 0; i-- {
		entry := a.s.st.audit[i]
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.ActorID != 0 && entry.ActorID != filter.ActorID {
			continue
		}
		out = append(out, &entry)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

type updateStore struct{ s *Store }

func (u updateStore) Create(ctx context.Context, update *models.Update) error {
	defer u.s.lock()()
	update.ID = u.s.st.id()
	stamp(&update.CreatedAt)
	u.s.st.updates[update.ID] = *update
	return nil
}

func (u updateStore) Get(ctx context.Context, id uint) (*models.Update, error) {
	defer u.s.lock()()
	update, ok := u.s.st.updates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &update, nil
}

func (u updateStore) Delete(ctx context.Context, id uint) error {
	defer u.s.lock()()
	if _, ok := u.s.st.updates[id]; !ok {
		return storage.ErrNotFound
	}
	delete(u.s.st.updates, id)
	return nil
}
