package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"infracheck/api/internal/util"
)

const commentsKeyPrefix = "projects:comments:"

// ErrCommentNotFound is returned when an edit, reply, or delete names a
// comment id that does not exist in the entity's thread.
var ErrCommentNotFound = errors.New("comment not found")

// Comment is one record in an entity's thread. ParentID nil means top-level.
type Comment struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entityId"`
	ParentID   *string    `json:"parentId"`
	Text       string     `json:"text"`
	AuthorID   string     `json:"authorId,omitempty"`
	AuthorName string     `json:"authorName"`
	CreatedAt  time.Time  `json:"createdAt"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`
}

// CommentThread stores one comment list per entity, newest first. Replies
// reference a parent that must exist in the same entity's thread, and
// deleting a comment removes its whole reply subtree.
type CommentThread struct {
	mu     sync.Mutex
	store  *Store
	bus    *Bus
	prefix string
}

func NewCommentThread(store *Store, bus *Bus) *CommentThread {
	return &CommentThread{store: store, bus: bus, prefix: commentsKeyPrefix}
}

// Add prepends a top-level comment to the entity's thread. Text validation is
// the caller's job.
func (t *CommentThread) Add(ctx context.Context, entityID, text, authorName, authorID string) Comment {
	t.mu.Lock()
	defer t.mu.Unlock()

	comment := Comment{
		ID:         util.NewID("cmt"),
		EntityID:   entityID,
		Text:       text,
		AuthorID:   authorID,
		AuthorName: authorName,
		CreatedAt:  time.Now().UTC(),
	}
	list := t.load(ctx, entityID)
	list = append([]Comment{comment}, list...)
	t.save(ctx, entityID, list)
	return comment
}

// Reply prepends a reply under parentID. The parent must exist in the same
// entity's thread.
func (t *CommentThread) Reply(ctx context.Context, entityID, parentID, text, authorName, authorID string) (Comment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.load(ctx, entityID)
	if findComment(list, parentID) < 0 {
		return Comment{}, ErrCommentNotFound
	}
	parent := parentID
	comment := Comment{
		ID:         util.NewID("cmt"),
		EntityID:   entityID,
		ParentID:   &parent,
		Text:       text,
		AuthorID:   authorID,
		AuthorName: authorName,
		CreatedAt:  time.Now().UTC(),
	}
	list = append([]Comment{comment}, list...)
	t.save(ctx, entityID, list)
	return comment, nil
}

// Edit replaces the comment's text and stamps editedAt. ID, createdAt, and
// parentId are preserved.
func (t *CommentThread) Edit(ctx context.Context, entityID, commentID, newText string) (Comment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.load(ctx, entityID)
	idx := findComment(list, commentID)
	if idx < 0 {
		return Comment{}, ErrCommentNotFound
	}
	now := time.Now().UTC()
	list[idx].Text = newText
	list[idx].EditedAt = &now
	t.save(ctx, entityID, list)
	return list[idx], nil
}

// Delete removes the comment and every descendant reply.
func (t *CommentThread) Delete(ctx context.Context, entityID, commentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.load(ctx, entityID)
	if findComment(list, commentID) < 0 {
		return ErrCommentNotFound
	}

	doomed := map[string]bool{commentID: true}
	for grew := true; grew; {
		grew = false
		for _, c := range list {
			if c.ParentID != nil && doomed[*c.ParentID] && !doomed[c.ID] {
				doomed[c.ID] = true
				grew = true
			}
		}
	}

	kept := list[:0]
	for _, c := range list {
		if !doomed[c.ID] {
			kept = append(kept, c)
		}
	}
	t.save(ctx, entityID, kept)
	return nil
}

// List returns the entity's thread in storage order: top-level comments
// newest first, replies interleaved where they were prepended. Callers group
// replies by parentId.
func (t *CommentThread) List(ctx context.Context, entityID string) []Comment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx, entityID)
}

func (t *CommentThread) load(ctx context.Context, entityID string) []Comment {
	var list []Comment
	t.store.Load(ctx, t.prefix+entityID, &list)
	return list
}

func (t *CommentThread) save(ctx context.Context, entityID string, list []Comment) {
	if list == nil {
		list = []Comment{}
	}
	t.store.Save(ctx, t.prefix+entityID, list)
	if t.bus != nil {
		t.bus.Publish(EventCommentsUpdated, CommentChange{EntityID: entityID})
	}
}

func findComment(list []Comment, id string) int {
	for i, c := range list {
		if c.ID == id {
			return i
		}
	}
	return -1
}
