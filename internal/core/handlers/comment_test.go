package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/authz"
)

type fakeCommentStore struct {
	comments  map[string]*Comment
	projectOf string
	created   []*Comment
	updated   []*Comment
	deleted   []string
}

func newFakeCommentStore() *fakeCommentStore {
	return &fakeCommentStore{comments: map[string]*Comment{}, projectOf: "11111111-1111-1111-1111-111111111111"}
}

func (s *fakeCommentStore) GetByID(ctx context.Context, id string) (*Comment, error) {
	c, ok := s.comments[id]
	if !ok {
		return nil, assertErr{}
	}
	return c, nil
}
func (s *fakeCommentStore) WorkItemProjectID(ctx context.Context, workItemID string) (string, error) {
	return s.projectOf, nil
}
func (s *fakeCommentStore) Create(ctx context.Context, c *Comment, log ActivityLog) error {
	s.comments[c.ID] = c
	s.created = append(s.created, c)
	return nil
}
func (s *fakeCommentStore) Update(ctx context.Context, c *Comment, log ActivityLog) error {
	s.comments[c.ID] = c
	s.updated = append(s.updated, c)
	return nil
}
func (s *fakeCommentStore) SoftDelete(ctx context.Context, id string, log ActivityLog) error {
	delete(s.comments, id)
	s.deleted = append(s.deleted, id)
	return nil
}
func (s *fakeCommentStore) List(ctx context.Context, workItemID string) ([]Comment, error) {
	var out []Comment
	for _, c := range s.comments {
		if c.WorkItemID == workItemID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func TestCommentCreateHappyPath(t *testing.T) {
	store := newFakeCommentStore()
	h := &CommentHandler{Store: store}
	rc := newTestRC(authz.RoleView)

	env, err := h.Create(context.Background(), rc, CreateCommentRequest{
		WorkItemID: "22222222-2222-2222-2222-222222222222",
		Content:    "looks good",
	})

	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, store.created, 1)
	assert.Equal(t, "user-1", store.created[0].CreatedBy)
}

func TestCommentCreateRequiresView(t *testing.T) {
	store := newFakeCommentStore()
	h := &CommentHandler{Store: store}
	rc := newTestRC(authz.RoleNone)

	_, err := h.Create(context.Background(), rc, CreateCommentRequest{
		WorkItemID: "22222222-2222-2222-2222-222222222222",
		Content:    "looks good",
	})

	require.Error(t, err)
	assert.Empty(t, store.created)
}

func TestCommentCreateIsIdempotent(t *testing.T) {
	store := newFakeCommentStore()
	h := &CommentHandler{Store: store}
	rc := newTestRC(authz.RoleView)

	req := CreateCommentRequest{WorkItemID: "22222222-2222-2222-2222-222222222222", Content: "hello"}

	_, err := h.Create(context.Background(), rc, req)
	require.NoError(t, err)
	require.Len(t, store.created, 1)

	_, err = h.Create(context.Background(), rc, req)
	require.NoError(t, err)
	assert.Len(t, store.created, 1, "second dispatch of the same message_id must not create twice")
}

func TestCommentUpdateRejectsNonAuthor(t *testing.T) {
	store := newFakeCommentStore()
	store.comments["33333333-3333-3333-3333-333333333333"] = &Comment{
		ID:         "33333333-3333-3333-3333-333333333333",
		WorkItemID: "22222222-2222-2222-2222-222222222222",
		Content:    "original",
		CreatedBy:  "someone-else",
	}
	h := &CommentHandler{Store: store}
	rc := newTestRC(authz.RoleAdmin)

	_, err := h.Update(context.Background(), rc, UpdateCommentRequest{
		CommentID: "33333333-3333-3333-3333-333333333333",
		Content:   "edited",
	})

	require.Error(t, err)
	assert.Empty(t, store.updated)
}

func TestCommentUpdateAllowsAuthor(t *testing.T) {
	store := newFakeCommentStore()
	store.comments["33333333-3333-3333-3333-333333333333"] = &Comment{
		ID:         "33333333-3333-3333-3333-333333333333",
		WorkItemID: "22222222-2222-2222-2222-222222222222",
		Content:    "original",
		CreatedBy:  "user-1",
	}
	h := &CommentHandler{Store: store}
	rc := newTestRC(authz.RoleView)

	env, err := h.Update(context.Background(), rc, UpdateCommentRequest{
		CommentID: "33333333-3333-3333-3333-333333333333",
		Content:   "edited",
	})

	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, store.updated, 1)
	assert.Equal(t, "edited", store.updated[0].Content)
}

func TestCommentDeleteRejectsNonAuthor(t *testing.T) {
	store := newFakeCommentStore()
	store.comments["33333333-3333-3333-3333-333333333333"] = &Comment{
		ID:         "33333333-3333-3333-3333-333333333333",
		WorkItemID: "22222222-2222-2222-2222-222222222222",
		CreatedBy:  "someone-else",
	}
	h := &CommentHandler{Store: store}
	rc := newTestRC(authz.RoleAdmin)

	_, err := h.Delete(context.Background(), rc, DeleteCommentRequest{CommentID: "33333333-3333-3333-3333-333333333333"})

	require.Error(t, err)
	assert.Empty(t, store.deleted)
}

func TestCommentDeleteAllowsAuthor(t *testing.T) {
	store := newFakeCommentStore()
	store.comments["33333333-3333-3333-3333-333333333333"] = &Comment{
		ID:         "33333333-3333-3333-3333-333333333333",
		WorkItemID: "22222222-2222-2222-2222-222222222222",
		CreatedBy:  "user-1",
	}
	h := &CommentHandler{Store: store}
	rc := newTestRC(authz.RoleView)

	_, err := h.Delete(context.Background(), rc, DeleteCommentRequest{CommentID: "33333333-3333-3333-3333-333333333333"})

	require.NoError(t, err)
	assert.Len(t, store.deleted, 1)
}

func TestCommentGetRequiresView(t *testing.T) {
	store := newFakeCommentStore()
	h := &CommentHandler{Store: store}
	rc := newTestRC(authz.RoleNone)

	_, err := h.Get(context.Background(), rc, GetCommentsRequest{WorkItemID: "22222222-2222-2222-2222-222222222222"})

	require.Error(t, err)
}
