package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func projectJSON(id string, version int64, at time.Time, name string) json.RawMessage {
	rec, _ := json.Marshal(models.Project{
		EntityMeta: models.EntityMeta{ID: id, Version: version, UpdatedAt: at},
		TeamID:     "t1",
		Name:       name,
		Status:     models.ProjectActive,
	})
	return rec
}

func projectEvent(op models.Op, corrID, id string, version int64, at time.Time, name string) *models.ChangeEvent {
	return &models.ChangeEvent{
		EventID:       "ev-" + id,
		Resource:      models.ResourceProjects,
		Op:            op,
		CorrelationID: corrID,
		Record:        projectJSON(id, version, at, name),
	}
}

func projectMutation(corrID string, op models.Op, id string, version int64, name string) *models.Mutation {
	return &models.Mutation{
		CorrelationID: corrID,
		Resource:      models.ResourceProjects,
		Op:            op,
		Record:        projectJSON(id, version, base.Add(time.Minute), name),
	}
}

func newTestEngine(t *testing.T, st store.Store, timeout time.Duration) Engine {
	t.Helper()
	conf := &config.Config{Reconcile: config.ReconcileConfig{Timeout: timeout, NotifyBuffer: 16}}
	e, err := NewEngine(conf, st)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func seedProject(t *testing.T, st store.Store, id string, version int64, name string) {
	t.Helper()
	_, err := st.Apply(t.Context(), projectEvent(models.OpInsert, "", id, version, base, name))
	require.NoError(t, err)
}

func nextNotification(t *testing.T, e Engine) Notification {
	t.Helper()
	select {
	case n, ok := <-e.Notifications():
		require.True(t, ok, "notifications channel closed early")
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func expectNoNotification(t *testing.T, e Engine) {
	t.Helper()
	select {
	case n := <-e.Notifications():
		t.Fatalf("unexpected notification: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubmitAndConfirm(t *testing.T) {
	t.Parallel()

	st := store.New()
	seedProject(t, st, "p1", 1, "before")
	e := newTestEngine(t, st, 5*time.Second)

	corrID, err := e.Submit(t.Context(), projectMutation("c1", models.OpUpdate, "p1", 2, "optimistic"))
	require.NoError(t, err)
	assert.Equal(t, "c1", corrID)
	assert.Equal(t, 1, e.PendingCount())

	got, _ := st.Get(models.ResourceProjects, "p1")
	assert.Equal(t, "optimistic", got.(*models.Project).Name)

	res, err := e.Observe(t.Context(), projectEvent(models.OpUpdate, "c1", "p1", 2, base.Add(time.Minute), "confirmed"))
	require.NoError(t, err)
	assert.Equal(t, store.Applied, res)

	n := nextNotification(t, e)
	assert.Equal(t, KindConfirmed, n.Kind)
	assert.Equal(t, "c1", n.CorrelationID)
	assert.Equal(t, "p1", n.EntityID)
	require.NotNil(t, n.Authoritative)
	assert.Equal(t, "confirmed", n.Authoritative.(*models.Project).Name)

	assert.Equal(t, 0, e.PendingCount())
	got, _ = st.Get(models.ResourceProjects, "p1")
	assert.Equal(t, "confirmed", got.(*models.Project).Name)
}

func TestSubmitAssignsCorrelationID(t *testing.T) {
	t.Parallel()

	st := store.New()
	seedProject(t, st, "p1", 1, "before")
	e := newTestEngine(t, st, 5*time.Second)

	corrID, err := e.Submit(t.Context(), projectMutation("", models.OpUpdate, "p1", 2, "optimistic"))
	require.NoError(t, err)
	assert.NotEmpty(t, corrID)
}

func TestSubmitRejectsDuplicates(t *testing.T) {
	t.Parallel()

	st := store.New()
	seedProject(t, st, "p1", 1, "a")
	seedProject(t, st, "p2", 1, "b")
	e := newTestEngine(t, st, 5*time.Second)

	_, err := e.Submit(t.Context(), projectMutation("c1", models.OpUpdate, "p1", 2, "x"))
	require.NoError(t, err)

	t.Run("same correlation id", func(t *testing.T) {
		_, err := e.Submit(t.Context(), projectMutation("c1", models.OpUpdate, "p2", 2, "y"))
		assert.ErrorIs(t, err, models.ErrAlreadyPending)
	})

	t.Run("same entity", func(t *testing.T) {
		_, err := e.Submit(t.Context(), projectMutation("c2", models.OpUpdate, "p1", 3, "z"))
		assert.ErrorIs(t, err, models.ErrAlreadyPending)
	})

	t.Run("other entity is fine", func(t *testing.T) {
		_, err := e.Submit(t.Context(), projectMutation("c3", models.OpUpdate, "p2", 2, "y"))
		assert.NoError(t, err)
	})
}

func TestSubmitTimeoutRollsBack(t *testing.T) {
	t.Parallel()

	st := store.New()
	seedProject(t, st, "p1", 1, "confirmed")
	e := newTestEngine(t, st, 40*time.Millisecond)

	_, err := e.Submit(t.Context(), projectMutation("c1", models.OpUpdate, "p1", 2, "optimistic"))
	require.NoError(t, err)

	n := nextNotification(t, e)
	assert.Equal(t, KindTimeout, n.Kind)
	assert.Equal(t, "c1", n.CorrelationID)
	assert.Nil(t, n.Authoritative)

	assert.Equal(t, 0, e.PendingCount())
	got, _ := st.Get(models.ResourceProjects, "p1")
	assert.Equal(t, "confirmed", got.(*models.Project).Name)
}

func TestDeleteTimeoutRestoresVisibility(t *testing.T) {
	t.Parallel()

	st := store.New()
	seedProject(t, st, "p1", 1, "confirmed")
	e := newTestEngine(t, st, 40*time.Millisecond)

	_, err := e.Submit(t.Context(), &models.Mutation{
		CorrelationID: "c1",
		Resource:      models.ResourceProjects,
		Op:            models.OpDelete,
		Record:        projectJSON("p1", 2, base.Add(time.Minute), ""),
	})
	require.NoError(t, err)

	_, visible := st.Get(models.ResourceProjects, "p1")
	assert.False(t, visible)

	n := nextNotification(t, e)
	assert.Equal(t, KindTimeout, n.Kind)

	got, visible := st.Get(models.ResourceProjects, "p1")
	require.True(t, visible)
	assert.Equal(t, "confirmed", got.(*models.Project).Name)
}

func TestConfirmDelete(t *testing.T) {
	t.Parallel()

	st := store.New()
	seedProject(t, st, "p1", 1, "confirmed")
	e := newTestEngine(t, st, 5*time.Second)

	_, err := e.Submit(t.Context(), &models.Mutation{
		CorrelationID: "c1",
		Resource:      models.ResourceProjects,
		Op:            models.OpDelete,
		Record:        projectJSON("p1", 2, base.Add(time.Minute), ""),
	})
	require.NoError(t, err)

	res, err := e.Observe(t.Context(), projectEvent(models.OpDelete, "c1", "p1", 2, base.Add(time.Minute), ""))
	require.NoError(t, err)
	assert.Equal(t, store.Applied, res)

	n := nextNotification(t, e)
	assert.Equal(t, KindConfirmed, n.Kind)

	_, visible := st.Get(models.ResourceProjects, "p1")
	assert.False(t, visible)
}

func TestUpdateKeepsStoredAttachments(t *testing.T) {
	t.Parallel()

	st := store.New()
	e := newTestEngine(t, st, 5*time.Second)

	att := models.Attachment{
		ID:        "a1",
		Name:      "report.pdf",
		URL:       "https://files.example.com/report.pdf",
		Type:      models.AttachmentDocument,
		Size:      20480,
		MimeType:  "application/pdf",
		CreatedAt: base,
	}
	insert, _ := json.Marshal(models.Message{
		EntityMeta:  models.EntityMeta{ID: "m1", Version: 1, UpdatedAt: base},
		ProjectID:   "p1",
		SenderID:    "u1",
		SenderName:  "Ann",
		Content:     "with attachment",
		CreatedAt:   base,
		Attachments: []models.Attachment{att},
	})
	_, err := st.Apply(t.Context(), &models.ChangeEvent{
		EventID:  "ev-m1",
		Resource: models.ResourceMessages,
		Op:       models.OpInsert,
		Record:   insert,
	})
	require.NoError(t, err)

	// The submitted update claims its own attachment list; the projection
	// keeps the one the entity already has.
	update, _ := json.Marshal(models.Message{
		EntityMeta: models.EntityMeta{ID: "m1", Version: 2, UpdatedAt: base.Add(time.Minute)},
		ProjectID:  "p1",
		SenderID:   "u1",
		SenderName: "Ann",
		Content:    "edited",
		CreatedAt:  base,
		Attachments: []models.Attachment{{
			ID:        "a2",
			Name:      "other.png",
			URL:       "https://files.example.com/other.png",
			Type:      models.AttachmentImage,
			MimeType:  "image/png",
			CreatedAt: base,
		}},
	})
	_, err = e.Submit(t.Context(), &models.Mutation{
		CorrelationID: "c1",
		Resource:      models.ResourceMessages,
		Op:            models.OpUpdate,
		Record:        update,
	})
	require.NoError(t, err)

	got, ok := st.Get(models.ResourceMessages, "m1")
	require.True(t, ok)
	msg := got.(*models.Message)
	assert.Equal(t, "edited", msg.Content)
	assert.Equal(t, []models.Attachment{att}, msg.Attachments)
}

func TestConflictWithForeignWrite(t *testing.T) {
	t.Parallel()

	st := store.New()
	seedProject(t, st, "p1", 1, "confirmed")
	e := newTestEngine(t, st, 5*time.Second)

	_, err := e.Submit(t.Context(), projectMutation("c1", models.OpUpdate, "p1", 2, "mine"))
	require.NoError(t, err)

	// Another writer won the entity: its echo carries no known correlation.
	res, err := e.Observe(t.Context(), projectEvent(models.OpUpdate, "", "p1", 3, base.Add(2*time.Minute), "theirs"))
	require.NoError(t, err)
	assert.Equal(t, store.Applied, res)

	n := nextNotification(t, e)
	assert.Equal(t, KindConflict, n.Kind)
	assert.Equal(t, "c1", n.CorrelationID)
	require.NotNil(t, n.Local)
	require.NotNil(t, n.Authoritative)
	assert.Equal(t, "mine", n.Local.(*models.Project).Name)
	assert.Equal(t, "theirs", n.Authoritative.(*models.Project).Name)

	// Server state stands; nothing waits for the timeout anymore.
	assert.Equal(t, 0, e.PendingCount())
	got, _ := st.Get(models.ResourceProjects, "p1")
	assert.Equal(t, "theirs", got.(*models.Project).Name)
	expectNoNotification(t, e)
}

func TestStaleForeignWriteLeavesPending(t *testing.T) {
	t.Parallel()

	st := store.New()
	seedProject(t, st, "p1", 5, "confirmed")
	e := newTestEngine(t, st, 5*time.Second)

	_, err := e.Submit(t.Context(), projectMutation("c1", models.OpUpdate, "p1", 6, "mine"))
	require.NoError(t, err)

	res, err := e.Observe(t.Context(), projectEvent(models.OpUpdate, "", "p1", 2, base, "old"))
	require.NoError(t, err)
	assert.Equal(t, store.Stale, res)

	assert.Equal(t, 1, e.PendingCount())
	expectNoNotification(t, e)
}

func TestObserveUnrelatedEvent(t *testing.T) {
	t.Parallel()

	st := store.New()
	e := newTestEngine(t, st, 5*time.Second)

	res, err := e.Observe(t.Context(), projectEvent(models.OpInsert, "", "p9", 1, base, "new"))
	require.NoError(t, err)
	assert.Equal(t, store.Applied, res)
	expectNoNotification(t, e)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	st := store.New()
	e := newTestEngine(t, st, 5*time.Second)

	t.Run("malformed record", func(t *testing.T) {
		_, err := e.Submit(t.Context(), &models.Mutation{
			Resource: models.ResourceProjects,
			Op:       models.OpUpdate,
			Record:   json.RawMessage(`{"id":`),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode mutation")
	})

	t.Run("delete of missing entity", func(t *testing.T) {
		_, err := e.Submit(t.Context(), &models.Mutation{
			Resource: models.ResourceProjects,
			Op:       models.OpDelete,
			Record:   projectJSON("ghost", 1, base, ""),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestEngineClose(t *testing.T) {
	t.Parallel()

	st := store.New()
	seedProject(t, st, "p1", 1, "a")
	conf := &config.Config{Reconcile: config.ReconcileConfig{Timeout: 5 * time.Second, NotifyBuffer: 4}}
	e, err := NewEngine(conf, st)
	require.NoError(t, err)

	_, err = e.Submit(t.Context(), projectMutation("c1", models.OpUpdate, "p1", 2, "x"))
	require.NoError(t, err)

	e.Close()
	e.Close()

	_, err = e.Submit(t.Context(), projectMutation("c2", models.OpUpdate, "p1", 3, "y"))
	require.Error(t, err)

	_, open := <-e.Notifications()
	assert.False(t, open)
}
