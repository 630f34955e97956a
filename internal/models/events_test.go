package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord(t *testing.T) {
	t.Parallel()

	t.Run("insert team", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceTeams,
			Op:       OpInsert,
			Record:   json.RawMessage(`{"id":"t1","version":1,"updated_at":"2026-01-02T03:04:05Z","name":"core","description":"platform team","owner_id":"u1","members":[{"user_id":"u1","role":"admin"},{"user_id":"u2","role":"member"}]}`),
		}
		ent, err := ev.DecodeRecord()
		require.NoError(t, err)

		team, ok := ent.(*Team)
		require.True(t, ok)
		assert.Equal(t, "t1", team.ID)
		assert.Equal(t, int64(1), team.Version)
		assert.Equal(t, "core", team.Name)
		require.Len(t, team.Members, 2)
		assert.Equal(t, TeamRoleAdmin, team.Members[0].Role)
		assert.Equal(t, "u2", team.Members[1].UserID)
		assert.Equal(t, ResourceTeams, team.Resource())
	})

	t.Run("team with unknown role", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceTeams,
			Op:       OpInsert,
			Record:   json.RawMessage(`{"id":"t1","version":1,"updated_at":"2026-01-02T03:04:05Z","name":"core","owner_id":"u1","members":[{"user_id":"u1","role":"superuser"}]}`),
		}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate teams record")
	})

	t.Run("update project", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceProjects,
			Op:       OpUpdate,
			Record: json.RawMessage(`{
				"id":"p1","version":3,"updated_at":"2026-01-02T03:04:05Z",
				"team_id":"t1","name":"roadmap","status":"active",
				"members":[{"user_id":"u1","role":"owner","joined_at":"2026-01-01T00:00:00Z"}],
				"settings":{"notifications":{"mentions":true},"privacy":"private","features":{"threads":true}},
				"links":["https://example.com/board"]
			}`),
		}
		ent, err := ev.DecodeRecord()
		require.NoError(t, err)

		project := ent.(*Project)
		assert.Equal(t, ProjectActive, project.Status)
		require.Len(t, project.Members, 1)
		assert.Equal(t, ProjectRoleOwner, project.Members[0].Role)
		require.NotNil(t, project.Settings)
		assert.Equal(t, "private", project.Settings.Privacy)
		assert.True(t, project.Settings.Features["threads"])
		assert.Equal(t, []string{"https://example.com/board"}, project.Links)
	})

	t.Run("project with unknown status", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceProjects,
			Op:       OpUpdate,
			Record:   json.RawMessage(`{"id":"p1","version":3,"updated_at":"2026-01-02T03:04:05Z","team_id":"t1","name":"roadmap","status":"paused"}`),
		}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate projects record")
	})

	t.Run("project with invalid link", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceProjects,
			Op:       OpUpdate,
			Record:   json.RawMessage(`{"id":"p1","version":3,"updated_at":"2026-01-02T03:04:05Z","team_id":"t1","name":"roadmap","status":"active","links":["not a url"]}`),
		}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate projects record")
	})

	t.Run("delete needs only the base shape", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceTeams,
			Op:       OpDelete,
			Record:   json.RawMessage(`{"id":"t1","version":9,"updated_at":"2026-01-02T03:04:05Z"}`),
		}
		ent, err := ev.DecodeRecord()
		require.NoError(t, err)
		assert.Equal(t, int64(9), ent.Meta().Version)
	})

	t.Run("insert missing required field", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceTeams,
			Op:       OpInsert,
			Record:   json.RawMessage(`{"id":"t1","version":1,"updated_at":"2026-01-02T03:04:05Z"}`),
		}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate teams record")
	})

	t.Run("version below one", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceTeams,
			Op:       OpInsert,
			Record:   json.RawMessage(`{"id":"t1","version":0,"updated_at":"2026-01-02T03:04:05Z","name":"core","owner_id":"u1"}`),
		}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
	})

	t.Run("invalid op", func(t *testing.T) {
		ev := &ChangeEvent{Resource: ResourceTeams, Op: "upsert", Record: json.RawMessage(`{}`)}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid op "upsert"`)
	})

	t.Run("unknown resource", func(t *testing.T) {
		ev := &ChangeEvent{Resource: "widgets", Op: OpInsert, Record: json.RawMessage(`{"id":"w1"}`)}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown resource type "widgets"`)
	})

	t.Run("empty record", func(t *testing.T) {
		ev := &ChangeEvent{Resource: ResourceTeams, Op: OpInsert}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
	})

	t.Run("message with attachments", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceMessages,
			Op:       OpInsert,
			Record: json.RawMessage(`{
				"id":"m1","version":1,"updated_at":"2026-01-02T03:04:05Z",
				"project_id":"p1","thread_id":"m1","sender_id":"u1","sender_name":"Ann",
				"content":"report attached","created_at":"2026-01-02T03:04:05Z",
				"metadata":{"client":"web"},
				"attachments":[{
					"id":"a1","name":"q3.pdf","url":"https://files.example.com/q3.pdf",
					"type":"document","size":20480,"mime_type":"application/pdf",
					"thumbnail_url":"https://files.example.com/q3-thumb.png",
					"created_at":"2026-01-02T03:04:05Z"
				}]
			}`),
		}
		ent, err := ev.DecodeRecord()
		require.NoError(t, err)

		msg := ent.(*Message)
		assert.Equal(t, "Ann", msg.SenderName)
		assert.Equal(t, "web", msg.Metadata["client"])
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, AttachmentDocument, msg.Attachments[0].Type)
		assert.Equal(t, int64(20480), msg.Attachments[0].Size)
	})

	t.Run("attachment with unknown type", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceMessages,
			Op:       OpInsert,
			Record: json.RawMessage(`{
				"id":"m1","version":1,"updated_at":"2026-01-02T03:04:05Z",
				"project_id":"p1","thread_id":"m1","sender_id":"u1","sender_name":"Ann",
				"created_at":"2026-01-02T03:04:05Z",
				"attachments":[{
					"id":"a1","name":"x.bin","url":"https://files.example.com/x.bin",
					"type":"archive","size":1,"mime_type":"application/octet-stream",
					"created_at":"2026-01-02T03:04:05Z"
				}]
			}`),
		}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate messages record")
	})

	t.Run("standalone message roots its own thread", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceMessages,
			Op:       OpInsert,
			Record:   json.RawMessage(`{"id":"m1","version":1,"updated_at":"2026-01-02T03:04:05Z","project_id":"p1","sender_id":"u1","sender_name":"Ann","content":"hi","created_at":"2026-01-02T03:04:05Z"}`),
		}
		ent, err := ev.DecodeRecord()
		require.NoError(t, err)

		msg := ent.(*Message)
		assert.Equal(t, "m1", msg.ThreadID)
		assert.True(t, msg.IsThreadRoot())
	})

	t.Run("reply must name its thread root", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceMessages,
			Op:       OpInsert,
			Record:   json.RawMessage(`{"id":"m2","version":1,"updated_at":"2026-01-02T03:04:05Z","project_id":"p1","reply_to_id":"m1","sender_id":"u1","sender_name":"Ann","content":"re: hi","created_at":"2026-01-02T03:04:05Z"}`),
		}
		_, err := ev.DecodeRecord()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate messages record")
	})

	t.Run("message reactions normalized on decode", func(t *testing.T) {
		ev := &ChangeEvent{
			Resource: ResourceMessages,
			Op:       OpInsert,
			Record: json.RawMessage(`{
				"id":"m1","version":1,"updated_at":"2026-01-02T03:04:05Z",
				"project_id":"p1","thread_id":"m1","sender_id":"u1","sender_name":"Ann",
				"content":"hi","created_at":"2026-01-02T03:04:05Z",
				"reactions":[
					{"emoji":"tada","user_ids":["u2","u1","u2"],"count":99},
					{"emoji":"heart","user_ids":[],"count":5}
				]
			}`),
		}
		ent, err := ev.DecodeRecord()
		require.NoError(t, err)

		msg := ent.(*Message)
		require.Len(t, msg.Reactions, 1)
		assert.Equal(t, "tada", msg.Reactions[0].Emoji)
		assert.Equal(t, []string{"u1", "u2"}, msg.Reactions[0].UserIDs)
		assert.Equal(t, 2, msg.Reactions[0].Count)
	})
}

func TestDecodeSnapshotRecord(t *testing.T) {
	t.Parallel()

	t.Run("full payload required", func(t *testing.T) {
		_, err := DecodeSnapshotRecord(ResourceProjects, json.RawMessage(`{"id":"p1","version":1,"updated_at":"2026-01-02T03:04:05Z"}`))
		require.Error(t, err)

		ent, err := DecodeSnapshotRecord(ResourceProjects, json.RawMessage(`{"id":"p1","version":1,"updated_at":"2026-01-02T03:04:05Z","team_id":"t1","name":"roadmap","status":"active"}`))
		require.NoError(t, err)
		assert.Equal(t, "p1", ent.Meta().ID)
	})
}

func TestMutationDecodeRecord(t *testing.T) {
	t.Parallel()

	t.Run("valid update", func(t *testing.T) {
		mut := &Mutation{
			Resource: ResourceProjects,
			Op:       OpUpdate,
			Record:   json.RawMessage(`{"id":"p1","version":4,"updated_at":"2026-01-02T03:04:05Z","team_id":"t1","name":"renamed","status":"archived"}`),
		}
		ent, err := mut.DecodeRecord()
		require.NoError(t, err)
		assert.Equal(t, "renamed", ent.(*Project).Name)
		assert.Equal(t, ProjectArchived, ent.(*Project).Status)
	})

	t.Run("invalid op", func(t *testing.T) {
		mut := &Mutation{Resource: ResourceProjects, Op: "merge", Record: json.RawMessage(`{}`)}
		_, err := mut.DecodeRecord()
		require.Error(t, err)
	})
}

func TestParseResourceType(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"teams", "projects", "messages"} {
		rt, err := ParseResourceType(name)
		require.NoError(t, err)
		assert.Equal(t, name, string(rt))
	}

	_, err := ParseResourceType("rooms")
	require.Error(t, err)
}

func TestEntityClone(t *testing.T) {
	t.Parallel()

	t.Run("team members detached", func(t *testing.T) {
		orig := &Team{
			EntityMeta: EntityMeta{ID: "t1", Version: 1, UpdatedAt: time.Now()},
			Name:       "core",
			OwnerID:    "u1",
			Members:    []TeamMember{{UserID: "u1", Role: TeamRoleAdmin}},
		}
		clone := orig.Clone().(*Team)
		clone.Members[0].UserID = "changed"
		assert.Equal(t, "u1", orig.Members[0].UserID)
	})

	t.Run("project members and settings detached", func(t *testing.T) {
		orig := &Project{
			EntityMeta: EntityMeta{ID: "p1", Version: 1, UpdatedAt: time.Now()},
			TeamID:     "t1",
			Name:       "roadmap",
			Status:     ProjectActive,
			Members:    []ProjectMember{{UserID: "u1", Role: ProjectRoleOwner}},
			Settings:   &ProjectSettings{Privacy: "public", Features: map[string]bool{"threads": true}},
			Links:      []string{"https://example.com"},
		}
		clone := orig.Clone().(*Project)
		clone.Members[0].Role = ProjectRoleViewer
		clone.Settings.Features["threads"] = false
		clone.Links[0] = "https://elsewhere.example.com"

		assert.Equal(t, ProjectRoleOwner, orig.Members[0].Role)
		assert.True(t, orig.Settings.Features["threads"])
		assert.Equal(t, "https://example.com", orig.Links[0])
	})
}
