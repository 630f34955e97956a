package models

import (
	"maps"
	"sort"
	"time"
)

// Message is a threaded project message. ThreadID names the thread root;
// a message whose ThreadID equals its own ID is the root of its thread.
// A standalone message with neither reply_to_id nor thread_id is
// normalized to root its own thread at decode time.
type Message struct {
	EntityMeta   `bson:",inline"`
	ProjectID    string         `bson:"project_id" json:"project_id" validate:"required"`
	ThreadID     string         `bson:"thread_id,omitempty" json:"thread_id,omitempty" validate:"required_with=ReplyToID"`
	ReplyToID    string         `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"`
	SenderID     string         `bson:"sender_id" json:"sender_id" validate:"required"`
	SenderName   string         `bson:"sender_name" json:"sender_name" validate:"required"`
	SenderAvatar string         `bson:"sender_avatar,omitempty" json:"sender_avatar,omitempty"`
	Content      string         `bson:"content" json:"content"`
	CreatedAt    time.Time      `bson:"created_at" json:"created_at" validate:"required"`
	EditedAt     *time.Time     `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	Pinned       bool           `bson:"pinned" json:"pinned"`
	Metadata     map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Attachments  []Attachment   `bson:"attachments,omitempty" json:"attachments,omitempty" validate:"omitempty,dive"`
	Reactions    []Reaction     `bson:"reactions,omitempty" json:"reactions,omitempty"`
}

// AttachmentType classifies an attachment for rendering purposes.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentDocument AttachmentType = "document"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentOther    AttachmentType = "other"
)

// Attachment is immutable once its message is created; updates never touch it.
type Attachment struct {
	ID           string         `bson:"id" json:"id" validate:"required"`
	Name         string         `bson:"name" json:"name" validate:"required"`
	URL          string         `bson:"url" json:"url" validate:"required,url"`
	Type         AttachmentType `bson:"type" json:"type" validate:"required,oneof=image video document audio other"`
	Size         int64          `bson:"size" json:"size" validate:"gte=0"`
	MimeType     string         `bson:"mime_type" json:"mime_type" validate:"required"`
	ThumbnailURL string         `bson:"thumbnail_url,omitempty" json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time      `bson:"created_at" json:"created_at" validate:"required"`
}

// Reaction aggregates one emoji over the users who reacted with it.
// Count always equals len(UserIDs); empty reactions are pruned.
type Reaction struct {
	Emoji   string   `bson:"emoji" json:"emoji" validate:"required"`
	UserIDs []string `bson:"user_ids" json:"user_ids"`
	Count   int      `bson:"count" json:"count"`
}

func (Message) Resource() ResourceType { return ResourceMessages }

func (m Message) Meta() EntityMeta { return m.EntityMeta }

func (Message) CollectionName() string { return "messages" }

// Clone detaches every container. Metadata values are opaque and treated
// as immutable, so the clone shares them.
func (m Message) Clone() Entity {
	if m.EditedAt != nil {
		at := *m.EditedAt
		m.EditedAt = &at
	}
	m.Metadata = maps.Clone(m.Metadata)
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		reactions := make([]Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			r.UserIDs = cloneStrings(r.UserIDs)
			reactions[i] = r
		}
		m.Reactions = reactions
	}
	return &m
}

// IsThreadRoot reports whether the message roots its own thread.
func (m *Message) IsThreadRoot() bool {
	return m.ThreadID == m.ID
}

// IsEdited reports whether the content has been edited since creation.
func (m *Message) IsEdited() bool {
	return m.EditedAt != nil
}

// NormalizeReactions restores the reaction invariants in place: user ids
// deduplicated and sorted, count recomputed as the set cardinality, empty
// reactions pruned, reactions ordered by emoji.
func (m *Message) NormalizeReactions() {
	out := m.Reactions[:0]
	for _, r := range m.Reactions {
		r.UserIDs = dedupSorted(r.UserIDs)
		r.Count = len(r.UserIDs)
		if r.Count == 0 {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Emoji < out[j].Emoji })
	if len(out) == 0 {
		m.Reactions = nil
		return
	}
	m.Reactions = out
}

// AddReaction records userID under emoji and renormalizes.
func (m *Message) AddReaction(emoji, userID string) {
	for i := range m.Reactions {
		if m.Reactions[i].Emoji == emoji {
			m.Reactions[i].UserIDs = append(m.Reactions[i].UserIDs, userID)
			m.NormalizeReactions()
			return
		}
	}
	m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, UserIDs: []string{userID}})
	m.NormalizeReactions()
}

// RemoveReaction withdraws userID from emoji and renormalizes.
func (m *Message) RemoveReaction(emoji, userID string) {
	for i := range m.Reactions {
		if m.Reactions[i].Emoji != emoji {
			continue
		}
		ids := m.Reactions[i].UserIDs[:0]
		for _, id := range m.Reactions[i].UserIDs {
			if id != userID {
				ids = append(ids, id)
			}
		}
		m.Reactions[i].UserIDs = ids
		break
	}
	m.NormalizeReactions()
}

func dedupSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
