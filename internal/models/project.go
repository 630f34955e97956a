package models

import (
	"maps"
	"time"
)

// ProjectStatus is the project lifecycle state. A "deleted" status is an
// entity field set by the authoritative side; removal from the store still
// happens only through delete events and tombstones.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
	ProjectDeleted  ProjectStatus = "deleted"
)

// ProjectRole is a member's role within a project.
type ProjectRole string

const (
	ProjectRoleOwner  ProjectRole = "owner"
	ProjectRoleAdmin  ProjectRole = "admin"
	ProjectRoleMember ProjectRole = "member"
	ProjectRoleViewer ProjectRole = "viewer"
)

type ProjectMember struct {
	UserID   string      `bson:"user_id" json:"user_id" validate:"required"`
	Role     ProjectRole `bson:"role" json:"role" validate:"required,oneof=owner admin member viewer"`
	JoinedAt time.Time   `bson:"joined_at" json:"joined_at"`
}

type ProjectSettings struct {
	Notifications map[string]bool `bson:"notifications,omitempty" json:"notifications,omitempty"`
	Privacy       string          `bson:"privacy,omitempty" json:"privacy,omitempty" validate:"omitempty,oneof=public private restricted"`
	Features      map[string]bool `bson:"features,omitempty" json:"features,omitempty"`
}

// Project is a team-scoped workspace project.
type Project struct {
	EntityMeta  `bson:",inline"`
	TeamID      string           `bson:"team_id" json:"team_id" validate:"required"`
	Name        string           `bson:"name" json:"name" validate:"required"`
	Description string           `bson:"description,omitempty" json:"description,omitempty"`
	Status      ProjectStatus    `bson:"status" json:"status" validate:"required,oneof=active archived deleted"`
	Members     []ProjectMember  `bson:"members,omitempty" json:"members,omitempty" validate:"omitempty,dive"`
	Settings    *ProjectSettings `bson:"settings,omitempty" json:"settings,omitempty"`
	Links       []string         `bson:"links,omitempty" json:"links,omitempty" validate:"omitempty,urls"`
}

func (Project) Resource() ResourceType { return ResourceProjects }

func (p Project) Meta() EntityMeta { return p.EntityMeta }

func (Project) CollectionName() string { return "projects" }

func (p Project) Clone() Entity {
	if p.Members != nil {
		p.Members = append([]ProjectMember(nil), p.Members...)
	}
	if p.Settings != nil {
		settings := *p.Settings
		settings.Notifications = maps.Clone(settings.Notifications)
		settings.Features = maps.Clone(settings.Features)
		p.Settings = &settings
	}
	if p.Links != nil {
		p.Links = append([]string(nil), p.Links...)
	}
	return &p
}
