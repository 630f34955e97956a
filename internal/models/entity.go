package models

import (
	"fmt"
	"time"
)

// ResourceType identifies one synchronized entity collection.
type ResourceType string

const (
	ResourceTeams    ResourceType = "teams"
	ResourceProjects ResourceType = "projects"
	ResourceMessages ResourceType = "messages"
)

// ParseResourceType validates a wire/config resource name.
func ParseResourceType(s string) (ResourceType, error) {
	switch rt := ResourceType(s); rt {
	case ResourceTeams, ResourceProjects, ResourceMessages:
		return rt, nil
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// EntityMeta is the base shape every synchronized entity carries.
// Version is server-assigned and increases monotonically per entity.
type EntityMeta struct {
	ID        string    `bson:"_id" json:"id" validate:"required"`
	Version   int64     `bson:"version" json:"version" validate:"gte=1"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at" validate:"required"`
}

// Entity is implemented by all synchronized entity types.
type Entity interface {
	Resource() ResourceType
	Meta() EntityMeta
	CollectionName() string
	// Clone returns a deep copy; readers never share mutable state
	// with the store.
	Clone() Entity
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}
