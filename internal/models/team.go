package models

// TeamRole is a member's role within a team.
type TeamRole string

const (
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
)

type TeamMember struct {
	UserID string   `bson:"user_id" json:"user_id" validate:"required"`
	Role   TeamRole `bson:"role" json:"role" validate:"required,oneof=admin member"`
}

// Team is a workspace team. Members keep their wire order.
type Team struct {
	EntityMeta  `bson:",inline"`
	Name        string       `bson:"name" json:"name" validate:"required"`
	Description string       `bson:"description,omitempty" json:"description,omitempty"`
	OwnerID     string       `bson:"owner_id" json:"owner_id" validate:"required"`
	Members     []TeamMember `bson:"members,omitempty" json:"members,omitempty" validate:"omitempty,dive"`
}

func (Team) Resource() ResourceType { return ResourceTeams }

func (t Team) Meta() EntityMeta { return t.EntityMeta }

func (Team) CollectionName() string { return "teams" }

func (t Team) Clone() Entity {
	if t.Members != nil {
		t.Members = append([]TeamMember(nil), t.Members...)
	}
	return &t
}
