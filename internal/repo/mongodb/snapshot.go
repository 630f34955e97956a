package mongodb

import (
	"context"
	"fmt"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/internal/repo/snapshot"
	"github.com/nguyentranbao-ct/chat-sync/internal/stream"
	"go.mongodb.org/mongo-driver/bson"
)

type snapshotSource struct {
	teams    TeamsRepo
	projects ProjectsRepo
	messages MessagesRepo
}

// NewSnapshotSource reads authoritative state straight from the database.
// Tombstone rows written by the mirror are excluded.
func NewSnapshotSource(teams TeamsRepo, projects ProjectsRepo, messages MessagesRepo) snapshot.Source {
	return &snapshotSource{
		teams:    teams,
		projects: projects,
		messages: messages,
	}
}

func (s *snapshotSource) Fetch(ctx context.Context, resource models.ResourceType, filter stream.Filter) (*snapshot.Result, error) {
	query := bson.M{"deleted": bson.M{"$ne": true}}
	if !filter.IsZero() {
		// bson field names match the wire names used in channel filters
		query[filter.Field] = filter.Value
	}

	result := &snapshot.Result{}
	switch resource {
	case models.ResourceTeams:
		teams, err := s.teams.Find(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("find teams: %w", err)
		}
		for i := range teams {
			result.Entities = append(result.Entities, &teams[i])
		}
	case models.ResourceProjects:
		projects, err := s.projects.Find(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("find projects: %w", err)
		}
		for i := range projects {
			result.Entities = append(result.Entities, &projects[i])
		}
	case models.ResourceMessages:
		messages, err := s.messages.Find(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("find messages: %w", err)
		}
		for i := range messages {
			result.Entities = append(result.Entities, &messages[i])
		}
	default:
		return nil, fmt.Errorf("unknown resource type %q", resource)
	}
	return result, nil
}
