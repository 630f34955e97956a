package mongodb

import (
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
)

type TeamsRepo interface {
	IRepository[models.Team]
}

type teamsRepo struct {
	baseRepo[models.Team]
}

func NewTeamsRepo(dbc *mongo.Database) TeamsRepo {
	r := &teamsRepo{
		baseRepo: newBaseRepo[models.Team](dbc),
	}
	return r
}
