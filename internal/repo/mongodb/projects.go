package mongodb

import (
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
)

type ProjectsRepo interface {
	IRepository[models.Project]
}

type projectsRepo struct {
	baseRepo[models.Project]
}

func NewProjectsRepo(dbc *mongo.Database) ProjectsRepo {
	r := &projectsRepo{
		baseRepo: newBaseRepo[models.Project](dbc),
	}
	return r
}
