package mongodb

import (
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
)

type MessagesRepo interface {
	IRepository[models.Message]
}

type messagesRepo struct {
	baseRepo[models.Message]
}

func NewMessagesRepo(dbc *mongo.Database) MessagesRepo {
	r := &messagesRepo{
		baseRepo: newBaseRepo[models.Message](dbc),
	}
	return r
}
