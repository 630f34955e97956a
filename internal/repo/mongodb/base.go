package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// keep the baseRepo implementation in sync with IRepository interface
var _ IRepository[IEntity] = (*baseRepo[IEntity])(nil)

type IEntity interface {
	CollectionName() string
	Meta() models.EntityMeta
}

type IRepository[E IEntity] interface {
	Find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]E, error)
	UpsertNewer(ctx context.Context, entity E) (bool, error)
	MarkDeleted(ctx context.Context, meta models.EntityMeta, deletedAt time.Time) error
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
	PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error)
	Count(ctx context.Context, filter bson.M, opts ...*options.CountOptions) (int64, error)
}

type baseRepo[E IEntity] struct {
	coll *mongo.Collection
}

func newBaseRepo[E IEntity](dbc *mongo.Database) baseRepo[E] {
	var entity E
	return baseRepo[E]{
		coll: dbc.Collection(entity.CollectionName()),
	}
}

// this is a helper function to get the collection, but only for scripting purposes
func (r *baseRepo[E]) GetCollection() *mongo.Collection {
	return r.coll
}

func (r *baseRepo[E]) Find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]E, error) {
	cursor, err := r.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var entities []E
	if err := cursor.All(ctx, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// UpsertNewer writes the entity unless the stored copy already carries a
// newer version, or the same version with a later updated_at. A live write
// always replaces a tombstone row: stale writes inside the retention window
// never reach the mirror, so a live write over a tombstone is a re-creation.
func (r *baseRepo[E]) UpsertNewer(ctx context.Context, entity E) (bool, error) {
	meta := entity.Meta()
	filter := bson.M{
		"_id": meta.ID,
		"$or": []bson.M{
			{"version": bson.M{"$lt": meta.Version}},
			{"version": meta.Version, "updated_at": bson.M{"$lte": meta.UpdatedAt}},
			{"deleted": true},
		},
	}
	update := bson.M{
		"$set":   entity,
		"$unset": bson.M{"deleted": "", "deleted_at": ""},
	}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// a newer copy is already mirrored
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", r.coll.Name(), err)
	}
	return true, nil
}

// MarkDeleted records a tombstone row so snapshots built from the mirror
// cannot revive the entity within the retention window.
func (r *baseRepo[E]) MarkDeleted(ctx context.Context, meta models.EntityMeta, deletedAt time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"version":    meta.Version,
			"updated_at": meta.UpdatedAt,
			"deleted":    true,
			"deleted_at": deletedAt,
		},
	}
	opts := options.Update().SetUpsert(true)
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": meta.ID}, update, opts); err != nil {
		return fmt.Errorf("mark deleted %s: %w", r.coll.Name(), err)
	}
	return nil
}

func (r *baseRepo[E]) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (r *baseRepo[E]) PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error) {
	return r.DeleteMany(ctx, bson.M{
		"deleted":    true,
		"deleted_at": bson.M{"$lt": olderThan},
	})
}

func (r *baseRepo[E]) Count(ctx context.Context, filter bson.M, opts ...*options.CountOptions) (int64, error) {
	return r.coll.CountDocuments(ctx, filter, opts...)
}
