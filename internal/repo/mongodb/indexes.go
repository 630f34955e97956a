package mongodb

import (
	"context"
	"fmt"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// EnsureIndexes creates the indexes the snapshot and retention queries
// rely on. Safe to run on every start.
func EnsureIndexes(ctx context.Context, db *DB) error {
	byCollection := map[string][]mongo.IndexModel{
		"teams": {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		},
		"projects": {
			{Keys: bson.D{{Key: "team_id", Value: 1}}},
		},
		"messages": {
			{Keys: bson.D{
				{Key: "project_id", Value: 1},
				{Key: "thread_id", Value: 1},
				{Key: "created_at", Value: 1},
			}},
		},
	}

	for coll, idx := range byCollection {
		// every mirrored collection carries tombstone rows, index them
		// for the retention purge
		idx = append(idx, mongo.IndexModel{
			Keys: bson.D{{Key: "deleted", Value: 1}, {Key: "deleted_at", Value: 1}},
		})

		names, err := db.Database.Collection(coll).Indexes().CreateMany(ctx, idx)
		if err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
		log.Infow(ctx, "Ensured indexes", "collection", coll, "indexes", names)
	}
	return nil
}
