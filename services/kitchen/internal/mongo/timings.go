package mongo

import (
	"context"
	"fmt"

	"github.com/appetiteclub/kds/services/kitchen/internal/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const timingsCollection = "ticket_metrics"

// TimingRepo stores completed ticket timings. A recalled ticket that is
// bumped again gets one document per bump.
type TimingRepo struct {
	collection *mongo.Collection
}

func NewTimingRepo(db *mongo.Database) *TimingRepo {
	return &TimingRepo{collection: db.Collection(timingsCollection)}
}

func (r *TimingRepo) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ticket_id", Value: 1}, {Key: "bumped_at", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "station_id", Value: 1}, {Key: "bumped_at", Value: -1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("cannot create ticket metric indexes: %w", err)
	}
	return nil
}

// SaveTiming upserts, so a retried save is harmless.
func (r *TimingRepo) SaveTiming(ctx context.Context, t metrics.Timing) error {
	filter := bson.M{"ticket_id": t.TicketID, "bumped_at": t.BumpedAt}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, filter, t, opts); err != nil {
		return fmt.Errorf("cannot save ticket timing: %w", err)
	}
	return nil
}
