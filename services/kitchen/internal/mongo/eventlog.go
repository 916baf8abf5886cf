package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/kds/pkg/event"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const eventsCollection = "station_events"

// EventLog is the durable copy of every station event log. Sequences are
// unique per station.
type EventLog struct {
	collection *mongo.Collection
	ttl        time.Duration
}

// NewEventLog keeps events for ttl; zero keeps them forever.
func NewEventLog(db *mongo.Database, ttl time.Duration) *EventLog {
	return &EventLog{
		collection: db.Collection(eventsCollection),
		ttl:        ttl,
	}
}

func (l *EventLog) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "station_id", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if l.ttl > 0 {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(l.ttl.Seconds())),
		})
	}
	if _, err := l.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("cannot create station event indexes: %w", err)
	}
	return nil
}

func (l *EventLog) AppendEvent(ctx context.Context, evt event.TicketEvent) error {
	if _, err := l.collection.InsertOne(ctx, evt); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("sequence %d already used on station %s: %w", evt.Sequence, evt.StationID, err)
		}
		return fmt.Errorf("cannot append station event: %w", err)
	}
	return nil
}

// LoadEventsSince returns the station's events after seq in sequence order.
func (l *EventLog) LoadEventsSince(ctx context.Context, stationID string, seq uint64) ([]event.TicketEvent, error) {
	filter := bson.M{
		"station_id": stationID,
		"sequence":   bson.M{"$gt": int64(seq)},
	}
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})

	cursor, err := l.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot load station events: %w", err)
	}
	defer cursor.Close(ctx)

	var result []event.TicketEvent
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode station events: %w", err)
	}
	return result, nil
}
