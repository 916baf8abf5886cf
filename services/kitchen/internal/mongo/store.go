package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/kds/pkg/enums/ticketstate"
	"github.com/appetiteclub/kds/services/kitchen/internal/kitchen"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ordersCollection  = "orders"
	ticketsCollection = "tickets"
	modelVersion      = 1
)

// Store keeps orders and tickets. Orders are written together with their
// tickets inside a transaction when the deployment supports one.
type Store struct {
	db      *mongo.Database
	orders  *mongo.Collection
	tickets *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		db:      db,
		orders:  db.Collection(ordersCollection),
		tickets: db.Collection(ticketsCollection),
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_id", Value: 1}}},
		{Keys: bson.D{{Key: "station_id", Value: 1}, {Key: "state", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}}},
	}
	if _, err := s.tickets.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("cannot create ticket indexes: %w", err)
	}
	return nil
}

func (s *Store) SaveOrderWithTickets(ctx context.Context, order *kitchen.Order, tickets []*kitchen.Ticket) error {
	if order == nil {
		return fmt.Errorf("order is nil")
	}
	for _, t := range tickets {
		stampTicket(t)
	}

	session, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("cannot start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, s.insertOrder(sc, order, tickets)
	})
	if err != nil && transactionsUnsupported(err) {
		return s.insertWithoutTransaction(ctx, order, tickets)
	}
	return mapInsertError(err)
}

func (s *Store) insertOrder(ctx context.Context, order *kitchen.Order, tickets []*kitchen.Ticket) error {
	if _, err := s.orders.InsertOne(ctx, order); err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}
	_, err := s.tickets.InsertMany(ctx, ticketDocs(tickets))
	return err
}

func ticketDocs(tickets []*kitchen.Ticket) []interface{} {
	docs := make([]interface{}, len(tickets))
	for i, t := range tickets {
		docs[i] = t
	}
	return docs
}

// insertWithoutTransaction serves standalone servers. When the tickets
// fail after the order was written, the order is removed again so it can
// be ingested later.
func (s *Store) insertWithoutTransaction(ctx context.Context, order *kitchen.Order, tickets []*kitchen.Ticket) error {
	if _, err := s.orders.InsertOne(ctx, order); err != nil {
		return mapInsertError(err)
	}
	if len(tickets) == 0 {
		return nil
	}
	if _, err := s.tickets.InsertMany(ctx, ticketDocs(tickets)); err != nil {
		_, _ = s.tickets.DeleteMany(ctx, bson.M{"order_id": order.ID})
		_, _ = s.orders.DeleteOne(ctx, bson.M{"_id": order.ID})
		return fmt.Errorf("cannot save order with tickets: %w", err)
	}
	return nil
}

func mapInsertError(err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", kitchen.ErrOrderExists, err)
	default:
		return fmt.Errorf("cannot save order with tickets: %w", err)
	}
}

// transactionsUnsupported matches the error a standalone server returns
// for transactional writes.
func transactionsUnsupported(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(20) {
		return true
	}
	var ce mongo.CommandError
	return errors.As(err, &ce) && ce.Code == 20
}

func (s *Store) SaveOrder(ctx context.Context, order *kitchen.Order) error {
	if order == nil {
		return fmt.Errorf("order is nil")
	}
	result, err := s.orders.ReplaceOne(ctx, bson.M{"_id": order.ID}, order)
	if err != nil {
		return fmt.Errorf("cannot update order: %w", err)
	}
	if result.MatchedCount == 0 {
		return kitchen.ErrOrderNotFound
	}
	return nil
}

func (s *Store) FindOrder(ctx context.Context, id kitchen.OrderID) (*kitchen.Order, error) {
	var o kitchen.Order
	err := s.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find order: %w", err)
	}
	return &o, nil
}

func (s *Store) SaveTicket(ctx context.Context, t *kitchen.Ticket) error {
	if t == nil {
		return fmt.Errorf("ticket is nil")
	}
	stampTicket(t)
	return s.replaceTicket(ctx, t)
}

func (s *Store) replaceTicket(ctx context.Context, t *kitchen.Ticket) error {
	result, err := s.tickets.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return fmt.Errorf("cannot update ticket: %w", err)
	}
	if result.MatchedCount == 0 {
		return kitchen.ErrTicketNotFound
	}
	return nil
}

// stampTicket keeps the caller's UpdatedAt; the engine's clock drives
// event timestamps and metric durations.
func stampTicket(t *kitchen.Ticket) {
	t.ModelVersion = modelVersion
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
}

// SaveOrderTickets replaces the order and the tickets in one transaction.
// Standalone servers get the writes one by one, with the previous copies
// written back when one of them fails.
func (s *Store) SaveOrderTickets(ctx context.Context, order *kitchen.Order, tickets []*kitchen.Ticket) error {
	if order == nil {
		return fmt.Errorf("order is nil")
	}
	for _, t := range tickets {
		stampTicket(t)
	}

	session, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("cannot start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, s.replaceAll(sc, order, tickets)
	})
	if err != nil && transactionsUnsupported(err) {
		return s.replaceWithoutTransaction(ctx, order, tickets)
	}
	return err
}

func (s *Store) replaceAll(ctx context.Context, order *kitchen.Order, tickets []*kitchen.Ticket) error {
	for _, t := range tickets {
		if err := s.replaceTicket(ctx, t); err != nil {
			return err
		}
	}
	return s.SaveOrder(ctx, order)
}

func (s *Store) replaceWithoutTransaction(ctx context.Context, order *kitchen.Order, tickets []*kitchen.Ticket) error {
	previousOrder, err := s.FindOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if previousOrder == nil {
		return kitchen.ErrOrderNotFound
	}
	ids := make([]kitchen.TicketID, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	previous, err := s.findTickets(ctx, bson.M{"_id": bson.M{"$in": ids}}, nil)
	if err != nil {
		return err
	}

	if err := s.replaceAll(ctx, order, tickets); err != nil {
		for _, p := range previous {
			_ = s.replaceTicket(ctx, p)
		}
		_ = s.SaveOrder(ctx, previousOrder)
		return err
	}
	return nil
}

func (s *Store) FindTicket(ctx context.Context, id kitchen.TicketID) (*kitchen.Ticket, error) {
	var t kitchen.Ticket
	err := s.tickets.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, kitchen.ErrTicketNotFound
		}
		return nil, fmt.Errorf("cannot find ticket: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTicketsByOrder(ctx context.Context, orderID kitchen.OrderID) ([]*kitchen.Ticket, error) {
	opts := options.Find().SetSort(bson.D{{Key: "expo", Value: 1}, {Key: "station_id", Value: 1}})
	return s.findTickets(ctx, bson.M{"order_id": orderID}, opts)
}

func (s *Store) ListActiveTickets(ctx context.Context) ([]*kitchen.Ticket, error) {
	filter := bson.M{"state": bson.M{"$in": ticketstate.ActiveCodes()}}
	return s.findTickets(ctx, filter, queueOrder())
}

// LoadStationQueue returns the station's active tickets oldest first.
func (s *Store) LoadStationQueue(ctx context.Context, stationID string) ([]*kitchen.Ticket, error) {
	filter := bson.M{
		"station_id": stationID,
		"state":      bson.M{"$in": ticketstate.ActiveCodes()},
	}
	return s.findTickets(ctx, filter, queueOrder())
}

func queueOrder() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "order_id", Value: 1}})
}

func (s *Store) findTickets(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*kitchen.Ticket, error) {
	cursor, err := s.tickets.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot find tickets: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*kitchen.Ticket
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode tickets: %w", err)
	}
	return result, nil
}

// Reset drops every kitchen collection. Used by the reset-db utility.
func (s *Store) Reset(ctx context.Context) error {
	for _, name := range []string{ordersCollection, ticketsCollection, eventsCollection, timingsCollection} {
		if err := s.db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("cannot drop %s: %w", name, err)
		}
	}
	return nil
}
