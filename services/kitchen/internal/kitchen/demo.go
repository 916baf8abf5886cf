package kitchen

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/seed"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

const kitchenDemoSeedApplication = "kitchen_demo"

// demoOrders covers single-station, multi-station and expo-only orders.
var demoOrders = []struct {
	seedID string
	order  Order
}{
	{
		seedID: "2025-01-10_demo_order_window_1",
		order: Order{
			ID:       uuid.MustParse("5f0c8a3e-3f4e-4c41-9a55-1d2a0b6c7e01"),
			TableRef: "Window-1",
			Items: []LineItem{
				{Name: "Ribeye", Category: "steak", Quantity: 1, Modifiers: []string{"medium rare"}},
				{Name: "Fries", Category: "sides", Quantity: 1},
				{Name: "Cola", Category: "soda", Quantity: 2},
			},
		},
	},
	{
		seedID: "2025-01-10_demo_order_center_2",
		order: Order{
			ID:       uuid.MustParse("5f0c8a3e-3f4e-4c41-9a55-1d2a0b6c7e02"),
			TableRef: "Center-2",
			Items: []LineItem{
				{Name: "Caesar Salad", Category: "salad", Quantity: 2},
				{Name: "Carbonara", Category: "pasta", Quantity: 2, Modifiers: []string{"no pepper"}},
				{Name: "Tiramisu", Category: "dessert", Quantity: 1},
			},
		},
	},
	{
		seedID: "2025-01-10_demo_order_booth_7",
		order: Order{
			ID:       uuid.MustParse("5f0c8a3e-3f4e-4c41-9a55-1d2a0b6c7e03"),
			TableRef: "Booth-7",
			Items: []LineItem{
				{Name: "Negroni", Category: "cocktail", Quantity: 3},
			},
		},
	},
}

// ApplyDemoSeeds routes the demo orders through the ingestor so their
// tickets are announced like any other order.
func ApplyDemoSeeds(ctx context.Context, ingestor *Ingestor, db *mongo.Database, logger apt.Logger) error {
	if db == nil {
		return errors.New("database is required for demo seeding")
	}
	if ingestor == nil {
		return errors.New("ingestor is required for demo seeding")
	}

	tracker := seed.NewMongoTracker(db)

	logger.Info("Applying demo kitchen seeds")
	if err := seed.Apply(ctx, tracker, buildDemoSeeds(ingestor, logger), kitchenDemoSeedApplication); err != nil {
		return err
	}
	logger.Info("Demo kitchen seeds applied successfully")
	return nil
}

func buildDemoSeeds(ingestor *Ingestor, logger apt.Logger) []seed.Seed {
	var defs []seed.Seed
	for _, demo := range demoOrders {
		order := demo.order
		defs = append(defs, seed.Seed{
			ID:          demo.seedID,
			Description: fmt.Sprintf("Route demo order for table %s", order.TableRef),
			Run: func(ctx context.Context) error {
				result, err := ingestor.Ingest(ctx, order)
				if err != nil {
					return fmt.Errorf("ingest demo order %s: %w", order.ID, err)
				}
				logger.Info("Routed demo order", "table", order.TableRef, "tickets", len(result.TicketIDs))
				return nil
			},
		})
	}
	return defs
}

// DemoSeedingFunc returns an apt lifecycle OnStart-compatible function which
// applies the demo seeds in the background.
func DemoSeedingFunc(seedCtx context.Context, ingestor *Ingestor, db func() *mongo.Database, logger apt.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return func(ctx context.Context) error {
		logger.Info("Starting demo kitchen seeding in background")
		go func() {
			if err := ApplyDemoSeeds(seedCtx, ingestor, db(), logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Demo kitchen seeds failed: %v", err)
			} else if err == nil {
				logger.Info("Demo kitchen seeding completed")
			}
		}()
		return nil
	}
}
