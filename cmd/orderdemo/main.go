// Command orderdemo walks an order through its full lifecycle end to end:
// commands append events, a projection builds the read model, and the
// rebuild path reconstructs it from the log.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/eventsourcing"
	"github.com/plaenen/orderstream/pkg/messaging/memory"
	"github.com/plaenen/orderstream/pkg/observability"
	"github.com/plaenen/orderstream/pkg/orders"
	"github.com/plaenen/orderstream/pkg/orders/projections"
	"github.com/plaenen/orderstream/pkg/runner"
	"github.com/plaenen/orderstream/pkg/store"
	"github.com/plaenen/orderstream/pkg/store/sqlite"
)

type config struct {
	DSN              string `env:"ORDERSTREAM_DSN" envDefault:":memory:"`
	SnapshotInterval int64  `env:"ORDERSTREAM_SNAPSHOT_INTERVAL" envDefault:"100"`
	BusWorkers       int    `env:"ORDERSTREAM_BUS_WORKERS" envDefault:"4"`
	BusBufferSize    int    `env:"ORDERSTREAM_BUS_BUFFER" envDefault:"1024"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// busService drains and closes the event bus on shutdown.
type busService struct {
	bus *memory.Bus
}

func (s *busService) Name() string { return "event-bus" }

func (s *busService) Start(ctx context.Context) error { return nil }

func (s *busService) Stop(ctx context.Context) error {
	s.bus.Drain()
	return s.bus.Close()
}

// projectionService runs one projection under the manager for the life of
// the process. The app context, not the startup context, backs the live
// subscription.
type projectionService struct {
	ctx     context.Context
	manager *eventsourcing.ProjectionManager
	name    string
}

func (s *projectionService) Name() string { return "projection-" + s.name }

func (s *projectionService) Start(ctx context.Context) error {
	return s.manager.Start(s.ctx, s.name)
}

func (s *projectionService) Stop(ctx context.Context) error {
	return s.manager.Stop(s.name)
}

// scenarioService runs the demo flow once the other services are up, then
// signals the runner to shut everything down.
type scenarioService struct {
	run  func() error
	done context.CancelFunc
}

func (s *scenarioService) Name() string { return "demo-scenario" }

func (s *scenarioService) Start(ctx context.Context) error {
	if err := s.run(); err != nil {
		return err
	}
	s.done()
	return nil
}

func (s *scenarioService) Stop(ctx context.Context) error { return nil }

func run() error {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()
	logger := runner.NewZapLogger(zapLogger)

	reader := sdkmetric.NewManualReader()
	tel, err := observability.Init(ctx, observability.Config{
		ServiceName:    "orderdemo",
		ServiceVersion: "dev",
		Environment:    "dev",
		MetricReader:   reader,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer tel.Shutdown(ctx)

	eventStore, err := sqlite.NewEventStore(sqlite.WithDSN(cfg.DSN))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer eventStore.Close()

	snapshots := sqlite.NewSnapshotStore(eventStore.DB())
	checkpoints := sqlite.NewCheckpointStore(eventStore.DB())

	bus := memory.NewBus(
		memory.WithWorkers(cfg.BusWorkers),
		memory.WithBufferSize(cfg.BusBufferSize),
		memory.WithLogger(logger),
		memory.WithDropCallback(func() {
			tel.Metrics.EventsDropped.Add(ctx, 1)
		}),
	)
	defer bus.Close()

	repo := orders.NewRepository(eventStore,
		orders.WithSnapshots(snapshots, store.NewIntervalSnapshotStrategy(cfg.SnapshotInterval)),
		orders.WithRepositoryLogger(logger),
		orders.WithRepositoryMetrics(tel.Metrics),
	)

	handler := orders.NewHandler(repo,
		orders.WithEventBus(bus),
		orders.WithLogger(logger),
		orders.WithMetrics(tel.Metrics),
		orders.WithTracer(tel.Tracer("orderdemo")),
	)

	view, err := projections.NewOrderViewProjection(eventStore.DB(), logger)
	if err != nil {
		return fmt.Errorf("failed to create projection: %w", err)
	}

	manager := eventsourcing.NewProjectionManager(checkpoints, eventStore, bus,
		eventsourcing.WithMetrics(tel.Metrics))
	manager.Register(view)

	runCtx, done := context.WithCancel(ctx)
	defer done()

	r := runner.New([]runner.Service{
		&busService{bus: bus},
		&projectionService{ctx: ctx, manager: manager, name: view.Name()},
		&scenarioService{
			run: func() error {
				return scenario(ctx, handler, manager, bus, view, logger)
			},
			done: done,
		},
	},
		runner.WithLogger(logger),
		runner.WithShutdownTimeout(10*time.Second),
	)

	return r.Run(runCtx)
}

func scenario(
	ctx context.Context,
	handler *orders.Handler,
	manager *eventsourcing.ProjectionManager,
	bus *memory.Bus,
	view *projections.OrderViewProjection,
	logger runner.Logger,
) error {
	orderID := uuid.NewString()
	customerID := "customer-42"

	if _, err := handler.CreateOrder(ctx, orders.CreateOrder{
		IdempotencyKey: uuid.NewString(),
		OrderID:        orderID,
		CustomerID:     customerID,
	}); err != nil {
		return err
	}

	if _, err := handler.AddItem(ctx, orders.AddItem{
		IdempotencyKey: uuid.NewString(),
		OrderID:        orderID,
		ProductID:      "widget",
		Quantity:       2,
		Price:          decimal.RequireFromString("19.99"),
	}); err != nil {
		return err
	}

	if _, err := handler.AddItem(ctx, orders.AddItem{
		IdempotencyKey: uuid.NewString(),
		OrderID:        orderID,
		ProductID:      "gadget",
		Quantity:       1,
		Price:          decimal.RequireFromString("60.02"),
	}); err != nil {
		return err
	}

	if _, err := handler.SubmitOrder(ctx, orders.SubmitOrder{
		IdempotencyKey:  uuid.NewString(),
		OrderID:         orderID,
		ShippingAddress: "1 Main St, Springfield",
	}); err != nil {
		return err
	}

	if _, err := handler.ReceivePayment(ctx, orders.ReceivePayment{
		IdempotencyKey: uuid.NewString(),
		OrderID:        orderID,
		Amount:         decimal.RequireFromString("100.00"),
		TransactionID:  "txn-1",
	}); err != nil {
		return err
	}

	shipCmd := orders.ShipOrder{
		IdempotencyKey: uuid.NewString(),
		OrderID:        orderID,
		TrackingNumber: "TRACK-123",
	}
	result, err := handler.ShipOrder(ctx, shipCmd)
	if err != nil {
		return err
	}
	logger.Info("order shipped", "order_id", orderID, "version", result.Version)

	// Replaying the same command is served from the idempotency record.
	dup, err := handler.ShipOrder(ctx, shipCmd)
	if err != nil {
		return err
	}
	logger.Info("duplicate ship command", "already_processed", dup.AlreadyProcessed)

	// A cancel after shipping is rejected by the state machine.
	_, err = handler.CancelOrder(ctx, orders.CancelOrder{
		IdempotencyKey: uuid.NewString(),
		OrderID:        orderID,
		Reason:         "changed my mind",
	})
	if errors.Is(err, domain.ErrBusinessRule) {
		logger.Info("cancel rejected as expected", "reason", err.Error())
	} else if err != nil {
		return err
	}

	bus.Drain()

	row, err := view.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to read order view: %w", err)
	}
	logger.Info("order view",
		"order_id", row.OrderID,
		"status", row.Status,
		"items", row.ItemCount,
		"total", row.TotalAmount.String())

	// Rebuild the read model from scratch, verify it converges, and resume
	// live consumption so the projection service can stop it cleanly.
	if err := manager.Rebuild(ctx, view.Name()); err != nil {
		return fmt.Errorf("failed to rebuild projection: %w", err)
	}
	rebuilt, err := view.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to read rebuilt view: %w", err)
	}
	logger.Info("rebuilt order view",
		"status", rebuilt.Status,
		"total", rebuilt.TotalAmount.String(),
		"matches", rebuilt.Status == row.Status && rebuilt.TotalAmount.Equal(row.TotalAmount))

	return manager.Start(ctx, view.Name())
}
