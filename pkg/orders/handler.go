package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/messaging"
	"github.com/plaenen/orderstream/pkg/observability"
	"github.com/plaenen/orderstream/pkg/runner"
)

// DefaultMaxRetries is the number of attempts a command gets when it keeps
// losing optimistic concurrency races.
const DefaultMaxRetries = 3

// retryBaseDelay is the first backoff step; it doubles per attempt.
const retryBaseDelay = 10 * time.Millisecond

// Result is the outcome of a successfully handled command.
type Result struct {
	// OrderID is the aggregate the command targeted
	OrderID string

	// Version is the aggregate version after the command
	Version int64

	// Events are the events the command produced
	Events []*domain.Event

	// AlreadyProcessed is true when the outcome was served from the
	// idempotency record instead of a fresh append
	AlreadyProcessed bool
}

// Handler processes order commands: load the aggregate, decide, append
// with optimistic concurrency, and publish the new events. Conflicting
// appends are retried against fresh state up to MaxRetries times.
type Handler struct {
	repo       *Repository
	bus        messaging.EventBus
	logger     runner.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	maxRetries int
	commandTTL time.Duration

	// cacheFailed records business rule rejections in the idempotency
	// store so retried commands short-circuit to the same rejection.
	cacheFailed bool
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithEventBus sets the bus new events are published to after commit.
func WithEventBus(bus messaging.EventBus) HandlerOption {
	return func(h *Handler) {
		h.bus = bus
	}
}

// WithLogger sets the handler's logger.
func WithLogger(logger runner.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics enables metric recording.
func WithMetrics(metrics *observability.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

// WithTracer enables tracing of command execution.
func WithTracer(tracer trace.Tracer) HandlerOption {
	return func(h *Handler) {
		h.tracer = tracer
	}
}

// WithMaxRetries sets how many times a command is retried on concurrency
// conflicts. Default is DefaultMaxRetries.
func WithMaxRetries(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxRetries = n
		}
	}
}

// WithCommandTTL sets how long command outcomes are remembered.
// Default is domain.DefaultCommandTTL.
func WithCommandTTL(ttl time.Duration) HandlerOption {
	return func(h *Handler) {
		h.commandTTL = ttl
	}
}

// CacheFailedOutcomes makes the handler record business rule rejections
// under the command's idempotency key. A retried command then returns the
// original rejection without re-deciding. Off by default: most callers
// want a retry after fixing the request to get a fresh decision.
func CacheFailedOutcomes() HandlerOption {
	return func(h *Handler) {
		h.cacheFailed = true
	}
}

// NewHandler creates a command handler on the given repository.
func NewHandler(repo *Repository, opts ...HandlerOption) *Handler {
	h := &Handler{
		repo:       repo,
		logger:     runner.NewNoopLogger(),
		tracer:     noop.NewTracerProvider().Tracer(""),
		maxRetries: DefaultMaxRetries,
		commandTTL: domain.DefaultCommandTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateOrder opens a new order.
func (h *Handler) CreateOrder(ctx context.Context, cmd CreateOrder) (*Result, error) {
	return h.execute(ctx, cmd, false, func(order *Order) error {
		return order.Create(cmd.CustomerID, h.metadata(cmd))
	})
}

// AddItem adds units of a product to an order.
func (h *Handler) AddItem(ctx context.Context, cmd AddItem) (*Result, error) {
	return h.execute(ctx, cmd, true, func(order *Order) error {
		return order.AddItem(cmd.ProductID, cmd.Quantity, cmd.Price, h.metadata(cmd))
	})
}

// RemoveItem removes a product's line item from an order.
func (h *Handler) RemoveItem(ctx context.Context, cmd RemoveItem) (*Result, error) {
	return h.execute(ctx, cmd, true, func(order *Order) error {
		return order.RemoveItem(cmd.ProductID, h.metadata(cmd))
	})
}

// SubmitOrder submits an order for fulfillment.
func (h *Handler) SubmitOrder(ctx context.Context, cmd SubmitOrder) (*Result, error) {
	return h.execute(ctx, cmd, true, func(order *Order) error {
		return order.Submit(cmd.ShippingAddress, h.metadata(cmd))
	})
}

// CancelOrder cancels an order.
func (h *Handler) CancelOrder(ctx context.Context, cmd CancelOrder) (*Result, error) {
	return h.execute(ctx, cmd, true, func(order *Order) error {
		return order.Cancel(cmd.Reason, h.metadata(cmd))
	})
}

// ReceivePayment records payment for a submitted order.
func (h *Handler) ReceivePayment(ctx context.Context, cmd ReceivePayment) (*Result, error) {
	return h.execute(ctx, cmd, true, func(order *Order) error {
		return order.ReceivePayment(cmd.Amount, cmd.TransactionID, h.metadata(cmd))
	})
}

// ShipOrder marks a paid order as shipped.
func (h *Handler) ShipOrder(ctx context.Context, cmd ShipOrder) (*Result, error) {
	return h.execute(ctx, cmd, true, func(order *Order) error {
		return order.Ship(cmd.TrackingNumber, h.metadata(cmd))
	})
}

// execute runs the command lifecycle: validate, short-circuit on a prior
// outcome, then load-decide-append with bounded retries on concurrency
// conflicts. Each retry re-loads fresh state and re-decides, so a command
// that became invalid after a lost race is rejected, not blindly replayed.
func (h *Handler) execute(ctx context.Context, cmd domain.Command, mustExist bool, decide func(*Order) error) (result *Result, err error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	ctx, span := h.tracer.Start(ctx, cmd.CommandType(),
		trace.WithAttributes(observability.CommandAttrs(cmd.CommandType(), cmd.CommandID(), cmd.AggregateID())...))
	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.RecordCommand(ctx, cmd.CommandType(), time.Since(start), err)
		}
		observability.EndSpan(span, err)
	}()

	if prior, err := h.priorOutcome(cmd); prior != nil || err != nil {
		return prior, err
	}

	for attempt := 0; attempt < h.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBaseDelay << (attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		order, err := h.loadForCommand(cmd, mustExist)
		if err != nil {
			return nil, err
		}
		order.SetCommandID(cmd.CommandID())
		expectedVersion := order.Version()

		if err := decide(order); err != nil {
			h.recordRejection(cmd, err)
			return nil, err
		}

		cmdResult, err := h.repo.SaveWithCommand(order, expectedVersion, cmd.CommandID(), h.commandTTL)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			if h.metrics != nil {
				h.metrics.VersionConflicts.Add(ctx, 1)
			}
			if !mustExist {
				// A create that loses the race means the order already
				// exists; retrying cannot succeed.
				return nil, domain.NewBusinessRuleError("order %s already exists", cmd.AggregateID())
			}
			h.logger.Debug("concurrency conflict, retrying",
				"command_id", cmd.CommandID(),
				"order_id", cmd.AggregateID(),
				"trace_id", observability.TraceID(ctx),
				"attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save order %s: %w", cmd.AggregateID(), err)
		}

		span.SetAttributes(
			observability.AttrEventCount.Int(len(cmdResult.Events)),
			observability.AttrRetries.Int(attempt),
			observability.AttrVersion.Int64(order.Version()),
		)

		if cmdResult.AlreadyProcessed {
			// Another writer committed this exact command between our
			// prior-outcome check and the append.
			return h.resultFromRecord(cmdResult)
		}

		if h.metrics != nil {
			h.metrics.EventsAppended.Add(ctx, int64(len(cmdResult.Events)))
		}
		h.publish(ctx, cmdResult.Events)

		return &Result{
			OrderID: cmd.AggregateID(),
			Version: order.Version(),
			Events:  cmdResult.Events,
		}, nil
	}

	return nil, fmt.Errorf("command %s exhausted %d attempts: %w",
		cmd.CommandID(), h.maxRetries, domain.ErrConcurrencyConflict)
}

// priorOutcome serves a command from its recorded outcome when one exists.
func (h *Handler) priorOutcome(cmd domain.Command) (*Result, error) {
	record, err := h.repo.eventStore.GetCommandResult(cmd.CommandID())
	if err != nil {
		if errors.Is(err, domain.ErrCommandNotProcessed) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check command outcome: %w", err)
	}
	return h.resultFromRecord(record)
}

func (h *Handler) resultFromRecord(record *domain.CommandResult) (*Result, error) {
	if record.Status == domain.CommandStatusRejected {
		return nil, &domain.BusinessRuleError{Rule: record.Rejection}
	}

	var version int64
	if n := len(record.Events); n > 0 {
		version = record.Events[n-1].Version
	}

	return &Result{
		OrderID:          record.AggregateID,
		Version:          version,
		Events:           record.Events,
		AlreadyProcessed: true,
	}, nil
}

func (h *Handler) loadForCommand(cmd domain.Command, mustExist bool) (*Order, error) {
	order, err := h.repo.Load(cmd.AggregateID())
	if err == nil {
		return order, nil
	}
	if !mustExist && errors.Is(err, domain.ErrAggregateNotFound) {
		return NewOrder(cmd.AggregateID()), nil
	}
	return nil, err
}

// recordRejection caches a business rule rejection when enabled. Failures
// here are logged only: the rejection itself already stands.
func (h *Handler) recordRejection(cmd domain.Command, decideErr error) {
	if !h.cacheFailed || !errors.Is(decideErr, domain.ErrBusinessRule) {
		return
	}

	var ruleErr *domain.BusinessRuleError
	if !errors.As(decideErr, &ruleErr) {
		return
	}

	if err := h.repo.eventStore.RecordRejectedCommand(cmd.CommandID(), cmd.AggregateID(), ruleErr.Rule, h.commandTTL); err != nil {
		h.logger.Error("failed to record rejected command",
			"command_id", cmd.CommandID(),
			"error", err)
	}
}

// publish sends committed events to the bus. Publish failures are logged,
// never returned: the append is the source of truth and projections catch
// up from the log.
func (h *Handler) publish(ctx context.Context, events []*domain.Event) {
	if h.bus == nil || len(events) == 0 {
		return
	}

	if err := h.bus.Publish(events); err != nil {
		h.logger.Error("failed to publish events",
			"count", len(events),
			"error", err)
		return
	}

	if h.metrics != nil {
		h.metrics.EventsPublished.Add(ctx, int64(len(events)))
	}
}

func (h *Handler) metadata(cmd domain.Command) domain.EventMetadata {
	return domain.EventMetadata{
		CausationID:   cmd.CommandID(),
		CorrelationID: cmd.CommandID(),
	}
}
