// Package worker provides async investigation intake for the Pro tier.
//
// Upstream systems publish investigation requests on the bus instead of
// calling the HTTP API. The worker subscribes to the requested topic,
// validates each message, and hands it to the orchestration manager. A
// request for an entity already under investigation is dropped, not
// queued.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
)

// Worker consumes investigation requests from the EventBus.
type Worker struct {
	bus       domain.EventBus
	manager   *orchestrator.Manager
	namespace string
	logger    *slog.Logger

	subscriptions []domain.Subscription
	mu            sync.Mutex

	started int64
	dropped int64
	failed  int64
}

// RequestMessage is the payload published on the requested topic.
type RequestMessage struct {
	InvestigationID string `json:"investigationId,omitempty"`
	EntityID        string `json:"entityId"`
	EntityType      string `json:"entityType,omitempty"`
	Priority        string `json:"priority,omitempty"`
}

// NewWorker creates an intake worker bound to one deployment namespace.
func NewWorker(bus domain.EventBus, manager *orchestrator.Manager, namespace string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		bus:       bus,
		manager:   manager,
		namespace: namespace,
		logger:    logger,
	}
}

// Start subscribes to the requested topic. The subscription lives until
// Stop is called or ctx is cancelled by the bus implementation.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, w.namespace, domain.TopicRequested, w.handleRequest)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("intake worker started",
		"namespace", w.namespace,
		"topic", domain.TopicRequested,
	)
	return nil
}

// handleRequest parses one request message and launches the investigation.
func (w *Worker) handleRequest(ctx context.Context, msg *domain.Message) error {
	var req RequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		atomic.AddInt64(&w.failed, 1)
		w.logger.Error("failed to parse investigation request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if req.EntityID == "" {
		atomic.AddInt64(&w.failed, 1)
		w.logger.Warn("investigation request missing entity id",
			"message_id", msg.ID,
		)
		return errors.New("worker: entityId is required")
	}

	entityType := domain.EntityType(req.EntityType)
	if entityType == "" {
		entityType = domain.EntityUser
	}

	id, err := w.manager.Start(orchestrator.StartRequest{
		InvestigationID: req.InvestigationID,
		EntityID:        req.EntityID,
		EntityType:      entityType,
		Priority:        req.Priority,
	})
	if err != nil {
		// Duplicate threads are expected under replays, not an intake error.
		atomic.AddInt64(&w.dropped, 1)
		w.logger.Debug("investigation request dropped",
			"entity_id", req.EntityID,
			"error", err,
		)
		return nil
	}

	atomic.AddInt64(&w.started, 1)
	w.logger.Info("investigation started from bus",
		"investigation_id", id,
		"entity_id", req.EntityID,
		"message_id", msg.ID,
	)
	return nil
}

// Stop unsubscribes from all topics. Investigations already running keep
// going; the orchestration manager owns their lifecycle.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.logger.Info("intake worker stopped")
	return nil
}

// Stats returns intake counters since startup.
type Stats struct {
	SubscriptionCount int   `json:"subscriptionCount"`
	Started           int64 `json:"started"`
	Dropped           int64 `json:"dropped"`
	Failed            int64 `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	subCount := len(w.subscriptions)
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: subCount,
		Started:           atomic.LoadInt64(&w.started),
		Dropped:           atomic.LoadInt64(&w.dropped),
		Failed:            atomic.LoadInt64(&w.failed),
	}
}
