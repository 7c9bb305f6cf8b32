package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/checkpoint"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
	"github.com/opensource-finance/kestrel/internal/routing"
)

type fakeRepo struct {
	domain.Repository

	mu    sync.Mutex
	saved *domain.RiskAssessment
}

func (f *fakeRepo) GetTransactionsByEntity(ctx context.Context, entityID string, since time.Time) ([]*domain.Transaction, error) {
	txs := make([]*domain.Transaction, 12)
	base := time.Now().UTC().Add(-24 * time.Hour)
	for i := range txs {
		txs[i] = &domain.Transaction{
			ID:        entityID + "-tx",
			EntityID:  entityID,
			Amount:    80,
			Currency:  "USD",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return txs, nil
}

func (f *fakeRepo) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = a
	return nil
}

func (f *fakeRepo) CountFlaggedAssessments(ctx context.Context, entityID string) (int, error) {
	return 0, nil
}

type fakeScorer struct{}

func (fakeScorer) Score(ctx context.Context, txs []*domain.Transaction, entityID string, entityType domain.EntityType, isMerchant bool) (*domain.RiskAssessment, error) {
	return &domain.RiskAssessment{
		EntityID:         entityID,
		EntityType:       entityType,
		OverallRiskScore: 0.1,
		RiskLevel:        domain.RiskLow,
		ThresholdUsed:    0.2,
		SampleSize:       len(txs),
		GeneratedAt:      time.Now().UTC(),
	}, nil
}

type fakeAgent struct {
	dom   string
	block bool
}

func (a *fakeAgent) Domain() string { return a.dom }

func (a *fakeAgent) Investigate(ctx context.Context, req domain.AgentRequest) (*domain.AgentReport, error) {
	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &domain.AgentReport{
		Findings: domain.DomainFindings{
			Domain:    a.dom,
			RiskScore: 0.05,
		},
		ToolCalls: []domain.ToolCall{
			{Name: a.dom + "_lookup", Result: map[string]any{"ok": true}},
		},
	}, nil
}

func newTestWorker(t *testing.T, block bool) (*Worker, *orchestrator.Manager, *bus.ChannelBus) {
	t.Helper()

	cfg := domain.DefaultConfig()
	store := checkpoint.NewMemoryStore(cfg.Checkpoint)
	eventBus := bus.NewChannelBus(64)
	t.Cleanup(func() {
		_ = store.Close()
		_ = eventBus.Close()
	})

	agents := make(map[string]domain.DomainAgent, len(domain.AllDomains))
	for _, d := range domain.AllDomains {
		agents[d] = &fakeAgent{dom: d, block: block}
	}

	orch := orchestrator.New(
		&fakeRepo{}, store, eventBus,
		routing.NewEngine(cfg.Routing),
		fakeScorer{}, agents, cfg, nil,
	)
	manager := orchestrator.NewManager(orch)
	t.Cleanup(manager.Shutdown)

	return NewWorker(eventBus, manager, checkpoint.DefaultNamespace, nil), manager, eventBus
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func publishRequest(t *testing.T, eventBus *bus.ChannelBus, req RequestMessage) {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := eventBus.Publish(context.Background(), checkpoint.DefaultNamespace, domain.TopicRequested, payload); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func TestWorkerStartAndStop(t *testing.T) {
	w, _, _ := newTestWorker(t, false)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 1 {
		t.Errorf("SubscriptionCount = %d, want 1", got)
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("SubscriptionCount after Stop = %d, want 0", got)
	}
}

func TestWorkerStartsInvestigation(t *testing.T) {
	w, manager, eventBus := newTestWorker(t, false)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	publishRequest(t, eventBus, RequestMessage{
		InvestigationID: "inv-bus-001",
		EntityID:        "entity-bus",
		EntityType:      string(domain.EntityUser),
	})

	if !waitFor(t, 2*time.Second, func() bool { return w.GetStats().Started == 1 }) {
		t.Fatalf("Started = %d, want 1", w.GetStats().Started)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := manager.Wait(ctx, "inv-bus-001")
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if final.Phase != domain.PhaseComplete {
		t.Errorf("Phase = %s, want %s", final.Phase, domain.PhaseComplete)
	}
	if final.EntityID != "entity-bus" {
		t.Errorf("EntityID = %s, want entity-bus", final.EntityID)
	}
}

func TestWorkerDropsDuplicateRequest(t *testing.T) {
	w, manager, eventBus := newTestWorker(t, true)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if _, err := manager.Start(orchestrator.StartRequest{
		InvestigationID: "inv-dup-001",
		EntityID:        "entity-dup",
		EntityType:      domain.EntityUser,
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	publishRequest(t, eventBus, RequestMessage{
		InvestigationID: "inv-dup-001",
		EntityID:        "entity-dup",
	})

	if !waitFor(t, 2*time.Second, func() bool { return w.GetStats().Dropped == 1 }) {
		t.Fatalf("Dropped = %d, want 1", w.GetStats().Dropped)
	}
	if got := w.GetStats().Started; got != 0 {
		t.Errorf("Started = %d, want 0", got)
	}

	if err := manager.Cancel("inv-dup-001"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := manager.Wait(ctx, "inv-dup-001"); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestWorkerCountsBadRequests(t *testing.T) {
	w, _, eventBus := newTestWorker(t, false)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := eventBus.Publish(context.Background(), checkpoint.DefaultNamespace, domain.TopicRequested, []byte("{not json")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	publishRequest(t, eventBus, RequestMessage{EntityID: ""})

	if !waitFor(t, 2*time.Second, func() bool { return w.GetStats().Failed == 2 }) {
		t.Fatalf("Failed = %d, want 2", w.GetStats().Failed)
	}
	if got := w.GetStats().Started; got != 0 {
		t.Errorf("Started = %d, want 0", got)
	}
}
