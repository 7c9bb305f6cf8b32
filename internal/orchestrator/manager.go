package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrUnknownInvestigation is returned for IDs the manager is not running.
var ErrUnknownInvestigation = errors.New("orchestrator: unknown investigation")

// Status is a manager-side view of one investigation's lifecycle.
type Status struct {
	InvestigationID string       `json:"investigationId"`
	EntityID        string       `json:"entityId"`
	Phase           domain.Phase `json:"phase"`
	Running         bool         `json:"running"`
	Error           string       `json:"error,omitempty"`
}

// running tracks one in-flight or finished investigation.
type running struct {
	entityID string
	cancel   context.CancelFunc
	done     chan struct{}

	final *domain.InvestigationState
	err   error
}

// Manager runs investigations asynchronously and keeps a cancellation
// registry so operators can abort them. Every started investigation is
// independent; the manager holds no per-investigation state beyond the
// handle.
type Manager struct {
	orch *Orchestrator

	mu   sync.RWMutex
	runs map[string]*running
	wg   sync.WaitGroup
}

// NewManager creates a manager over the given orchestrator.
func NewManager(orch *Orchestrator) *Manager {
	return &Manager{
		orch: orch,
		runs: make(map[string]*running),
	}
}

// Start launches an investigation in the background and returns its ID
// immediately. The investigation keeps running after the caller's request
// context ends; only Cancel or Shutdown stops it.
func (m *Manager) Start(req StartRequest) (string, error) {
	if req.EntityID == "" {
		return "", errors.New("orchestrator: entity id is required")
	}
	if req.InvestigationID == "" {
		req.InvestigationID = uuid.NewString()
	}

	m.mu.Lock()
	if r, ok := m.runs[req.InvestigationID]; ok {
		select {
		case <-r.done:
			// finished earlier, allow a resume under the same thread
		default:
			m.mu.Unlock()
			return "", errors.New("orchestrator: investigation already running")
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{entityID: req.EntityID, cancel: cancel, done: make(chan struct{})}
	m.runs[req.InvestigationID] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(r.done)
		defer cancel()
		r.final, r.err = m.orch.Run(ctx, req)
	}()

	return req.InvestigationID, nil
}

// Cancel aborts a running investigation. The orchestrator absorbs the
// cancellation as a transition into the errors phase and checkpoints the
// partial state before returning.
func (m *Manager) Cancel(investigationID string) error {
	m.mu.RLock()
	r, ok := m.runs[investigationID]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownInvestigation
	}
	r.cancel()
	return nil
}

// Status reports a started investigation's lifecycle.
func (m *Manager) Status(investigationID string) (Status, error) {
	m.mu.RLock()
	r, ok := m.runs[investigationID]
	m.mu.RUnlock()
	if !ok {
		return Status{}, ErrUnknownInvestigation
	}

	st := Status{InvestigationID: investigationID, EntityID: r.entityID}
	select {
	case <-r.done:
		if r.final != nil {
			st.Phase = r.final.Phase
		}
		if r.err != nil {
			st.Error = r.err.Error()
		}
	default:
		st.Running = true
	}
	return st, nil
}

// Wait blocks until the investigation finishes and returns its final
// state. Used by tests and synchronous callers.
func (m *Manager) Wait(ctx context.Context, investigationID string) (*domain.InvestigationState, error) {
	m.mu.RLock()
	r, ok := m.runs[investigationID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownInvestigation
	}
	select {
	case <-r.done:
		return r.final, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels every running investigation and waits for the loops to
// drain their terminal checkpoints.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	for _, r := range m.runs {
		r.cancel()
	}
	m.mu.RUnlock()
	m.wg.Wait()
}
