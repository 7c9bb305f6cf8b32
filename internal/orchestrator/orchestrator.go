// Package orchestrator drives the investigation state machine: a
// single-writer loop per investigation that asks the routing engine for
// the next step, fans out to domain agents, folds their results through
// the pure state reducers, and checkpoints after every step. Agent calls
// never touch shared state; everything mutates on the loop goroutine.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/checkpoint"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/state"
)

// SubNamespaceMain is the checkpoint sub-namespace for the primary
// investigation timeline.
const SubNamespaceMain = "main"

// Scorer produces the final composite assessment over an entity's
// transaction history.
type Scorer interface {
	Score(ctx context.Context, txs []*domain.Transaction, entityID string, entityType domain.EntityType, isMerchant bool) (*domain.RiskAssessment, error)
}

// Orchestrator runs investigations end to end. It is safe for concurrent
// use: each Run call owns its own state machine, and the checkpoint store
// keys are namespaced per thread.
type Orchestrator struct {
	repo   domain.Repository
	store  domain.CheckpointStore
	bus    domain.EventBus
	router *routing.Engine
	scorer Scorer
	agents map[string]domain.DomainAgent

	namespace string
	invCfg    domain.InvestigationConfig
	logger    *slog.Logger
}

// New creates an orchestrator over the given collaborators. The agents map
// is keyed by analysis domain; domains with no registered agent are
// recorded as tool failures when routed to.
func New(
	repo domain.Repository,
	store domain.CheckpointStore,
	bus domain.EventBus,
	router *routing.Engine,
	scorer Scorer,
	agents map[string]domain.DomainAgent,
	cfg *domain.Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	ns := cfg.Checkpoint.Namespace
	if ns == "" {
		ns = checkpoint.DefaultNamespace
	}
	return &Orchestrator{
		repo:      repo,
		store:     store,
		bus:       bus,
		router:    router,
		scorer:    scorer,
		agents:    agents,
		namespace: ns,
		invCfg:    cfg.Investigation,
		logger:    logger,
	}
}

// StartRequest describes the subject of an investigation. A non-empty
// InvestigationID resumes that thread from its latest checkpoint.
type StartRequest struct {
	InvestigationID string            `json:"investigationId,omitempty"`
	EntityID        string            `json:"entityId"`
	EntityType      domain.EntityType `json:"entityType"`
	Priority        string            `json:"priority,omitempty"`
}

// Run executes one investigation to a terminal phase and returns the final
// state. Cancelling ctx aborts the investigation into the errors phase;
// the state accumulated so far is checkpointed and returned alongside
// ctx's error.
func (o *Orchestrator) Run(ctx context.Context, req StartRequest) (*domain.InvestigationState, error) {
	if req.EntityID == "" {
		return nil, errors.New("orchestrator: entity id is required")
	}

	s, parentID, err := o.restore(ctx, req)
	if err != nil {
		return nil, err
	}

	log := o.logger.With("investigation_id", s.InvestigationID, "entity_id", s.EntityID)

	if s.Phase == domain.PhaseInitialization {
		s, err = o.collectData(ctx, s)
		if err != nil {
			return o.abort(s, parentID, err)
		}
	}

	for !state.IsComplete(s) && !s.Terminal() {
		if ctx.Err() != nil {
			return o.abort(s, parentID, ctx.Err())
		}

		s = state.RecordLoop(s)
		decision := o.router.Decide(s)
		s = state.RecordDecision(s, decision)

		o.publishProgress(s)
		parentID = o.snapshot(ctx, s, parentID)

		if decision.Action != domain.ActionContinue {
			if decision.Action == domain.ActionHumanReview {
				log.Warn("routing requested human review",
					"tier", decision.Tier, "confidence", decision.Confidence)
			}
			log.Info("routing ended investigation", "reason", decision.Reason)
			break
		}

		results := o.step(ctx, s, decision)
		o.recordWrites(ctx, s, parentID, results)

		// Fold on the loop goroutine only, after the whole step joins.
		for _, r := range results {
			if r.err != nil {
				s = state.RecordError(s, domain.ErrKindToolFailure,
					fmt.Sprintf("%s agent: %v", r.domain, r.err))
				continue
			}
			for _, call := range r.report.ToolCalls {
				s = state.ApplyToolResult(s, call.Name, call.Result)
			}
			s = state.ApplyDomainFindings(s, r.report.Findings)
		}

		if s.Phase == domain.PhaseToolExecution && len(s.DomainsCompleted) > 0 {
			if next, terr := state.TransitionPhase(s, domain.PhaseDomainAnalysis); terr == nil {
				s = next
			}
		}
	}

	return o.finalize(ctx, s, parentID)
}

// restore loads the latest checkpoint for a resumed thread, or builds a
// fresh state. An undecodable checkpoint is treated as no prior
// checkpoint, with a warning.
func (o *Orchestrator) restore(ctx context.Context, req StartRequest) (*domain.InvestigationState, string, error) {
	id := req.InvestigationID
	if id != "" {
		prior, err := checkpoint.LoadLatest(ctx, o.store, o.namespace, id, SubNamespaceMain)
		switch {
		case errors.Is(err, checkpoint.ErrSerialization):
			o.logger.Warn("checkpoint undecodable, starting fresh",
				"investigation_id", id, "error", err)
		case err != nil:
			return nil, "", fmt.Errorf("restore investigation %s: %w", id, err)
		case prior != nil:
			if prior.Terminal() {
				return nil, "", fmt.Errorf("investigation %s already terminal in phase %s", id, prior.Phase)
			}
			o.logger.Info("resuming investigation",
				"investigation_id", id, "phase", prior.Phase, "loops", prior.OrchestratorLoops)
			return prior, "", nil
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return state.New(id, req.EntityID, req.EntityType, o.invCfg, req.Priority), "", nil
}

// collectData runs the batch data-collection step: it pulls the entity's
// transaction history inside the lookback window and records it as the
// designated batch tool's result, moving the state through data_collection
// into tool_execution.
func (o *Orchestrator) collectData(ctx context.Context, s *domain.InvestigationState) (*domain.InvestigationState, error) {
	s, err := state.TransitionPhase(s, domain.PhaseDataCollection)
	if err != nil {
		return s, err
	}

	lookback := s.Config.LookbackDays
	if lookback <= 0 {
		lookback = 90
	}
	since := time.Now().UTC().AddDate(0, 0, -lookback)

	txs, err := o.repo.GetTransactionsByEntity(ctx, s.EntityID, since)
	if err != nil {
		s = state.RecordError(s, domain.ErrKindToolFailure,
			fmt.Sprintf("%s: %v", domain.ToolBatchData, err))
		txs = nil
	}
	if len(txs) == 0 {
		s = state.RecordError(s, domain.ErrKindInsufficientData,
			"no transactions inside the lookback window")
	}

	s = state.ApplyToolResult(s, domain.ToolBatchData, map[string]any{
		"transaction_count": len(txs),
		"lookback_days":     lookback,
		"since":             since.Format(time.RFC3339),
	})

	return state.TransitionPhase(s, domain.PhaseToolExecution)
}

// stepResult joins one agent invocation with its outcome.
type stepResult struct {
	domain string
	report *domain.AgentReport
	err    error
}

// step fans out one routing decision. Parallel tiers launch every
// remaining in-scope domain at once; sequential tiers run only the
// decision's next domain. Each call carries the tier timeout, and a
// timed-out call fails alone without blocking its siblings.
func (o *Orchestrator) step(ctx context.Context, s *domain.InvestigationState, d domain.RoutingDecision) []stepResult {
	var targets []string
	if d.Parallel {
		for _, dom := range d.Domains {
			if !s.HasDomain(dom) {
				targets = append(targets, dom)
			}
		}
		// Above the tool target band, stop fanning out: one domain per
		// step keeps the count from overshooting toward the hard ceiling.
		if tt := s.Config.ToolTargetMax; tt > 0 && len(s.ToolsUsed) >= tt && len(targets) > 1 {
			targets = targets[:1]
		}
	} else if d.NextDomain != "" {
		targets = []string{d.NextDomain}
	}
	if len(targets) == 0 {
		return nil
	}

	req := domain.AgentRequest{EntityID: s.EntityID, EntityType: s.EntityType, State: s}
	out := make(chan stepResult, len(targets))
	for _, dom := range targets {
		go func(dom string) {
			agent, ok := o.agents[dom]
			if !ok {
				out <- stepResult{domain: dom, err: fmt.Errorf("no agent registered for domain %s", dom)}
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, d.Timeout)
			defer cancel()
			report, err := agent.Investigate(callCtx, req)
			if err == nil && report == nil {
				err = fmt.Errorf("agent %s returned no report", dom)
			}
			out <- stepResult{domain: dom, report: report, err: err}
		}(dom)
	}

	results := make([]stepResult, 0, len(targets))
	for range targets {
		r := <-out
		if r.err != nil {
			o.logger.Warn("domain agent failed",
				"investigation_id", s.InvestigationID, "domain", r.domain, "error", r.err)
		}
		results = append(results, r)
	}
	return results
}

// recordWrites attaches the step's raw agent output to the current
// checkpoint as pending writes, before any of it is folded into state.
// A write failure is non-fatal; the fold proceeds regardless.
func (o *Orchestrator) recordWrites(ctx context.Context, s *domain.InvestigationState, checkpointID string, results []stepResult) {
	if checkpointID == "" || len(results) == 0 {
		return
	}
	taskID := fmt.Sprintf("loop-%03d", s.OrchestratorLoops)
	writes := make([]domain.PendingWrite, 0, len(results))
	for i, r := range results {
		if r.err != nil || r.report == nil {
			continue
		}
		value, err := json.Marshal(r.report)
		if err != nil {
			continue
		}
		writes = append(writes, domain.PendingWrite{
			TaskID:   taskID,
			Channel:  r.domain,
			Type:     checkpoint.TypeJSON,
			Value:    value,
			Sequence: i,
		})
	}
	if len(writes) == 0 {
		return
	}
	key := domain.CheckpointKey{
		Namespace:    o.namespace,
		ThreadID:     s.InvestigationID,
		SubNamespace: SubNamespaceMain,
		CheckpointID: checkpointID,
	}
	if err := o.store.PutWrites(ctx, key, writes); err != nil {
		o.logger.Warn("pending writes not persisted",
			"investigation_id", s.InvestigationID, "error", err)
	}
}

// snapshot persists the current state and returns the new checkpoint ID
// for parent linking. Store failures are absorbed: the investigation keeps
// running with degraded durability.
func (o *Orchestrator) snapshot(ctx context.Context, s *domain.InvestigationState, parentID string) string {
	payload, typeTag, err := checkpoint.MarshalState(s)
	if err != nil {
		o.logger.Error("state serialization failed, skipping checkpoint",
			"investigation_id", s.InvestigationID, "error", err)
		return parentID
	}
	ck := &domain.Checkpoint{
		Key: domain.CheckpointKey{
			Namespace:    o.namespace,
			ThreadID:     s.InvestigationID,
			SubNamespace: SubNamespaceMain,
			CheckpointID: checkpoint.NewID(),
		},
		ParentCheckpointID: parentID,
		Type:               typeTag,
		Payload:            payload,
		CreatedAt:          time.Now().UTC(),
	}
	if _, err := o.store.Put(ctx, ck); err != nil {
		o.logger.Warn("checkpoint write failed",
			"investigation_id", s.InvestigationID, "error", err)
		return parentID
	}
	return ck.Key.CheckpointID
}

// finalize runs the summary phase: final composite scoring over the
// entity's history, verdict persistence and publication, and the terminal
// transition. Forced terminations cap the reported confidence at 0.5.
func (o *Orchestrator) finalize(ctx context.Context, s *domain.InvestigationState, parentID string) (*domain.InvestigationState, error) {
	if s.Terminal() {
		return s, nil
	}

	if next, err := state.TransitionPhase(s, domain.PhaseSummary); err == nil {
		s = next
	}

	if o.forced(s) {
		s = state.CapConfidence(s, 0.5)
	}

	assessment, err := o.finalScore(ctx, s)
	if err != nil {
		s = state.RecordError(s, domain.ErrKindToolFailure,
			fmt.Sprintf("final scoring: %v", err))
	} else if assessment != nil {
		s = state.ApplyAssessment(s, assessment)
	}

	if next, terr := state.TransitionPhase(s, domain.PhaseComplete); terr == nil {
		s = next
	}

	o.publishProgress(s)
	o.publishVerdict(s, assessment)
	o.snapshot(ctx, s, parentID)

	return s, nil
}

// forced reports whether the loop hit a safety limit rather than the
// natural-completion predicate.
func (o *Orchestrator) forced(s *domain.InvestigationState) bool {
	if state.IsComplete(s) {
		return false
	}
	maxLoops, maxDomains := s.Config.MaxLoops, s.Config.MaxDomains
	if maxLoops <= 0 {
		maxLoops = 6
	}
	if maxDomains <= 0 {
		maxDomains = 4
	}
	if max := s.Config.MaxTools; max > 0 && len(s.ToolsUsed) >= max {
		return true
	}
	return s.OrchestratorLoops >= maxLoops || len(s.DomainsCompleted) >= maxDomains
}

// finalScore produces and persists the terminal assessment over the
// entity's full lookback history.
func (o *Orchestrator) finalScore(ctx context.Context, s *domain.InvestigationState) (*domain.RiskAssessment, error) {
	lookback := s.Config.LookbackDays
	if lookback <= 0 {
		lookback = 90
	}
	since := time.Now().UTC().AddDate(0, 0, -lookback)
	txs, err := o.repo.GetTransactionsByEntity(ctx, s.EntityID, since)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	assessment, err := o.scorer.Score(ctx, txs, s.EntityID, s.EntityType, s.EntityType == domain.EntityMerchant)
	if err != nil {
		return nil, err
	}

	if err := o.repo.SaveAssessment(ctx, assessment); err != nil {
		o.logger.Warn("assessment not persisted",
			"investigation_id", s.InvestigationID, "error", err)
	}
	return assessment, nil
}

// abort handles operator cancellation and unrecoverable setup errors: the
// externally-injected transition into the errors phase. Accumulated
// findings stay queryable through the final checkpoint.
func (o *Orchestrator) abort(s *domain.InvestigationState, parentID string, cause error) (*domain.InvestigationState, error) {
	s = state.RecordError(s, domain.ErrKindToolFailure, cause.Error())
	if next, err := state.TransitionPhase(s, domain.PhaseErrors); err == nil {
		s = next
	}

	// The parent context may already be cancelled; give the terminal
	// checkpoint its own short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.snapshot(ctx, s, parentID)
	o.publishProgress(s)

	o.logger.Warn("investigation aborted",
		"investigation_id", s.InvestigationID, "phase", s.Phase, "cause", cause)
	return s, cause
}

func (o *Orchestrator) publishProgress(s *domain.InvestigationState) {
	ev := domain.ProgressEvent{
		InvestigationID:  s.InvestigationID,
		Phase:            s.Phase,
		DomainsCompleted: len(s.DomainsCompleted),
		RiskScore:        s.RiskScore,
		Timestamp:        time.Now().UnixMilli(),
	}
	o.publish(domain.TopicProgress, ev)
}

func (o *Orchestrator) publishVerdict(s *domain.InvestigationState, a *domain.RiskAssessment) {
	if a == nil {
		return
	}
	ev := domain.VerdictEvent{
		InvestigationID: s.InvestigationID,
		EntityID:        s.EntityID,
		RiskLevel:       a.RiskLevel,
		RiskScore:       a.OverallRiskScore,
		Confidence:      s.ConfidenceScore,
		Flagged:         a.IsFlagged,
		Timestamp:       time.Now().UnixMilli(),
	}
	o.publish(domain.TopicVerdict, ev)
	if a.IsFlagged {
		o.publish(domain.TopicAlert, ev)
	}
}

// publish is fire-and-forget: the monitoring stream never blocks or fails
// an investigation.
func (o *Orchestrator) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.bus.Publish(ctx, o.namespace, topic, data); err != nil {
		o.logger.Debug("event publish failed", "topic", topic, "error", err)
	}
}
