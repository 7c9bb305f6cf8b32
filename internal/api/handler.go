package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/checkpoint"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	store   domain.CheckpointStore
	bus     domain.EventBus
	manager *orchestrator.Manager
	scorer  orchestrator.Scorer
	engine  *rules.Engine

	namespace string
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, store domain.CheckpointStore, bus domain.EventBus, manager *orchestrator.Manager, scorer orchestrator.Scorer, engine *rules.Engine, namespace, version string) *Handler {
	return &Handler{
		repo:      repo,
		store:     store,
		bus:       bus,
		manager:   manager,
		scorer:    scorer,
		engine:    engine,
		namespace: namespace,
		version:   version,
	}
}

// StartInvestigationRequest is the request body for POST /investigations.
// A non-empty investigationId resumes that thread from its latest
// checkpoint.
type StartInvestigationRequest struct {
	InvestigationID string `json:"investigationId,omitempty"`
	EntityID        string `json:"entityId"`
	EntityType      string `json:"entityType"`
	Priority        string `json:"priority,omitempty"`
}

var validEntityTypes = map[domain.EntityType]bool{
	domain.EntityUser:        true,
	domain.EntityDevice:      true,
	domain.EntityIP:          true,
	domain.EntityTransaction: true,
	domain.EntityMerchant:    true,
}

// StartInvestigation handles POST /investigations. The investigation runs
// in the background; the response carries the ID to poll.
func (h *Handler) StartInvestigation(w http.ResponseWriter, r *http.Request) {
	var req StartInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entityId is required",
		})
		return
	}
	entityType := domain.EntityType(req.EntityType)
	if !validEntityTypes[entityType] {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entityType must be one of user, device, ip, transaction, merchant",
		})
		return
	}

	id, err := h.manager.Start(orchestrator.StartRequest{
		InvestigationID: req.InvestigationID,
		EntityID:        req.EntityID,
		EntityType:      entityType,
		Priority:        req.Priority,
	})
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"investigationId": id,
		"status":          "running",
	})
}

// GetInvestigation handles GET /investigations/{id}: the latest
// checkpointed state for the thread, annotated with the manager's view
// when the investigation was started on this node.
func (h *Handler) GetInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	s, err := h.loadState(ctx, id)
	if err != nil {
		slog.Error("failed to load investigation", "id", id, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "checkpoint store unavailable",
		})
		return
	}
	if s == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "investigation not found",
		})
		return
	}

	resp := map[string]any{"state": s}
	if st, err := h.manager.Status(id); err == nil {
		resp["running"] = st.Running
		if st.Error != "" {
			resp["error"] = st.Error
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckpointSummary is one entry of GET /investigations/{id}/checkpoints.
// The state payload itself stays in the store; the listing is for audit
// and resume tooling.
type CheckpointSummary struct {
	CheckpointID       string    `json:"checkpointId"`
	ParentCheckpointID string    `json:"parentCheckpointId,omitempty"`
	Type               string    `json:"type"`
	CreatedAt          time.Time `json:"createdAt"`
	PendingWrites      int       `json:"pendingWrites"`
}

// ListCheckpoints handles GET /investigations/{id}/checkpoints with
// optional before and limit query parameters, most recent first.
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	before := r.URL.Query().Get("before")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	tuples, err := h.store.List(ctx, id, orchestrator.SubNamespaceMain, before, limit)
	if err != nil {
		slog.Error("failed to list checkpoints", "id", id, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "checkpoint store unavailable",
		})
		return
	}

	summaries := make([]CheckpointSummary, 0, len(tuples))
	for _, t := range tuples {
		summaries = append(summaries, CheckpointSummary{
			CheckpointID:       t.Checkpoint.Key.CheckpointID,
			ParentCheckpointID: t.Checkpoint.ParentCheckpointID,
			Type:               t.Checkpoint.Type,
			CreatedAt:          t.Checkpoint.CreatedAt,
			PendingWrites:      len(t.Writes),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investigationId": id,
		"checkpoints":     summaries,
	})
}

// CancelInvestigation handles POST /investigations/{id}/cancel.
func (h *Handler) CancelInvestigation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Cancel(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "investigation not found",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"investigationId": id,
		"status":          "cancelling",
	})
}

// ScoreRequest is the request body for POST /score: a synchronous
// composite assessment over the entity's transaction history, without
// running a full investigation.
type ScoreRequest struct {
	EntityID     string `json:"entityId"`
	EntityType   string `json:"entityType"`
	LookbackDays int    `json:"lookbackDays,omitempty"`
}

// Score handles POST /score.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entityId is required",
		})
		return
	}
	entityType := domain.EntityType(req.EntityType)
	if req.EntityType != "" && !validEntityTypes[entityType] {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown entityType",
		})
		return
	}
	if entityType == "" {
		entityType = domain.EntityUser
	}
	lookback := req.LookbackDays
	if lookback <= 0 {
		lookback = 90
	}

	since := time.Now().UTC().AddDate(0, 0, -lookback)
	txs, err := h.repo.GetTransactionsByEntity(ctx, req.EntityID, since)
	if err != nil {
		slog.Error("failed to load transactions", "entity_id", req.EntityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transaction history",
		})
		return
	}

	assessment, err := h.scorer.Score(ctx, txs, req.EntityID, entityType, entityType == domain.EntityMerchant)
	if err != nil {
		slog.Error("scoring failed", "entity_id", req.EntityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// GetAssessment handles GET /assessments/{entityId}: the latest persisted
// verdict for an entity.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID := chi.URLParam(r, "entityId")

	a, err := h.repo.GetAssessment(ctx, entityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no assessment for entity",
			})
			return
		}
		slog.Error("failed to get assessment", "entity_id", entityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load assessment",
		})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// IngestTransaction handles POST /transactions: feeds the history that
// agents and the scoring engine analyze.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if tx.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entityId is required",
		})
		return
	}
	if tx.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	if err := h.repo.SaveTransaction(ctx, &tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"txId":   tx.ID,
		"status": "stored",
	})
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transaction",
		})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns the heuristic rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule returns one loaded rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == id {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRule validates, persists, and hot-loads a heuristic rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg domain.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if cfg.ID == "" || cfg.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and expression are required",
		})
		return
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}

	if err := h.engine.ValidateRule(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule does not compile: " + err.Error(),
		})
		return
	}
	if err := h.repo.SaveRuleConfig(ctx, &cfg); err != nil {
		slog.Error("failed to save rule", "rule_id", cfg.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}
	if cfg.Enabled {
		if err := h.engine.LoadRule(&cfg); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "rule saved but failed to load: " + err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"ruleId": cfg.ID,
		"status": "created",
	})
}

// ReloadRules replaces the engine's rule set with the persisted enabled
// rules plus the built-ins.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stored, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list stored rules",
		})
		return
	}
	configs := append(rules.BuiltinRules(), stored...)
	if err := h.engine.ReloadRules(configs); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "reload failed: " + err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

// Health returns overall component health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// loadState decodes the latest checkpoint for a thread, treating an
// undecodable snapshot as absent.
func (h *Handler) loadState(ctx context.Context, id string) (*domain.InvestigationState, error) {
	s, err := checkpoint.LoadLatest(ctx, h.store, h.namespace, id, orchestrator.SubNamespaceMain)
	if errors.Is(err, checkpoint.ErrSerialization) {
		return nil, nil
	}
	return s, err
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
