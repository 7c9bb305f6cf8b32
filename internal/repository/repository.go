// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, entity_id, amount, currency, merchant_name,
			device_id, ip_address, country, home_country,
			cross_border, prepaid, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.EntityID, tx.Amount, tx.Currency, tx.MerchantName,
		tx.DeviceID, tx.IPAddress, tx.Country, tx.HomeCountry,
		boolToInt(tx.CrossBorder), boolToInt(tx.Prepaid),
		tx.Timestamp, tx.CreatedAt, string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, entity_id, amount, currency, merchant_name,
			   device_id, ip_address, country, home_country,
			   cross_border, prepaid, timestamp, created_at, metadata
		FROM transactions
		WHERE id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// GetTransactionsByEntity retrieves an entity's transactions since a cutoff,
// most recent first.
func (r *SQLRepository) GetTransactionsByEntity(ctx context.Context, entityID string, since time.Time) ([]*domain.Transaction, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, entity_id, amount, currency, merchant_name,
			   device_id, ip_address, country, home_country,
			   cross_border, prepaid, timestamp, created_at, metadata
		FROM transactions
		WHERE entity_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), entityID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// SaveAssessment stores a risk assessment verdict.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	if a == nil || a.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}

	perItem, _ := json.Marshal(a.PerItemScores)
	anomalies, _ := json.Marshal(a.Anomalies)

	query := `
		INSERT INTO assessments (
			entity_id, entity_type, overall_risk_score, risk_level,
			per_item_scores, anomalies, threshold_used, is_flagged,
			sample_size, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.EntityID, string(a.EntityType), a.OverallRiskScore, string(a.RiskLevel),
		string(perItem), string(anomalies), a.ThresholdUsed, boolToInt(a.IsFlagged),
		a.SampleSize, a.GeneratedAt,
	)
	return err
}

// GetAssessment retrieves the most recent assessment for an entity.
func (r *SQLRepository) GetAssessment(ctx context.Context, entityID string) (*domain.RiskAssessment, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}

	query := `
		SELECT entity_id, entity_type, overall_risk_score, risk_level,
			   per_item_scores, anomalies, threshold_used, is_flagged,
			   sample_size, generated_at
		FROM assessments
		WHERE entity_id = ?
		ORDER BY generated_at DESC
		LIMIT 1
	`

	var (
		a         domain.RiskAssessment
		perItem   string
		anomalies string
		flagged   int
	)

	err := r.db.QueryRowContext(ctx, r.rebind(query), entityID).Scan(
		&a.EntityID, &a.EntityType, &a.OverallRiskScore, &a.RiskLevel,
		&perItem, &anomalies, &a.ThresholdUsed, &flagged,
		&a.SampleSize, &a.GeneratedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.IsFlagged = flagged == 1
	if perItem != "" {
		json.Unmarshal([]byte(perItem), &a.PerItemScores)
	}
	if anomalies != "" {
		json.Unmarshal([]byte(anomalies), &a.Anomalies)
	}

	return &a, nil
}

// CountFlaggedAssessments counts an entity's prior flagged verdicts.
func (r *SQLRepository) CountFlaggedAssessments(ctx context.Context, entityID string) (int, error) {
	if entityID == "" {
		return 0, fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM assessments WHERE entity_id = ? AND is_flagged = 1`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), entityID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SaveRuleConfig stores a rule configuration version.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight,
		boolToInt(rule.Enabled), now, now,
	)
	return err
}

// ListRuleConfigs retrieves all active rule configurations.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var bands string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &cfg.Bands)
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanner lets scanTransaction work with both Row and Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var (
		tx          domain.Transaction
		crossBorder int
		prepaid     int
		metadata    string
	)

	if err := s.Scan(
		&tx.ID, &tx.EntityID, &tx.Amount, &tx.Currency, &tx.MerchantName,
		&tx.DeviceID, &tx.IPAddress, &tx.Country, &tx.HomeCountry,
		&crossBorder, &prepaid, &tx.Timestamp, &tx.CreatedAt, &metadata,
	); err != nil {
		return nil, err
	}

	tx.CrossBorder = crossBorder == 1
	tx.Prepaid = prepaid == 1
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
