// Package store provides the persistence adapters the engine treats as
// opaque collaborators: a Postgres execution archive, a Redis execution
// store, and the definition store with merge-patch updates.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyzr/ragflow/common/config"
	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/workflow"
)

// PostgresArchive persists finished executions to Postgres. Implements
// providers.Persistence; the engine fires and forgets.
type PostgresArchive struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresArchive connects a pgx pool and verifies it
func NewPostgresArchive(ctx context.Context, cfg *config.Config, log *logger.Logger) (*PostgresArchive, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("execution archive connected", "host", cfg.Database.Host, "db", cfg.Database.Database)

	return &PostgresArchive{pool: pool, log: log}, nil
}

// SaveExecution inserts one finished execution row
func (a *PostgresArchive) SaveExecution(ctx context.Context, ec *workflow.ExecutionContext, tenantID, executorID string, debug, parallel bool) error {
	stepsJSON, err := json.Marshal(ec.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	outputJSON, err := json.Marshal(ec.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	inputJSON, err := json.Marshal(ec.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	query := `
		INSERT INTO execution (execution_id, workflow_id, tenant_id, executor_id, status,
			start_time, end_time, input_data, output_data, steps, error, debug, parallel)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (execution_id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			output_data = EXCLUDED.output_data,
			steps = EXCLUDED.steps,
			error = EXCLUDED.error
	`

	_, err = a.pool.Exec(ctx, query,
		ec.ExecutionID,
		ec.WorkflowID,
		tenantID,
		executorID,
		ec.Status,
		ec.StartTime,
		ec.EndTime,
		inputJSON,
		outputJSON,
		stepsJSON,
		ec.Error,
		debug,
		parallel,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// Close closes the connection pool
func (a *PostgresArchive) Close() {
	a.pool.Close()
}
