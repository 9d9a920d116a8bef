// Package postgresql provides the PostgreSQL execution log store.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// LogStore implements persistence.ExecutionLogRepository on PostgreSQL.
type LogStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLogStore connects to databaseURL and runs pending migrations.
func NewLogStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*LogStore, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &LogStore{db: database, logger: logger}, nil
}

// Save upserts an execution record by id.
func (s *LogStore) Save(ctx context.Context, execCtx *models.ExecutionContext) error {
	inputsJSON, err := json.Marshal(execCtx.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}

	var outputsJSON []byte

	if execCtx.Outputs != nil {
		outputsJSON, err = json.Marshal(execCtx.Outputs)
		if err != nil {
			return fmt.Errorf("failed to marshal outputs: %w", err)
		}
	}

	var errorMessage sql.NullString
	if execCtx.Error != "" {
		errorMessage = sql.NullString{String: execCtx.Error, Valid: true}
	}

	query := `
		INSERT INTO execution_logs (
			id, automation_id, node_id, status, inputs, outputs, error_message, start_time, end_time
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			inputs = EXCLUDED.inputs,
			outputs = EXCLUDED.outputs,
			error_message = EXCLUDED.error_message,
			end_time = EXCLUDED.end_time
	`

	_, err = s.db.ExecContext(ctx, query,
		execCtx.ID,
		execCtx.AutomationID,
		execCtx.NodeID,
		execCtx.Status,
		inputsJSON,
		outputsJSON,
		errorMessage,
		execCtx.StartTime,
		execCtx.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution log: %w", err)
	}

	return nil
}

// FindByAutomation returns the records of an automation ordered by start time.
func (s *LogStore) FindByAutomation(ctx context.Context, automationID string) ([]*models.ExecutionContext, error) {
	query := `
		SELECT id, automation_id, node_id, status, inputs, outputs, error_message, start_time, end_time
		FROM execution_logs
		WHERE automation_id = $1
		ORDER BY start_time ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	logs := make([]*models.ExecutionContext, 0)

	for rows.Next() {
		execCtx, err := scanExecutionContext(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		logs = append(logs, execCtx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}

	return logs, nil
}

func (s *LogStore) DeleteByAutomation(ctx context.Context, automationID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM execution_logs WHERE automation_id = $1", automationID)
	if err != nil {
		return fmt.Errorf("failed to delete execution logs: %w", err)
	}

	return nil
}

func (s *LogStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM execution_logs")
	if err != nil {
		return fmt.Errorf("failed to clear execution logs: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *LogStore) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *LogStore) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func scanExecutionContext(scanner interface {
	Scan(dest ...any) error
}) (*models.ExecutionContext, error) {
	var (
		execCtx                 models.ExecutionContext
		inputsJSON, outputsJSON []byte
		errorMessage            sql.NullString
		endTime                 sql.NullTime
	)

	err := scanner.Scan(
		&execCtx.ID,
		&execCtx.AutomationID,
		&execCtx.NodeID,
		&execCtx.Status,
		&inputsJSON,
		&outputsJSON,
		&errorMessage,
		&execCtx.StartTime,
		&endTime,
	)
	if err != nil {
		return nil, err
	}

	execCtx.Inputs = make(map[string]any)

	if inputsJSON != nil {
		err := json.Unmarshal(inputsJSON, &execCtx.Inputs)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
		}
	}

	if outputsJSON != nil {
		err := json.Unmarshal(outputsJSON, &execCtx.Outputs)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal outputs: %w", err)
		}
	}

	execCtx.Error = errorMessage.String
	execCtx.StartTime = execCtx.StartTime.UTC()

	if endTime.Valid {
		end := endTime.Time.UTC()
		execCtx.EndTime = &end
	}

	return &execCtx, nil
}
