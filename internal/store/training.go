package store

import (
	"database/sql"
	"time"

	"github.com/lox/emissionwatch/internal/models"
)

// TrainingRun is an audit record of one model training attempt.
type TrainingRun struct {
	ID           int64
	StartedAt    time.Time
	Source       string
	Success      bool
	RowsUsed     sql.NullInt64
	RowsSkipped  sql.NullInt64
	FeatureWidth sql.NullInt64
	Trees        sql.NullInt64
	MSE          sql.NullFloat64
	R2           sql.NullFloat64
	DurationMs   sql.NullInt64
	ErrorMessage sql.NullString
}

// RecordTraining stores the outcome of a training attempt. A nil summary
// with a non-nil trainErr records a failure.
func (s *Store) RecordTraining(source string, sum *models.TrainingSummary, trainErr error) (int64, error) {
	run := TrainingRun{
		StartedAt: s.now(),
		Source:    source,
		Success:   trainErr == nil && sum != nil,
	}
	if sum != nil {
		run.StartedAt = sum.TrainedAt
		run.RowsUsed = sql.NullInt64{Int64: int64(sum.Rows), Valid: true}
		run.RowsSkipped = sql.NullInt64{Int64: int64(sum.SkippedRows), Valid: true}
		run.FeatureWidth = sql.NullInt64{Int64: int64(sum.FeatureWidth), Valid: true}
		run.Trees = sql.NullInt64{Int64: int64(sum.Trees), Valid: true}
		run.MSE = sql.NullFloat64{Float64: sum.MSE, Valid: true}
		run.R2 = sql.NullFloat64{Float64: sum.R2, Valid: true}
		run.DurationMs = sql.NullInt64{Int64: sum.Duration.Milliseconds(), Valid: true}
	}
	if trainErr != nil {
		run.ErrorMessage = sql.NullString{String: trainErr.Error(), Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO training_runs (started_at, source, success, rows_used, rows_skipped,
		    feature_width, trees, mse, r2, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.StartedAt, run.Source, run.Success, run.RowsUsed, run.RowsSkipped,
		run.FeatureWidth, run.Trees, run.MSE, run.R2, run.DurationMs, run.ErrorMessage)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// RecentTrainingRuns returns the latest training attempts, newest first.
func (s *Store) RecentTrainingRuns(limit int) ([]TrainingRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, source, success, rows_used, rows_skipped, feature_width,
		       trees, mse, r2, duration_ms, error_message
		FROM training_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TrainingRun
	for rows.Next() {
		var r TrainingRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.Source, &r.Success, &r.RowsUsed, &r.RowsSkipped,
			&r.FeatureWidth, &r.Trees, &r.MSE, &r.R2, &r.DurationMs, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
