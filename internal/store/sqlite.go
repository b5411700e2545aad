package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/lox/emissionwatch/internal/models"
)

const defaultListLimit = 50

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SaveRun stores a prediction result and its rows under a new run ID.
func (s *Store) SaveRun(sourceName string, payloadHash string, res *models.PredictionResult) (*models.PredictionRun, error) {
	run := &models.PredictionRun{
		ID:         uuid.NewString(),
		CreatedAt:  s.now(),
		SourceName: sourceName,
		RowCount:   len(res.Rows),
		Result:     *res,
	}
	if payloadHash != "" {
		run.PayloadHash = sql.NullString{String: payloadHash, Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO prediction_runs
		(id, created_at, source_name, label, payload_hash, row_count, evaluated_rows, warning_count, mse, r2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.CreatedAt, run.SourceName, res.Label, run.PayloadHash, run.RowCount,
		res.EvaluatedRows, res.WarningCount, res.MSE, res.R2)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO prediction_rows
		(run_id, row_index, parameter_code, parameter_display_name, measurement_date,
		 predicted_value, unit, actual_value, threshold, is_warning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range res.Rows {
		var measured sql.NullTime
		if !r.MeasurementDate.IsZero() {
			measured = sql.NullTime{Time: r.MeasurementDate, Valid: true}
		}
		if _, err := stmt.Exec(run.ID, i, r.ParameterCode, r.ParameterDisplayName, measured,
			r.PredictedValue, r.Unit, nullFloat(r.ActualValue), nullFloat(r.Threshold), r.IsWarning); err != nil {
			return nil, fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}
	return run, nil
}

// GetRun loads a run with all of its rows. It returns nil when id is unknown.
func (s *Store) GetRun(id string) (*models.PredictionRun, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, source_name, label, payload_hash, row_count,
		       evaluated_rows, warning_count, mse, r2
		FROM prediction_runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT parameter_code, parameter_display_name, measurement_date, predicted_value,
		       unit, actual_value, threshold, is_warning
		FROM prediction_rows WHERE run_id = ?
		ORDER BY row_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get run rows: %w", err)
	}
	defer rows.Close()

	run.Result.Rows = make([]models.PredictionRow, 0, run.RowCount)
	for rows.Next() {
		var r models.PredictionRow
		var measured sql.NullTime
		var actual, limit sql.NullFloat64
		if err := rows.Scan(&r.ParameterCode, &r.ParameterDisplayName, &measured, &r.PredictedValue,
			&r.Unit, &actual, &limit, &r.IsWarning); err != nil {
			return nil, err
		}
		if measured.Valid {
			r.MeasurementDate = measured.Time
		}
		r.ActualValue = floatPtr(actual)
		r.Threshold = floatPtr(limit)
		run.Result.Rows = append(run.Result.Rows, r)
	}
	return run, rows.Err()
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Source       string
	Since        time.Time
	WarningsOnly bool
	Limit        int
}

// ListRuns returns run headers, newest first, without their rows.
func (s *Store) ListRuns(f RunFilter) ([]models.PredictionRun, error) {
	q := sq.Select("id", "created_at", "source_name", "label", "payload_hash", "row_count",
		"evaluated_rows", "warning_count", "mse", "r2").
		From("prediction_runs").
		OrderBy("created_at DESC", "id")

	if f.Source != "" {
		q = q.Where(sq.Eq{"source_name": f.Source})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": f.Since.UTC()})
	}
	if f.WarningsOnly {
		q = q.Where(sq.Gt{"warning_count": 0})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q = q.Limit(uint64(limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PredictionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.PredictionRun, error) {
	var run models.PredictionRun
	err := row.Scan(&run.ID, &run.CreatedAt, &run.SourceName, &run.Result.Label, &run.PayloadHash,
		&run.RowCount, &run.Result.EvaluatedRows, &run.Result.WarningCount, &run.Result.MSE, &run.Result.R2)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
