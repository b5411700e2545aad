package api

import (
	"time"

	"github.com/lox/emissionwatch/internal/models"
	"github.com/lox/emissionwatch/internal/store"
)

// IndexData backs the upload page.
type IndexData struct {
	Trained     bool
	Summary     models.TrainingSummary
	TrainError  string
	Thresholds  []ThresholdView
	RecentRuns  []models.PredictionRun
	Training    []store.TrainingRun
	MaxUploadMB int64
	Error       string
}

type ThresholdView struct {
	Code        string
	DisplayName string
	Limit       float64
}

// ResultData backs the result page, for fresh uploads and stored runs.
type ResultData struct {
	RunID      string
	SourceName string
	Result     *models.PredictionResult
	Summary    string
	Generated  bool
	// UploadURL links to the archived input file, when one was kept.
	UploadURL string
}

func uploadURL(run *models.PredictionRun) string {
	if run == nil || !run.PayloadHash.Valid || run.PayloadHash.String == "" {
		return ""
	}
	return "/runs/" + run.ID + "/upload"
}

type RunsData struct {
	Runs   []models.PredictionRun
	Filter store.RunFilter
}

// HealthStatus is the /health response.
type HealthStatus struct {
	Status           string                  `json:"status"`
	Model            string                  `json:"model"`
	Training         *models.TrainingSummary `json:"training,omitempty"`
	TrainingError    string                  `json:"training_error,omitempty"`
	TrainingHistory  []trainingRunJSON       `json:"training_history"`
	Thresholds       map[string]float64      `json:"thresholds"`
	MigrationVersion int                     `json:"migration_version"`
	Errors           []string                `json:"errors,omitempty"`
}

// PredictResponse is the /api/predict response.
type PredictResponse struct {
	RunID   string                   `json:"run_id,omitempty"`
	Summary string                   `json:"summary"`
	Result  *models.PredictionResult `json:"result"`
}

type runJSON struct {
	ID          string                  `json:"id"`
	CreatedAt   time.Time               `json:"created_at"`
	SourceName  string                  `json:"source_name"`
	PayloadHash string                  `json:"payload_hash,omitempty"`
	RowCount    int                     `json:"row_count"`
	Result      models.PredictionResult `json:"result"`
}

func toRunJSON(run *models.PredictionRun) runJSON {
	return runJSON{
		ID:          run.ID,
		CreatedAt:   run.CreatedAt,
		SourceName:  run.SourceName,
		PayloadHash: run.PayloadHash.String,
		RowCount:    run.RowCount,
		Result:      run.Result,
	}
}

type trainingRunJSON struct {
	StartedAt  time.Time `json:"started_at"`
	Source     string    `json:"source"`
	Success    bool      `json:"success"`
	Rows       *int64    `json:"rows,omitempty"`
	MSE        *float64  `json:"mse,omitempty"`
	R2         *float64  `json:"r2,omitempty"`
	DurationMs *int64    `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func toTrainingRunJSON(run store.TrainingRun) trainingRunJSON {
	out := trainingRunJSON{
		StartedAt: run.StartedAt,
		Source:    run.Source,
		Success:   run.Success,
		Error:     run.ErrorMessage.String,
	}
	if run.RowsUsed.Valid {
		out.Rows = &run.RowsUsed.Int64
	}
	if run.MSE.Valid {
		out.MSE = &run.MSE.Float64
	}
	if run.R2.Valid {
		out.R2 = &run.R2.Float64
	}
	if run.DurationMs.Valid {
		out.DurationMs = &run.DurationMs.Int64
	}
	return out
}

type errorResponse struct {
	Error string `json:"error"`
}
