package models

import (
	"database/sql"
	"time"
)

// MeasurementRecord is one row of an emissions measurement file.
type MeasurementRecord struct {
	Line             int // 1-based line in the source file
	ResultID         int64
	ApprovedAt       string
	EmissionSourceID float64
	EntryDate        string
	IsApproved       bool
	MeasurementDate  time.Time
	ParameterCode    string // "TS01".."TS08"
	Remark           string
	Unit             string
	Value            sql.NullFloat64
	Type             string
}

type PredictionRow struct {
	ParameterCode        string    `json:"parameter_code"`
	ParameterDisplayName string    `json:"parameter_display_name"`
	MeasurementDate      time.Time `json:"measurement_date"`
	PredictedValue       float64   `json:"predicted_value"`
	Unit                 string    `json:"unit"`
	ActualValue          *float64  `json:"actual_value"`
	Threshold            *float64  `json:"threshold"`
	IsWarning            bool      `json:"is_warning"`
}

type PredictionResult struct {
	Label         string          `json:"label"`
	MSE           float64         `json:"mse"`
	R2            float64         `json:"r2"`
	EvaluatedRows int             `json:"evaluated_rows"`
	WarningCount  int             `json:"warning_count"`
	Rows          []PredictionRow `json:"rows"`
}

// TrainingSummary describes the model trained at startup.
type TrainingSummary struct {
	TrainedAt    time.Time `json:"trained_at"`
	Source       string    `json:"source"`
	Rows         int       `json:"rows"`
	SkippedRows  int       `json:"skipped_rows"`
	FeatureWidth int       `json:"feature_width"`
	// FeatureNames labels each encoded column, in layout order.
	FeatureNames []string `json:"feature_names"`
	// ParameterCodes lists the codes seen in training, normalised.
	ParameterCodes []string      `json:"parameter_codes"`
	Trees          int           `json:"trees"`
	Leaves         int           `json:"leaves"`
	MSE            float64       `json:"mse"`
	R2             float64       `json:"r2"`
	Duration       time.Duration `json:"duration"`
}

// PredictionRun is a stored prediction result.
type PredictionRun struct {
	ID          string
	CreatedAt   time.Time
	SourceName  string
	PayloadHash sql.NullString
	RowCount    int
	// Result.Rows is only populated when a run is loaded individually.
	Result PredictionResult
}
