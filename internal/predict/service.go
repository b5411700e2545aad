// Package predict trains the emissions model once at startup and scores
// uploaded measurement files against it.
package predict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lox/emissionwatch/internal/evaluate"
	"github.com/lox/emissionwatch/internal/features"
	"github.com/lox/emissionwatch/internal/ingest"
	"github.com/lox/emissionwatch/internal/metrics"
	"github.com/lox/emissionwatch/internal/models"
	"github.com/lox/emissionwatch/internal/regress"
	"github.com/lox/emissionwatch/internal/threshold"
)

const DefaultLabel = "Uploaded file"

type State int

const (
	StateUntrained State = iota
	StateTrained
)

func (s State) String() string {
	if s == StateTrained {
		return "trained"
	}
	return "untrained"
}

// Fetcher resolves a training data location to a readable local file.
// cleanup must be called once the file is no longer needed.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (path string, cleanup func(), err error)
}

type Options struct {
	TrainingPath string
	Engine       *threshold.Engine
	Params       regress.Params
	TextBuckets  int
	Label        string
	Fetcher      Fetcher
	FetchTimeout time.Duration
}

type trainedModel struct {
	encoder *features.Encoder
	codes   *features.OneHot
	model   *regress.Model
	summary models.TrainingSummary
}

func parameterCodeStep(enc *features.Encoder) *features.OneHot {
	for _, step := range enc.Steps() {
		if o, ok := step.(*features.OneHot); ok && o.Name() == features.ColParameterCode {
			return o
		}
	}
	return nil
}

// Service is the prediction orchestrator. It is Untrained until the startup
// training run succeeds and never leaves Trained afterwards.
type Service struct {
	opts     Options
	once     sync.Once
	trained  atomic.Pointer[trainedModel]
	trainErr error
}

// New builds a service and runs training against opts.TrainingPath. Training
// failures are logged and leave the service Untrained; see TrainErr.
func New(opts Options) *Service {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.Engine == nil {
		opts.Engine = threshold.New(nil)
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 2 * time.Minute
	}
	s := &Service{opts: opts}
	s.ensureTrained()
	return s
}

func (s *Service) ensureTrained() {
	s.once.Do(func() {
		start := time.Now()
		tm, err := s.train()
		if err != nil {
			s.trainErr = err
			metrics.TrainingRunsTotal.WithLabelValues("error").Inc()
			metrics.ModelTrained.Set(0)
			log.Printf("predict: training failed, service untrained: %v", err)
			return
		}
		tm.summary.Duration = time.Since(start)
		s.trained.Store(tm)
		metrics.TrainingRunsTotal.WithLabelValues("ok").Inc()
		metrics.TrainingDuration.Observe(tm.summary.Duration.Seconds())
		metrics.ModelTrained.Set(1)
		log.Printf("predict: trained on %d rows (%d skipped), %d features, %d trees in %s; MSE=%.4f R2=%.4f",
			tm.summary.Rows, tm.summary.SkippedRows, tm.summary.FeatureWidth, tm.summary.Trees,
			tm.summary.Duration.Round(time.Millisecond), tm.summary.MSE, tm.summary.R2)
	})
}

func (s *Service) train() (*trainedModel, error) {
	location := s.opts.TrainingPath
	if location == "" {
		return nil, &TrainingDataError{Reason: "no training data configured"}
	}

	path := location
	if s.opts.Fetcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
		defer cancel()
		local, cleanup, err := s.opts.Fetcher.Fetch(ctx, location)
		if err != nil {
			return nil, &TrainingDataError{Path: location, Reason: "fetch failed", Err: err}
		}
		defer cleanup()
		path = local
	}

	records, _, err := ingest.LoadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &TrainingDataError{Path: location, Reason: "file not found", Err: err}
		}
		return nil, fmt.Errorf("load training data: %w", err)
	}

	usable := records[:0:0]
	for i := range records {
		if ingest.Trainable(&records[i]) {
			usable = append(usable, records[i])
		}
	}
	if len(usable) == 0 {
		return nil, &TrainingDataError{Path: location, Reason: fmt.Sprintf("no usable rows (%d read)", len(records))}
	}

	enc, err := features.Fit(usable, features.Options{TextBuckets: s.opts.TextBuckets})
	if err != nil {
		return nil, fmt.Errorf("fit encoder: %w", err)
	}
	x := enc.Matrix(usable)
	y := make([]float64, len(usable))
	actual := make([]sql.NullFloat64, len(usable))
	for i := range usable {
		y[i] = usable[i].Value.Float64
		actual[i] = usable[i].Value
	}

	model, err := regress.Fit(x, y, s.opts.Params)
	if err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}
	pred, err := model.PredictMatrix(x)
	if err != nil {
		return nil, fmt.Errorf("score training data: %w", err)
	}
	m := evaluate.Evaluate(pred, actual)

	codes := parameterCodeStep(enc)
	var vocab []string
	if codes != nil {
		vocab = codes.Vocabulary()
	}

	return &trainedModel{
		encoder: enc,
		codes:   codes,
		model:   model,
		summary: models.TrainingSummary{
			TrainedAt:      time.Now().UTC(),
			Source:         location,
			Rows:           len(usable),
			SkippedRows:    len(records) - len(usable),
			FeatureWidth:   enc.Width(),
			FeatureNames:   enc.Names(),
			ParameterCodes: vocab,
			Trees:          model.NumTrees(),
			Leaves:         model.NumLeaves(),
			MSE:            m.MSE,
			R2:             m.R2,
		},
	}, nil
}

func (s *Service) State() State {
	if s.trained.Load() != nil {
		return StateTrained
	}
	return StateUntrained
}

// TrainErr returns the error that left the service Untrained, if any.
func (s *Service) TrainErr() error { return s.trainErr }

// Summary describes the trained model. ok is false while Untrained.
func (s *Service) Summary() (models.TrainingSummary, bool) {
	tm := s.trained.Load()
	if tm == nil {
		return models.TrainingSummary{}, false
	}
	return tm.summary, true
}

func (s *Service) Engine() *threshold.Engine { return s.opts.Engine }

// UploadAndPredict loads the measurement file at path and scores every row.
// The file is only read; removing it is the caller's job.
func (s *Service) UploadAndPredict(path string) (*models.PredictionResult, error) {
	tm := s.trained.Load()
	if tm == nil {
		metrics.PredictionsTotal.WithLabelValues("untrained").Inc()
		return nil, ErrModelNotTrained
	}

	records, _, err := ingest.LoadFile(path)
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load upload: %w", err)
	}
	return s.score(tm, records)
}

// PredictRecords scores records that have already been loaded.
func (s *Service) PredictRecords(records []models.MeasurementRecord) (*models.PredictionResult, error) {
	tm := s.trained.Load()
	if tm == nil {
		metrics.PredictionsTotal.WithLabelValues("untrained").Inc()
		return nil, ErrModelNotTrained
	}
	return s.score(tm, records)
}

func (s *Service) score(tm *trainedModel, records []models.MeasurementRecord) (*models.PredictionResult, error) {
	start := time.Now()
	defer func() { metrics.PredictionLatency.Observe(time.Since(start).Seconds()) }()

	if tm.codes != nil {
		unseen := 0
		for i := range records {
			if !tm.codes.Known(records[i].ParameterCode) {
				unseen++
			}
		}
		if unseen > 0 {
			log.Printf("predict: %d of %d rows have parameter codes not seen in training", unseen, len(records))
		}
	}

	var predicted []float64
	if len(records) > 0 {
		var err error
		predicted, err = tm.model.PredictMatrix(tm.encoder.Matrix(records))
		if err != nil {
			metrics.PredictionsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("score rows: %w", err)
		}
	}
	return s.annotate(records, predicted)
}

// annotate pairs row i with prediction i, evaluates against any actual
// values present and applies the threshold rules.
func (s *Service) annotate(records []models.MeasurementRecord, predicted []float64) (*models.PredictionResult, error) {
	if len(predicted) != len(records) {
		metrics.PredictionsTotal.WithLabelValues("error").Inc()
		return nil, &RowCountMismatchError{Rows: len(records), Predictions: len(predicted)}
	}

	actual := make([]sql.NullFloat64, len(records))
	for i := range records {
		actual[i] = records[i].Value
	}
	m := evaluate.Evaluate(predicted, actual)

	engine := s.opts.Engine
	result := &models.PredictionResult{
		Label:         s.opts.Label,
		MSE:           m.MSE,
		R2:            m.R2,
		EvaluatedRows: m.Count,
		Rows:          make([]models.PredictionRow, len(records)),
	}
	for i := range records {
		rec := &records[i]
		limit, warning := engine.Classify(rec.ParameterCode, predicted[i])
		row := models.PredictionRow{
			ParameterCode:        rec.ParameterCode,
			ParameterDisplayName: engine.DisplayName(rec.ParameterCode),
			MeasurementDate:      rec.MeasurementDate,
			PredictedValue:       predicted[i],
			Unit:                 rec.Unit,
			Threshold:            limit,
			IsWarning:            warning,
		}
		if v := rec.Value; v.Valid && !math.IsNaN(v.Float64) && !math.IsInf(v.Float64, 0) {
			actualValue := v.Float64
			row.ActualValue = &actualValue
		}
		if warning {
			result.WarningCount++
			metrics.ThresholdWarnings.WithLabelValues(threshold.Normalize(rec.ParameterCode)).Inc()
		}
		result.Rows[i] = row
	}

	metrics.PredictionsTotal.WithLabelValues("ok").Inc()
	metrics.PredictedRows.Add(float64(len(records)))
	return result, nil
}
