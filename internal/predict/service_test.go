package predict

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/emissionwatch/internal/ingest"
	"github.com/lox/emissionwatch/internal/models"
	"github.com/lox/emissionwatch/internal/regress"
	"github.com/lox/emissionwatch/internal/threshold"
)

const header = "ResultID,ApprovedAt,EmissionSourceID,EntryDate,IsApproved,MeasurementDate,ParameterCode,Remark,Unit,Value,Type\n"

var codeUnits = []struct {
	code, unit string
	base       float64
}{
	{"TS01", "m3/h", 1200},
	{"TS03", "C", 180},
	{"TS05", "mg/Nm3", 8},
	{"TS07", "mg/Nm3", 140},
}

func trainingCSV(rows int) string {
	var b strings.Builder
	b.WriteString(header)
	for i := 0; i < rows; i++ {
		cu := codeUnits[i%len(codeUnits)]
		source := 10 + i%3
		value := cu.base + float64(source)
		fmt.Fprintf(&b, "%d,2024-03-%02d 09:00:00,%d,2024-03-%02d 08:00,1,2024-03-%02d,%s,,%s,%.2f,auto\n",
			i+1, 1+i%27, source, 1+i%27, 1+i%27, cu.code, cu.unit, value)
	}
	return b.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testParams() regress.Params {
	return regress.Params{Trees: 30, Leaves: 8, MinSamplesLeaf: 2, LearningRate: 0.3}
}

func trainedService(t *testing.T, engine *threshold.Engine) *Service {
	t.Helper()
	s := New(Options{
		TrainingPath: writeFile(t, "train.csv", trainingCSV(80)),
		Engine:       engine,
		Params:       testParams(),
		TextBuckets:  16,
	})
	require.NoError(t, s.TrainErr())
	require.Equal(t, StateTrained, s.State())
	return s
}

func TestNew_Trains(t *testing.T) {
	s := trainedService(t, nil)

	sum, ok := s.Summary()
	require.True(t, ok)
	assert.Equal(t, 80, sum.Rows)
	assert.Equal(t, 0, sum.SkippedRows)
	assert.Equal(t, 30, sum.Trees)
	assert.Equal(t, 4+3+16+1, sum.FeatureWidth)
	assert.Equal(t, []string{"TS01", "TS03", "TS05", "TS07"}, sum.ParameterCodes)
	require.Len(t, sum.FeatureNames, sum.FeatureWidth)
	assert.Equal(t, "parameter_code=TS01", sum.FeatureNames[0])
	assert.Equal(t, "emission_source_id", sum.FeatureNames[sum.FeatureWidth-1])
	assert.GreaterOrEqual(t, sum.Leaves, sum.Trees)
	assert.Greater(t, sum.R2, 0.9)
	assert.False(t, sum.TrainedAt.IsZero())
}

func TestNew_SkipsRowsWithoutValue(t *testing.T) {
	csv := trainingCSV(40) + "99,,10,2024-03-01,1,2024-03-01,TS01,,m3/h,,auto\n"
	s := New(Options{TrainingPath: writeFile(t, "train.csv", csv), Params: testParams()})
	require.Equal(t, StateTrained, s.State())

	sum, _ := s.Summary()
	assert.Equal(t, 40, sum.Rows)
	assert.Equal(t, 1, sum.SkippedRows)
}

func TestNew_TrainingFailuresLeaveUntrained(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, []byte(header), 0o644))
	noValues := filepath.Join(dir, "novalues.csv")
	require.NoError(t, os.WriteFile(noValues, []byte(header+"1,,10,x,1,2024-03-01,TS01,,m3/h,,auto\n"), 0o644))
	badSchema := filepath.Join(dir, "schema.csv")
	require.NoError(t, os.WriteFile(badSchema, []byte("foo,bar\n1,2\n"), 0o644))

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"not configured", "", ErrTrainingData},
		{"missing file", filepath.Join(dir, "missing.csv"), ErrTrainingData},
		{"header only", empty, ErrTrainingData},
		{"no usable values", noValues, ErrTrainingData},
		{"schema error", badSchema, ingest.ErrSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{TrainingPath: tt.path, Params: testParams()})
			assert.Equal(t, StateUntrained, s.State())
			assert.ErrorIs(t, s.TrainErr(), tt.wantErr)

			_, ok := s.Summary()
			assert.False(t, ok)

			_, err := s.UploadAndPredict(empty)
			assert.ErrorIs(t, err, ErrModelNotTrained)
			_, err = s.PredictRecords(nil)
			assert.ErrorIs(t, err, ErrModelNotTrained)
		})
	}
}

func TestUploadAndPredict_RowCount(t *testing.T) {
	s := trainedService(t, nil)

	for _, n := range []int{1, 7, 33} {
		path := writeFile(t, "upload.csv", trainingCSV(n))
		res, err := s.UploadAndPredict(path)
		require.NoError(t, err)
		assert.Len(t, res.Rows, n)
		assert.Equal(t, DefaultLabel, res.Label)
		assert.Equal(t, n, res.EvaluatedRows)

		_, err = os.Stat(path)
		assert.NoError(t, err, "upload file must not be removed")
	}
}

func TestUploadAndPredict_Idempotent(t *testing.T) {
	s := trainedService(t, nil)
	path := writeFile(t, "upload.csv", trainingCSV(20))

	a, err := s.UploadAndPredict(path)
	require.NoError(t, err)
	b, err := s.UploadAndPredict(path)
	require.NoError(t, err)

	require.Len(t, b.Rows, len(a.Rows))
	for i := range a.Rows {
		assert.Equal(t, a.Rows[i].PredictedValue, b.Rows[i].PredictedValue)
	}
	assert.Equal(t, a.MSE, b.MSE)
}

func TestUploadAndPredict_Concurrent(t *testing.T) {
	s := trainedService(t, nil)
	path := writeFile(t, "upload.csv", trainingCSV(12))
	want, err := s.UploadAndPredict(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 6; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.UploadAndPredict(path)
			if assert.NoError(t, err) {
				assert.Equal(t, want.Rows, got.Rows)
			}
		}()
	}
	wg.Wait()
}

func TestUploadAndPredict_Thresholds(t *testing.T) {
	engine := threshold.New([]threshold.Entry{
		{Code: "ts07", Limit: 10},
		{Code: "TS05", Limit: 0},
	})
	s := trainedService(t, engine)

	upload := header +
		"1,,10,2024-03-01 08:00,1,2024-03-01,Ts07,,mg/Nm3,150,auto\n" +
		"2,,10,2024-03-01 08:00,1,2024-03-01,TS05,,mg/Nm3,18,auto\n" +
		"3,,10,2024-03-01 08:00,1,2024-03-01,TS01,,m3/h,,auto\n"
	res, err := s.UploadAndPredict(writeFile(t, "upload.csv", upload))
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)

	nox := res.Rows[0]
	assert.Equal(t, "NOx", nox.ParameterDisplayName)
	assert.Equal(t, "Ts07", nox.ParameterCode)
	require.NotNil(t, nox.Threshold)
	assert.Equal(t, 10.0, *nox.Threshold)
	assert.True(t, nox.IsWarning, "predicted %v should exceed 10", nox.PredictedValue)

	dust := res.Rows[1]
	assert.Nil(t, dust.Threshold)
	assert.False(t, dust.IsWarning)

	flow := res.Rows[2]
	assert.Nil(t, flow.ActualValue)
	assert.Nil(t, flow.Threshold)

	assert.Equal(t, 1, res.WarningCount)
	assert.Equal(t, 2, res.EvaluatedRows)
}

func TestUploadAndPredict_UnseenCategory(t *testing.T) {
	s := trainedService(t, threshold.New([]threshold.Entry{{Code: "TS09", Limit: 1}}))

	upload := header + "1,,10,2024-03-01,1,2024-03-01,TS09,,ppm,,auto\n"
	res, err := s.UploadAndPredict(writeFile(t, "upload.csv", upload))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.Equal(t, "TS09", row.ParameterDisplayName)
	require.NotNil(t, row.Threshold)
	assert.Equal(t, 1.0, *row.Threshold)
	assert.Equal(t, 0, res.EvaluatedRows)
	assert.Zero(t, res.MSE)
}

func TestUploadAndPredict_SchemaError(t *testing.T) {
	s := trainedService(t, nil)

	_, err := s.UploadAndPredict(writeFile(t, "upload.csv", "ParameterCode,Value\nTS01,1\n"))
	var schemaErr *ingest.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Missing, ingest.ColUnit)

	_, err = s.UploadAndPredict(filepath.Join(t.TempDir(), "gone.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPredictRecords(t *testing.T) {
	s := trainedService(t, nil)

	res, err := s.PredictRecords(nil)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Zero(t, res.EvaluatedRows)

	res, err = s.PredictRecords([]models.MeasurementRecord{{ParameterCode: "TS03", Unit: "C", EmissionSourceID: 11}})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.InDelta(t, 191.0, res.Rows[0].PredictedValue, 15)
}

func TestAnnotate_RowCountMismatch(t *testing.T) {
	s := trainedService(t, nil)
	records := []models.MeasurementRecord{{ParameterCode: "TS01"}, {ParameterCode: "TS03"}}

	_, err := s.annotate(records, []float64{1})
	var mismatch *RowCountMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 2, mismatch.Rows)
	assert.Equal(t, 1, mismatch.Predictions)
}

type stubFetcher struct {
	path    string
	err     error
	cleaned bool
}

func (f *stubFetcher) Fetch(ctx context.Context, location string) (string, func(), error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.path, func() { f.cleaned = true }, nil
}

func TestNew_UsesFetcher(t *testing.T) {
	f := &stubFetcher{path: writeFile(t, "fetched.csv", trainingCSV(40))}
	s := New(Options{TrainingPath: "https://example.test/train.csv", Fetcher: f, Params: testParams()})
	require.Equal(t, StateTrained, s.State())
	assert.True(t, f.cleaned)

	sum, _ := s.Summary()
	assert.Equal(t, "https://example.test/train.csv", sum.Source)

	failing := &stubFetcher{err: errors.New("connection refused")}
	s = New(Options{TrainingPath: "https://example.test/train.csv", Fetcher: failing})
	assert.Equal(t, StateUntrained, s.State())
	assert.ErrorIs(t, s.TrainErr(), ErrTrainingData)
}
