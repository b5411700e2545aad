package features

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/emissionwatch/internal/models"
)

var ErrNoRecords = errors.New("features: no records to fit")

// Step names, also used as feature name prefixes.
const (
	ColParameterCode    = "parameter_code"
	ColUnit             = "unit"
	ColEntryDate        = "entry_date"
	ColEmissionSourceID = "emission_source_id"
)

// Options controls encoder construction.
type Options struct {
	TextBuckets int
}

// Encoder turns records into fixed-width feature vectors. The layout is
// frozen by Fit and never changes afterwards.
type Encoder struct {
	steps []Step
	width int
	names []string
}

// Fit learns category vocabularies from the training records. Column order is
// parameter code one-hot, unit one-hot, entry-date text hash, emission source id.
func Fit(records []models.MeasurementRecord, opts Options) (*Encoder, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	steps := []Step{
		FitOneHot(ColParameterCode, func(r *models.MeasurementRecord) string { return r.ParameterCode }, records),
		FitOneHot(ColUnit, func(r *models.MeasurementRecord) string { return r.Unit }, records),
		NewTextHash(ColEntryDate, func(r *models.MeasurementRecord) string { return r.EntryDate }, opts.TextBuckets),
		NewNumeric(ColEmissionSourceID, func(r *models.MeasurementRecord) float64 { return r.EmissionSourceID }),
	}

	e := &Encoder{steps: steps}
	for _, s := range steps {
		e.width += s.Width()
		e.names = append(e.names, columnNames(s)...)
	}
	return e, nil
}

func (e *Encoder) Width() int { return e.width }

// Names returns one name per feature column.
func (e *Encoder) Names() []string {
	return append([]string(nil), e.names...)
}

// Steps returns the encoding steps in column order.
func (e *Encoder) Steps() []Step {
	return append([]Step(nil), e.steps...)
}

// EncodeInto writes the feature vector of rec into dst, which must have
// length Width().
func (e *Encoder) EncodeInto(rec *models.MeasurementRecord, dst []float64) {
	off := 0
	for _, s := range e.steps {
		w := s.Width()
		s.Apply(rec, dst[off:off+w])
		off += w
	}
}

func (e *Encoder) Encode(rec *models.MeasurementRecord) []float64 {
	dst := make([]float64, e.width)
	e.EncodeInto(rec, dst)
	return dst
}

// Matrix encodes records as the rows of a dense matrix. It returns nil for
// an empty slice since gonum does not allow zero-sized matrices.
func (e *Encoder) Matrix(records []models.MeasurementRecord) *mat.Dense {
	if len(records) == 0 || e.width == 0 {
		return nil
	}
	data := make([]float64, len(records)*e.width)
	for i := range records {
		e.EncodeInto(&records[i], data[i*e.width:(i+1)*e.width])
	}
	return mat.NewDense(len(records), e.width, data)
}
