package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/emissionwatch/internal/models"
)

func record(code, unit, entry string, source float64) models.MeasurementRecord {
	return models.MeasurementRecord{ParameterCode: code, Unit: unit, EntryDate: entry, EmissionSourceID: source}
}

func trainingRecords() []models.MeasurementRecord {
	return []models.MeasurementRecord{
		record("TS05", "mg/Nm3", "2024-03-15 08:00", 12),
		record("TS07", "mg/Nm3", "2024-03-15 09:00", 12),
		record("ts01", "m3/h", "2024-03-16", 14),
		record("TS05", "mg/Nm3", "2024-03-17", 15),
	}
}

func TestFit_Layout(t *testing.T) {
	enc, err := Fit(trainingRecords(), Options{TextBuckets: 16})
	require.NoError(t, err)

	// 3 codes + 2 units + 16 buckets + 1 numeric
	assert.Equal(t, 22, enc.Width())

	names := enc.Names()
	require.Len(t, names, 22)
	assert.Equal(t, "parameter_code=TS01", names[0])
	assert.Equal(t, "parameter_code=TS05", names[1])
	assert.Equal(t, "parameter_code=TS07", names[2])
	assert.Equal(t, "unit=M3/H", names[3])
	assert.Equal(t, "unit=MG/NM3", names[4])
	assert.Equal(t, "entry_date#0", names[5])
	assert.Equal(t, "emission_source_id", names[21])
}

func TestFit_NoRecords(t *testing.T) {
	_, err := Fit(nil, Options{})
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestEncode_OneHotCaseInsensitive(t *testing.T) {
	enc, err := Fit(trainingRecords(), Options{TextBuckets: 8})
	require.NoError(t, err)

	upper := enc.Encode(&models.MeasurementRecord{ParameterCode: "TS07", Unit: "mg/Nm3"})
	lower := enc.Encode(&models.MeasurementRecord{ParameterCode: " ts07", Unit: "MG/NM3"})
	assert.Equal(t, upper, lower)
	assert.Equal(t, []float64{0, 0, 1}, upper[0:3])
	assert.Equal(t, []float64{0, 1}, upper[3:5])
}

func TestEncode_UnseenCategoryIsZero(t *testing.T) {
	enc, err := Fit(trainingRecords(), Options{TextBuckets: 8})
	require.NoError(t, err)

	vec := enc.Encode(&models.MeasurementRecord{ParameterCode: "TS99", Unit: "ppm", EmissionSourceID: 3})
	require.Len(t, vec, enc.Width())
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, vec[0:5])
	assert.Equal(t, 3.0, vec[len(vec)-1])
}

func TestEncode_WidthStableAcrossCalls(t *testing.T) {
	enc, err := Fit(trainingRecords(), Options{})
	require.NoError(t, err)

	for _, rec := range []models.MeasurementRecord{
		record("", "", "", 0),
		record("TS08", "%", "a much longer free text entry with many words in it", 99),
	} {
		assert.Len(t, enc.Encode(&rec), enc.Width())
	}
	assert.Equal(t, 3+2+DefaultTextBuckets+1, enc.Width())
}

func TestMatrix(t *testing.T) {
	records := trainingRecords()
	enc, err := Fit(records, Options{TextBuckets: 4})
	require.NoError(t, err)

	m := enc.Matrix(records)
	require.NotNil(t, m)
	r, c := m.Dims()
	assert.Equal(t, len(records), r)
	assert.Equal(t, enc.Width(), c)
	for i := range records {
		assert.Equal(t, enc.Encode(&records[i]), m.RawRowView(i))
	}

	assert.Nil(t, enc.Matrix(nil))
}

func TestHashText(t *testing.T) {
	a := make([]float64, 32)
	b := make([]float64, 32)
	HashText("2024-03-15 08:00", a)
	HashText("2024-03-15 08:00", b)
	assert.Equal(t, a, b, "hashing must be deterministic")

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	c := make([]float64, 32)
	HashText("1999-12-31 23:59", c)
	assert.NotEqual(t, a, c)

	empty := []float64{1, 2, 3}
	HashText("   ", empty)
	assert.Equal(t, []float64{0, 0, 0}, empty)
}

func TestOneHot_Known(t *testing.T) {
	o := FitOneHot("parameter_code", func(r *models.MeasurementRecord) string { return r.ParameterCode }, trainingRecords())
	assert.True(t, o.Known("ts05"))
	assert.False(t, o.Known("TS09"))
	assert.Equal(t, []string{"TS01", "TS05", "TS07"}, o.Vocabulary())
}
