package ingest

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/lox/emissionwatch/internal/models"
)

const (
	FlagValueNegative          = "value_negative"
	FlagValueNotFinite         = "value_not_finite"
	FlagParameterCodeMissing   = "parameter_code_missing"
	FlagUnitMissing            = "unit_missing"
	FlagEmissionSourceInvalid  = "emission_source_invalid"
	FlagMeasurementDateMissing = "measurement_date_missing"
)

func ValidateRecord(rec *models.MeasurementRecord) []string {
	var flags []string

	if rec.Value.Valid {
		v := rec.Value.Float64
		if math.IsNaN(v) || math.IsInf(v, 0) {
			flags = append(flags, FlagValueNotFinite)
		} else if v < 0 {
			flags = append(flags, FlagValueNegative)
		}
	}

	if strings.TrimSpace(rec.ParameterCode) == "" {
		flags = append(flags, FlagParameterCodeMissing)
	}

	if strings.TrimSpace(rec.Unit) == "" {
		flags = append(flags, FlagUnitMissing)
	}

	if rec.EmissionSourceID < 0 || math.IsNaN(rec.EmissionSourceID) || math.IsInf(rec.EmissionSourceID, 0) {
		flags = append(flags, FlagEmissionSourceInvalid)
	}

	if rec.MeasurementDate.IsZero() {
		flags = append(flags, FlagMeasurementDateMissing)
	}

	return flags
}

// Trainable reports whether a record can be used as a training example.
func Trainable(rec *models.MeasurementRecord) bool {
	if !rec.Value.Valid {
		return false
	}
	v := rec.Value.Float64
	return !math.IsNaN(v) && !math.IsInf(v, 0) &&
		!math.IsNaN(rec.EmissionSourceID) && !math.IsInf(rec.EmissionSourceID, 0)
}

// QualityFlagsToJSON renders flag counts as a JSON object (keys sorted).
func QualityFlagsToJSON(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	b, _ := json.Marshal(counts)
	return string(b)
}
