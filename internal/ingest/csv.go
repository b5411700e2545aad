package ingest

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lox/emissionwatch/internal/htmlutil"
	"github.com/lox/emissionwatch/internal/models"
)

const (
	ColResultID         = "ResultID"
	ColApprovedAt       = "ApprovedAt"
	ColEmissionSourceID = "EmissionSourceID"
	ColEntryDate        = "EntryDate"
	ColIsApproved       = "IsApproved"
	ColMeasurementDate  = "MeasurementDate"
	ColParameterCode    = "ParameterCode"
	ColRemark           = "Remark"
	ColUnit             = "Unit"
	ColValue            = "Value"
	ColType             = "Type"
)

// Columns is the canonical column order of a measurement export.
var Columns = []string{
	ColResultID, ColApprovedAt, ColEmissionSourceID, ColEntryDate, ColIsApproved,
	ColMeasurementDate, ColParameterCode, ColRemark, ColUnit, ColValue, ColType,
}

// RequiredColumns must be present in every header; the rest are optional.
var RequiredColumns = []string{
	ColEmissionSourceID, ColEntryDate, ColMeasurementDate, ColParameterCode, ColUnit,
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"1/2/2006",
	"1/2/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
}

// Report summarises a single load.
type Report struct {
	Rows         int
	BlankLines   int
	MissingValue int
	Flags        map[string]int
}

// LoadFile reads measurement records from a CSV file on disk.
func LoadFile(path string) ([]models.MeasurementRecord, Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Report{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	return ReadRecords(f)
}

// ReadRecords parses a header-present, comma-delimited measurement export.
// Columns are matched by header name, so reordered or extra columns are fine.
func ReadRecords(r io.Reader) ([]models.MeasurementRecord, Report, error) {
	rep := Report{Flags: make(map[string]int)}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, rep, &SchemaError{}
		}
		return nil, rep, fmt.Errorf("read header: %w", err)
	}

	index, err := indexHeader(header)
	if err != nil {
		return nil, rep, err
	}

	var records []models.MeasurementRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, rep, fmt.Errorf("read row: %w", err)
		}
		line, _ := cr.FieldPos(0)

		if isBlank(row) {
			rep.BlankLines++
			continue
		}

		rec, err := parseRow(row, index, line)
		if err != nil {
			return nil, rep, err
		}

		for _, flag := range ValidateRecord(&rec) {
			rep.Flags[flag]++
		}
		if !rec.Value.Valid {
			rep.MissingValue++
		}
		records = append(records, rec)
	}
	rep.Rows = len(records)

	if len(rep.Flags) > 0 {
		log.Printf("ingest: %d rows loaded, quality flags: %s", rep.Rows, QualityFlagsToJSON(rep.Flags))
	}
	return records, rep, nil
}

func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

func indexHeader(header []string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := byName[key]; !dup {
			byName[key] = i
		}
	}

	index := make(map[string]int, len(Columns))
	for _, col := range Columns {
		if i, ok := byName[normalizeHeader(col)]; ok {
			index[col] = i
		}
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	return index, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseRow(row []string, index map[string]int, line int) (models.MeasurementRecord, error) {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := models.MeasurementRecord{
		Line:          line,
		ApprovedAt:    cell(ColApprovedAt),
		EntryDate:     htmlutil.CleanField(cell(ColEntryDate)),
		ParameterCode: cell(ColParameterCode),
		Remark:        htmlutil.CleanField(cell(ColRemark)),
		Unit:          cell(ColUnit),
		Type:          cell(ColType),
	}

	if s := cell(ColResultID); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, &ParseError{Line: line, Column: ColResultID, Value: s, Err: err}
		}
		rec.ResultID = int64(v)
	}

	if s := cell(ColEmissionSourceID); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, &ParseError{Line: line, Column: ColEmissionSourceID, Value: s, Err: err}
		}
		rec.EmissionSourceID = v
	}

	if s := cell(ColIsApproved); s != "" {
		v, err := parseFlag(s)
		if err != nil {
			return rec, &ParseError{Line: line, Column: ColIsApproved, Value: s, Err: err}
		}
		rec.IsApproved = v
	}

	if s := cell(ColMeasurementDate); s != "" {
		t, err := ParseDate(s)
		if err != nil {
			return rec, &ParseError{Line: line, Column: ColMeasurementDate, Value: s, Err: err}
		}
		rec.MeasurementDate = t
	}

	if s := cell(ColValue); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, &ParseError{Line: line, Column: ColValue, Value: s, Err: err}
		}
		rec.Value = sql.NullFloat64{Float64: v, Valid: true}
	}

	return rec, nil
}

// parseFlag accepts booleans as well as numeric 0/1 flags.
func parseFlag(s string) (bool, error) {
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ParseDate parses a date cell in any of the layouts seen in exports.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date format")
}
