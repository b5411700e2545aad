// Package narrative turns prediction results into short human-readable
// summaries.
package narrative

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lox/emissionwatch/internal/models"
)

// ParameterStat aggregates the rows of one parameter code.
type ParameterStat struct {
	Code         string
	DisplayName  string
	Rows         int
	Warnings     int
	MaxPredicted float64
	Threshold    *float64
}

// Stats groups rows by parameter code, ordered by warnings then code.
func Stats(res *models.PredictionResult) []ParameterStat {
	byCode := make(map[string]*ParameterStat)
	for _, r := range res.Rows {
		key := strings.ToUpper(strings.TrimSpace(r.ParameterCode))
		st, ok := byCode[key]
		if !ok {
			st = &ParameterStat{Code: key, DisplayName: r.ParameterDisplayName, MaxPredicted: r.PredictedValue}
			byCode[key] = st
		}
		st.Rows++
		if r.IsWarning {
			st.Warnings++
		}
		if r.PredictedValue > st.MaxPredicted {
			st.MaxPredicted = r.PredictedValue
		}
		if r.Threshold != nil {
			st.Threshold = r.Threshold
		}
	}

	out := make([]ParameterStat, 0, len(byCode))
	for _, st := range byCode {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Warnings != out[j].Warnings {
			return out[i].Warnings > out[j].Warnings
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// Build creates a deterministic one-paragraph summary of a result.
func Build(res *models.PredictionResult) string {
	if res == nil || len(res.Rows) == 0 {
		return "No rows to predict."
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("%s predicted for %s.", plural(len(res.Rows), "row"), plural(len(Stats(res)), "parameter")))

	if res.WarningCount == 0 {
		parts = append(parts, "No predicted value exceeds its threshold.")
	} else {
		var names []string
		for _, st := range Stats(res) {
			if st.Warnings > 0 {
				names = append(names, fmt.Sprintf("%s ×%d", st.DisplayName, st.Warnings))
			}
		}
		parts = append(parts, fmt.Sprintf("%s above threshold (%s).", plural(res.WarningCount, "value"), strings.Join(names, ", ")))
	}

	if res.EvaluatedRows > 0 {
		parts = append(parts, fmt.Sprintf("Against %s: MSE %.3g, R² %.3f.",
			plural(res.EvaluatedRows, "measured value"), res.MSE, res.R2))
	}
	return strings.Join(parts, " ")
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
