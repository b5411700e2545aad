package features

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/lox/emissionwatch/internal/models"
)

// Step writes a fixed number of feature columns for one record.
type Step interface {
	Name() string
	Width() int
	// Apply writes exactly Width() values into dst.
	Apply(rec *models.MeasurementRecord, dst []float64)
}

// NormalizeCategory is the key used for category lookups. Codes arrive in
// mixed case from uploaded files.
func NormalizeCategory(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// OneHot encodes a categorical field against a vocabulary learned at fit
// time. Unknown and empty values encode as all zeros.
type OneHot struct {
	name  string
	field func(*models.MeasurementRecord) string
	vocab []string
	index map[string]int
}

// FitOneHot learns the sorted vocabulary of field over records.
func FitOneHot(name string, field func(*models.MeasurementRecord) string, records []models.MeasurementRecord) *OneHot {
	seen := make(map[string]bool)
	for i := range records {
		if key := NormalizeCategory(field(&records[i])); key != "" {
			seen[key] = true
		}
	}

	vocab := make([]string, 0, len(seen))
	for k := range seen {
		vocab = append(vocab, k)
	}
	sort.Strings(vocab)

	index := make(map[string]int, len(vocab))
	for i, k := range vocab {
		index[k] = i
	}
	return &OneHot{name: name, field: field, vocab: vocab, index: index}
}

func (o *OneHot) Name() string { return o.name }
func (o *OneHot) Width() int   { return len(o.vocab) }

// Vocabulary returns the learned categories in column order.
func (o *OneHot) Vocabulary() []string {
	return append([]string(nil), o.vocab...)
}

// Known reports whether value was seen during fit.
func (o *OneHot) Known(value string) bool {
	_, ok := o.index[NormalizeCategory(value)]
	return ok
}

func (o *OneHot) Apply(rec *models.MeasurementRecord, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	if i, ok := o.index[NormalizeCategory(o.field(rec))]; ok {
		dst[i] = 1
	}
}

// TextHash projects free text into a fixed number of buckets using word
// tokens and character trigrams, then L2-normalises the counts.
type TextHash struct {
	name    string
	field   func(*models.MeasurementRecord) string
	buckets int
}

const DefaultTextBuckets = 64

func NewTextHash(name string, field func(*models.MeasurementRecord) string, buckets int) *TextHash {
	if buckets <= 0 {
		buckets = DefaultTextBuckets
	}
	return &TextHash{name: name, field: field, buckets: buckets}
}

func (h *TextHash) Name() string { return h.name }
func (h *TextHash) Width() int   { return h.buckets }

func (h *TextHash) Apply(rec *models.MeasurementRecord, dst []float64) {
	HashText(h.field(rec), dst)
}

// HashText fills dst with the normalised hashed token counts of s.
func HashText(s string, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	if len(dst) == 0 {
		return
	}

	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return
	}

	n := uint64(len(dst))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		dst[xxhash.Sum64String("w:"+w)%n]++
	}

	runes := []rune("\x02" + text + "\x03")
	for i := 0; i+3 <= len(runes); i++ {
		dst[xxhash.Sum64String("c:"+string(runes[i:i+3]))%n]++
	}

	var norm float64
	for _, v := range dst {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}
	for i := range dst {
		dst[i] /= norm
	}
}

// Numeric passes a numeric field through unchanged.
type Numeric struct {
	name  string
	field func(*models.MeasurementRecord) float64
}

func NewNumeric(name string, field func(*models.MeasurementRecord) float64) *Numeric {
	return &Numeric{name: name, field: field}
}

func (n *Numeric) Name() string { return n.name }
func (n *Numeric) Width() int   { return 1 }

func (n *Numeric) Apply(rec *models.MeasurementRecord, dst []float64) {
	dst[0] = n.field(rec)
}

func columnNames(s Step) []string {
	if o, ok := s.(*OneHot); ok {
		names := make([]string, len(o.vocab))
		for i, v := range o.vocab {
			names[i] = s.Name() + "=" + v
		}
		return names
	}
	if s.Width() == 1 {
		return []string{s.Name()}
	}
	names := make([]string, s.Width())
	for i := range names {
		names[i] = s.Name() + "#" + strconv.Itoa(i)
	}
	return names
}
