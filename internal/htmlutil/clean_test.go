package htmlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanField(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "15/03/2024 08:00", "15/03/2024 08:00"},
		{"surrounding space", "  sampled  at stack ", "sampled at stack"},
		{"line break tag", "first<br>second", "first second"},
		{"bold tag", "<b>routine</b> check", "routine check"},
		{"entity", "O&amp;M visit", "O&M visit"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanField(tt.in))
		})
	}
}
