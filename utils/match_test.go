package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTarget(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		pattern string
		want    bool
	}{
		{"exact match", "tool:pdf/read", "tool:pdf/read", true},
		{"exact mismatch", "tool:pdf/read", "tool:pdf/write", false},
		{"universal wildcard", "tool:anything/at/all", "*", true},
		{"trailing wildcard matches one segment", "tool:pdf/read", "tool:pdf/*", true},
		{"trailing wildcard matches subtree", "tool:pdf/ocr/scan", "tool:pdf/*", true},
		{"trailing wildcard wrong prefix", "tool:image/read", "tool:pdf/*", false},
		{"subtree wildcard does not match the bare prefix", "tool:pdf", "tool:pdf/*", false},
		{"mid-pattern wildcard stops at separator", "tool:pdf/read", "tool:*/read", true},
		{"mid-pattern wildcard does not cross separator", "tool:pdf/ocr/read", "tool:*/read", false},
		{"agent target", "agent:summarizer", "agent:*", true},
		{"prefix without wildcard does not match", "tool:pdf/read", "tool:pdf", false},
		{"pattern longer than target", "tool:pdf", "tool:pdf/read", false},
		{"empty target", "", "tool:*", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTarget(tt.target, tt.pattern))
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"tool:pdf/*", "tool:search"}

	assert.True(t, MatchAny("tool:pdf/read", patterns))
	assert.True(t, MatchAny("tool:search", patterns))
	assert.False(t, MatchAny("tool:shell", patterns))
	assert.False(t, MatchAny("tool:pdf/read", nil))
}
