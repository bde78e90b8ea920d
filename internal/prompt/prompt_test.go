package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPick_AvoidsRecent(t *testing.T) {
	pool := []string{"a", "b", "c", "d", "e"}

	for trial := 0; trial < 200; trial++ {
		var history []string
		for i := 0; i < 3; i++ {
			p, err := Pick(pool, history, 3)
			require.NoError(t, err)
			history = append(history, p)
		}
		fourth, err := Pick(pool, history, 3)
		require.NoError(t, err)
		assert.NotContains(t, history, fourth)
	}
}

func TestPick_OnlyLastNExcluded(t *testing.T) {
	pool := []string{"a", "b", "c", "d"}
	// "a" was used, but before the last three.
	recent := []string{"a", "b", "c", "d"}
	for i := 0; i < 50; i++ {
		p, err := Pick(pool, recent, 3)
		require.NoError(t, err)
		assert.Equal(t, "a", p)
	}
}

func TestPick_FallsBackToFullPool(t *testing.T) {
	pool := []string{"x", "y"}
	recent := []string{"x", "y", "x"}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		p, err := Pick(pool, recent, 3)
		require.NoError(t, err)
		assert.Contains(t, pool, p)
		seen[p] = true
	}
	assert.Len(t, seen, 2)
}

func TestPick_EmptyPool(t *testing.T) {
	_, err := Pick(nil, nil, 3)
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestParsePool(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    []string
		wantErr bool
	}{
		{"json list", `["melt the frame", "add cobwebs"]`, []string{"melt the frame", "add cobwebs"}, false},
		{"yaml list", "- melt the frame\n- add cobwebs\n", []string{"melt the frame", "add cobwebs"}, false},
		{"grouped", `{"decay": ["crack the paint"], "age": ["grey the hair", "  "]}`, []string{"grey the hair", "crack the paint"}, false},
		{"empty list", `[]`, nil, true},
		{"bad category", `{"decay": "crack"}`, nil, true},
		{"scalar", `42`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePool([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("decay:\n  - crack the varnish\n"), 0o644))

	pool, err := LoadPool(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"crack the varnish"}, pool)

	_, err = LoadPool(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
