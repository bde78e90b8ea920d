// Package prompt loads the pool of transformation prompts and picks one per run.
package prompt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyPool is returned when there is nothing to pick from.
var ErrEmptyPool = errors.New("prompt pool is empty")

// LoadPool reads a prompt file. The file may be YAML or JSON and hold either a flat
// list of prompts or a map of category to list, which is flattened in key order.
func LoadPool(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt pool %s: %w", path, err)
	}
	pool, err := ParsePool(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt pool %s: %w", path, err)
	}
	return pool, nil
}

// ParsePool decodes prompt pool content; see LoadPool.
func ParsePool(data []byte) ([]string, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var pool []string
	switch v := raw.(type) {
	case []any:
		pool = appendStrings(pool, v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			list, ok := v[k].([]any)
			if !ok {
				return nil, fmt.Errorf("category %q is not a list", k)
			}
			pool = appendStrings(pool, list)
		}
	case nil:
	default:
		return nil, fmt.Errorf("unsupported prompt pool shape %T", raw)
	}

	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	return pool, nil
}

func appendStrings(dst []string, items []any) []string {
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}

// Pick returns a uniformly random prompt from pool, excluding the last avoidLastN
// entries of recent (oldest first). When every prompt was used recently the whole
// pool is eligible again.
func Pick(pool, recent []string, avoidLastN int) (string, error) {
	if len(pool) == 0 {
		return "", ErrEmptyPool
	}

	if avoidLastN > len(recent) {
		avoidLastN = len(recent)
	}
	avoid := make(map[string]struct{}, avoidLastN)
	if avoidLastN > 0 {
		for _, p := range recent[len(recent)-avoidLastN:] {
			avoid[p] = struct{}{}
		}
	}

	candidates := make([]string, 0, len(pool))
	for _, p := range pool {
		if _, skip := avoid[p]; !skip {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		candidates = pool
	}
	return candidates[rand.IntN(len(candidates))], nil
}
