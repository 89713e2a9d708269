// Package reasoning normalizes per-model thinking capabilities into one
// provider-agnostic request contract.
package reasoning

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Profile declares a model's thinking capability surface. It is stored as a
// JSON blob on the catalog entry and decoded on demand.
type Profile struct {
	SupportsThinking bool    `json:"supports_thinking"`
	DefaultLevel     string  `json:"default_level,omitempty"`
	Levels           []Level `json:"levels,omitempty"`
}

// Level is one named preset of thinking parameters. VisibleParams is the
// authoritative per-level override list; unknown keys survive verbatim so
// provider-specific extensions are never dropped.
type Level struct {
	ID            string  `json:"id"`
	Label         string  `json:"label,omitempty"`
	VisibleParams []Param `json:"visible_params,omitempty"`
}

// Param is a single key/value override inside a level.
type Param struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ParseProfile decodes a capability blob. An empty blob yields a profile
// with thinking disabled.
func ParseProfile(raw []byte) (Profile, error) {
	var profile Profile
	if len(raw) == 0 {
		return profile, nil
	}
	if err := json.Unmarshal(raw, &profile); err != nil {
		return Profile{}, fmt.Errorf("reasoning: parse profile: %w", err)
	}
	return profile, nil
}

// FindLevel returns the level with the given id.
func (p Profile) FindLevel(id string) (Level, bool) {
	id = strings.TrimSpace(id)
	for _, level := range p.Levels {
		if level.ID == id {
			return level, true
		}
	}
	return Level{}, false
}

// stringValue coerces a param value into a string if it is one.
func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), s != ""
}

// intValue coerces a param value into an int if it is numeric.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		parsed, errParse := n.Int64()
		if errParse != nil {
			return 0, false
		}
		return int(parsed), true
	default:
		return 0, false
	}
}

// boolValue coerces a param value into a bool if it is one.
func boolValue(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}
