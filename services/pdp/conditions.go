package pdp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alparn/agentxsuite-sub000/utils"
)

// Context carries the request attributes condition predicates evaluate
// against. Missing values default conservatively (0 for numbers, the empty
// set for tags, false for flags), so a missing value fails a restrictive
// predicate instead of silently passing.
type Context struct {
	Values map[string]interface{}
	Now    time.Time
}

// String returns the string value for the key, empty when absent
func (c Context) String(key string) string {
	if v, ok := c.Values[key].(string); ok {
		return v
	}
	return ""
}

// Number returns the numeric value for the key, 0 when absent
func (c Context) Number(key string) float64 {
	switch v := c.Values[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// Bool returns the boolean value for the key, false when absent
func (c Context) Bool(key string) bool {
	if v, ok := c.Values[key].(bool); ok {
		return v
	}
	return false
}

// Strings returns the string-list value for the key, nil when absent
func (c Context) Strings(key string) []string {
	switch v := c.Values[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Predicate is one parsed condition. All of a rule's predicates must hold
// for the rule to match.
type Predicate interface {
	// Name returns the condition key the predicate was parsed from
	Name() string

	// Evaluate reports whether the predicate holds for the context
	Evaluate(evalCtx Context) bool
}

// ParseConditions parses a stored conditions map into the closed predicate
// set. An empty or absent map parses to no predicates (always true). An
// unknown condition key or a malformed value is an error; the caller treats
// the owning rule as non-matching.
func ParseConditions(raw json.RawMessage) ([]Predicate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("conditions must be an object: %w", err)
	}

	predicates := make([]Predicate, 0, len(entries))
	for key, value := range entries {
		p, err := parsePredicate(key, value)
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", key, err)
		}
		predicates = append(predicates, p)
	}

	return predicates, nil
}

func parsePredicate(key string, value json.RawMessage) (Predicate, error) {
	switch key {
	case "env==":
		var envID string
		if err := json.Unmarshal(value, &envID); err != nil {
			return nil, err
		}
		return envEquals{envID: envID}, nil

	case "time_window":
		var w struct {
			Start string   `json:"start"`
			End   string   `json:"end"`
			Days  []string `json:"days"`
		}
		if err := json.Unmarshal(value, &w); err != nil {
			return nil, err
		}
		start, err := parseClock(w.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseClock(w.End)
		if err != nil {
			return nil, err
		}
		return timeWindow{start: start, end: end, days: w.Days}, nil

	case "tags":
		tags, err := parseStringOrList(value)
		if err != nil {
			return nil, err
		}
		return tagsSuperset{required: tags}, nil

	case "risk_level<=":
		max, err := parseNumber(value)
		if err != nil {
			return nil, err
		}
		return riskLevelMax{max: max}, nil

	case "content_type":
		allowed, err := parseStringOrList(value)
		if err != nil {
			return nil, err
		}
		return contentTypeIn{allowed: allowed}, nil

	case "max_size_mb<=":
		max, err := parseNumber(value)
		if err != nil {
			return nil, err
		}
		return maxSizeMB{max: max}, nil

	case "allowed_tools":
		patterns, err := parseStringOrList(value)
		if err != nil {
			return nil, err
		}
		return allowedGlobs{name: "allowed_tools", contextKey: "tool", patterns: patterns}, nil

	case "allowed_resource_ns":
		patterns, err := parseStringOrList(value)
		if err != nil {
			return nil, err
		}
		return allowedGlobs{name: "allowed_resource_ns", contextKey: "resource_ns", patterns: patterns}, nil

	case "depth<=":
		max, err := parseNumber(value)
		if err != nil {
			return nil, err
		}
		return depthMax{max: max}, nil

	case "budget_left_cents>=":
		min, err := parseNumber(value)
		if err != nil {
			return nil, err
		}
		return budgetMin{min: min}, nil

	case "ttl_valid":
		var required bool
		if err := json.Unmarshal(value, &required); err != nil {
			return nil, err
		}
		return ttlValid{required: required}, nil

	default:
		return nil, fmt.Errorf("unknown condition")
	}
}

// envEquals requires the context's environment id to equal the given value
type envEquals struct {
	envID string
}

func (p envEquals) Name() string { return "env==" }

func (p envEquals) Evaluate(evalCtx Context) bool {
	return evalCtx.String("env_id") == p.envID
}

// timeWindow requires the wall-clock time of day to fall within
// [start, end], handling windows that wrap past midnight, and optionally
// restricts the weekday.
type timeWindow struct {
	start clockMinutes
	end   clockMinutes
	days  []string
}

func (p timeWindow) Name() string { return "time_window" }

func (p timeWindow) Evaluate(evalCtx Context) bool {
	now := evalCtx.Now
	minutes := clockMinutes(now.Hour()*60 + now.Minute())

	var inWindow bool
	if p.start <= p.end {
		inWindow = minutes >= p.start && minutes <= p.end
	} else {
		// Wraps past midnight, e.g. 22:00-06:00
		inWindow = minutes >= p.start || minutes <= p.end
	}
	if !inWindow {
		return false
	}

	if len(p.days) == 0 {
		return true
	}
	today := strings.ToLower(now.Weekday().String()[:3])
	for _, day := range p.days {
		day = strings.ToLower(day)
		if len(day) >= 3 && day[:3] == today {
			return true
		}
	}
	return false
}

// tagsSuperset requires the context tag set to contain every required tag
type tagsSuperset struct {
	required []string
}

func (p tagsSuperset) Name() string { return "tags" }

func (p tagsSuperset) Evaluate(evalCtx Context) bool {
	have := make(map[string]struct{})
	for _, tag := range evalCtx.Strings("tags") {
		have[tag] = struct{}{}
	}
	for _, tag := range p.required {
		if _, ok := have[tag]; !ok {
			return false
		}
	}
	return true
}

// riskLevelMax requires the context risk level to not exceed the threshold
type riskLevelMax struct {
	max float64
}

func (p riskLevelMax) Name() string { return "risk_level<=" }

func (p riskLevelMax) Evaluate(evalCtx Context) bool {
	return evalCtx.Number("risk_level") <= p.max
}

// contentTypeIn requires the context content type to be one of the allowed values
type contentTypeIn struct {
	allowed []string
}

func (p contentTypeIn) Name() string { return "content_type" }

func (p contentTypeIn) Evaluate(evalCtx Context) bool {
	ct := evalCtx.String("content_type")
	for _, allowed := range p.allowed {
		if ct == allowed {
			return true
		}
	}
	return false
}

// maxSizeMB requires the context size to not exceed the threshold
type maxSizeMB struct {
	max float64
}

func (p maxSizeMB) Name() string { return "max_size_mb<=" }

func (p maxSizeMB) Evaluate(evalCtx Context) bool {
	return evalCtx.Number("size_mb") <= p.max
}

// allowedGlobs requires a named context value to glob-match one of the
// given patterns; used for delegation-style tool and namespace allowlists
type allowedGlobs struct {
	name       string
	contextKey string
	patterns   []string
}

func (p allowedGlobs) Name() string { return p.name }

func (p allowedGlobs) Evaluate(evalCtx Context) bool {
	value := evalCtx.String(p.contextKey)
	if value == "" {
		return false
	}
	return utils.MatchAny(value, p.patterns)
}

// depthMax requires the current call depth to not exceed the bound (inclusive)
type depthMax struct {
	max float64
}

func (p depthMax) Name() string { return "depth<=" }

func (p depthMax) Evaluate(evalCtx Context) bool {
	return evalCtx.Number("depth") <= p.max
}

// budgetMin requires the remaining budget to meet the bound
type budgetMin struct {
	min float64
}

func (p budgetMin) Name() string { return "budget_left_cents>=" }

func (p budgetMin) Evaluate(evalCtx Context) bool {
	return evalCtx.Number("budget_left_cents") >= p.min
}

// ttlValid requires the caller-computed TTL validity flag when enabled
type ttlValid struct {
	required bool
}

func (p ttlValid) Name() string { return "ttl_valid" }

func (p ttlValid) Evaluate(evalCtx Context) bool {
	if !p.required {
		return true
	}
	return evalCtx.Bool("ttl_valid")
}

// clockMinutes is a time of day in minutes since midnight
type clockMinutes int

// parseClock parses an "HH:MM" time of day
func parseClock(s string) (clockMinutes, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return clockMinutes(hour*60 + minute), nil
}

// parseStringOrList accepts a single string or a list of strings
func parseStringOrList(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("expected string or list of strings")
	}
	return list, nil
}

// parseNumber parses a JSON number
func parseNumber(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("expected number")
	}
	return n, nil
}
