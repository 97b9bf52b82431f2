// Package rules evaluates user-defined predicates over derived events.
// Rules are validated and compiled when registered so the per-frame
// evaluation path is total: a condition that cannot be evaluated
// against an event is simply false, never an error.
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Operator is the closed set of condition operators.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpLt      Operator = "lt"
	OpGte     Operator = "gte"
	OpLte     Operator = "lte"
	OpIn      Operator = "in"
	OpBetween Operator = "between"
)

// Combinators joining a rule's conditions.
const (
	CombinatorAnd = "and"
	CombinatorOr  = "or"
)

// Condition is one field test within a rule, as authored via the API.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Action names a notification to execute when the rule matches.
type Action struct {
	Type     string            `json:"type"`
	Config   map[string]string `json:"config,omitempty"`
	Optional bool              `json:"optional,omitempty"`
}

// Rule is a user-authored predicate with its actions. Conditions are
// combined with AND semantics unless Combinator is set to "or".
type Rule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Combinator string      `json:"combinator,omitempty"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	Enabled    bool        `json:"enabled"`
}

// compiledCondition is the validated, typed form of a Condition. The
// eval closure receives the field value (and whether it was present)
// and must not panic for any input.
type compiledCondition struct {
	field string
	eval  func(value any, present bool) bool
}

// compileCondition validates a condition and returns its evaluator.
// All type errors surface here, at registration time, never during
// evaluation.
func compileCondition(c Condition) (compiledCondition, error) {
	if c.Field == "" {
		return compiledCondition{}, fmt.Errorf("condition field must not be empty")
	}

	switch c.Operator {
	case OpEq:
		want := c.Value
		return compiledCondition{c.Field, func(v any, ok bool) bool {
			return ok && equalValues(v, want)
		}}, nil

	case OpNeq:
		want := c.Value
		return compiledCondition{c.Field, func(v any, ok bool) bool {
			return ok && !equalValues(v, want)
		}}, nil

	case OpGt, OpLt, OpGte, OpLte:
		want, ok := toFloat(c.Value)
		if !ok {
			return compiledCondition{}, fmt.Errorf("operator %q requires a numeric value, got %T", c.Operator, c.Value)
		}
		op := c.Operator
		return compiledCondition{c.Field, func(v any, present bool) bool {
			if !present {
				return false
			}
			f, numeric := toFloat(v)
			if !numeric {
				return false
			}
			switch op {
			case OpGt:
				return f > want
			case OpLt:
				return f < want
			case OpGte:
				return f >= want
			default:
				return f <= want
			}
		}}, nil

	case OpIn:
		members, err := toSlice(c.Value)
		if err != nil {
			return compiledCondition{}, fmt.Errorf("operator %q: %w", c.Operator, err)
		}
		if len(members) == 0 {
			return compiledCondition{}, fmt.Errorf("operator %q requires a non-empty set", c.Operator)
		}
		return compiledCondition{c.Field, func(v any, ok bool) bool {
			if !ok {
				return false
			}
			for _, m := range members {
				if equalValues(v, m) {
					return true
				}
			}
			return false
		}}, nil

	case OpBetween:
		return compileBetween(c)

	default:
		return compiledCondition{}, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

// compileBetween handles the two-element between payload. If both
// bounds parse as HH:MM clock times the condition is a time-of-day
// window (inclusive, wrapping midnight when start > end); otherwise
// both bounds must be numeric and the test is an inclusive range.
func compileBetween(c Condition) (compiledCondition, error) {
	bounds, err := toSlice(c.Value)
	if err != nil || len(bounds) != 2 {
		return compiledCondition{}, fmt.Errorf("operator %q requires a [low, high] pair", c.Operator)
	}

	loClock, loIsClock := toClockMinutes(bounds[0])
	hiClock, hiIsClock := toClockMinutes(bounds[1])
	if loIsClock && hiIsClock {
		return compiledCondition{c.Field, func(v any, ok bool) bool {
			if !ok {
				return false
			}
			m, valid := toClockMinutes(v)
			if !valid {
				return false
			}
			if loClock <= hiClock {
				return m >= loClock && m <= hiClock
			}
			// Window wraps past midnight, e.g. 22:00 to 06:00.
			return m >= loClock || m <= hiClock
		}}, nil
	}

	lo, loNum := toFloat(bounds[0])
	hi, hiNum := toFloat(bounds[1])
	if !loNum || !hiNum {
		return compiledCondition{}, fmt.Errorf("operator %q bounds must both be clock times or both numeric", c.Operator)
	}
	if lo > hi {
		return compiledCondition{}, fmt.Errorf("operator %q numeric bounds out of order: %v > %v", c.Operator, lo, hi)
	}
	return compiledCondition{c.Field, func(v any, ok bool) bool {
		if !ok {
			return false
		}
		f, numeric := toFloat(v)
		return numeric && f >= lo && f <= hi
	}}, nil
}

// toFloat converts the numeric types that reach us from JSON decoding
// and native callers. Strings are not coerced.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

// toClockMinutes parses a time-of-day as minutes since midnight.
// Accepts "HH:MM" strings and time.Time values (local clock time).
func toClockMinutes(v any) (int, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.Hour()*60 + t.Minute(), true
	case string:
		parts := strings.SplitN(t, ":", 2)
		if len(parts) != 2 {
			return 0, false
		}
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return 0, false
		}
		return h*60 + m, true
	}
	return 0, false
}

// toSlice normalises the set payloads JSON decoding produces.
func toSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list, got %T", v)
}

// equalValues compares two scalars: numerically when both sides are
// numeric (so int 5 equals float64 5 from JSON), by string otherwise.
func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return a == b
}
