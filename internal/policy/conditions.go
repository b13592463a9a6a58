package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Request is the evaluation context for policy matching.
type Request struct {
	ApprovalType string         `json:"approval_type"`
	ActorType    string         `json:"actor_type"`
	ActorID      string         `json:"actor_id"` // the maker
	StaffRole    string         `json:"staff_role,omitempty"`
	Currency     string         `json:"currency,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// resolveField looks up a condition field: the fixed top-level keys or a
// payload.<path> walk through nested maps.
func resolveField(req Request, field string) (any, bool) {
	switch field {
	case "approval_type":
		return req.ApprovalType, true
	case "actor_type":
		return req.ActorType, true
	case "actor_id":
		return req.ActorID, true
	case "staff_role":
		return req.StaffRole, true
	}
	if rest, ok := strings.CutPrefix(field, "payload."); ok {
		var cur any = req.Payload
		for _, part := range strings.Split(rest, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[part]
			if !ok {
				return nil, false
			}
		}
		return cur, true
	}
	return nil, false
}

// evalCondition applies one condition against the request.
func evalCondition(req Request, c Condition) (bool, error) {
	val, present := resolveField(req, c.Field)
	return EvalOperator(val, present, c)
}

// EvalOperator applies a condition's operator to an already-resolved field
// value. Callers with their own field namespace (fraud contexts) share the
// operator semantics through this.
func EvalOperator(val any, present bool, c Condition) (bool, error) {
	if c.Operator == OpExists {
		return present, nil
	}
	if !present {
		return false, nil
	}
	switch c.Operator {
	case OpEq:
		return looseEqual(val, c.Value), nil
	case OpNeq:
		return !looseEqual(val, c.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(val)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false, nil
		}
		switch c.Operator {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case OpIn, OpNotIn:
		list, ok := toSlice(c.Value)
		if !ok {
			return false, fmt.Errorf("operator %s requires a list value", c.Operator)
		}
		found := false
		for _, item := range list {
			if looseEqual(val, item) {
				found = true
				break
			}
		}
		if c.Operator == OpIn {
			return found, nil
		}
		return !found, nil
	case OpContains:
		if list, ok := toSlice(val); ok {
			for _, item := range list {
				if looseEqual(item, c.Value) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(asString(val), asString(c.Value)), nil
	case OpRegex:
		re, err := regexp.Compile(asString(c.Value))
		if err != nil {
			return false, fmt.Errorf("invalid regex condition on %s: %w", c.Field, err)
		}
		return re.MatchString(asString(val)), nil
	case OpBetween:
		bounds, ok := toSlice(c.Value)
		if !ok || len(bounds) != 2 {
			return false, fmt.Errorf("operator between requires [low, high]")
		}
		a, aok := toFloat(val)
		lo, lok := toFloat(bounds[0])
		hi, hok := toFloat(bounds[1])
		if !aok || !lok || !hok {
			return false, nil
		}
		return a >= lo && a <= hi, nil
	}
	return false, fmt.Errorf("unknown operator %q", c.Operator)
}

// looseEqual compares numerically when both sides parse as numbers,
// otherwise by string form. JSON decoding yields float64 for every number,
// so strict type equality would reject legitimate matches.
func looseEqual(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}
	return asString(a) == asString(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
