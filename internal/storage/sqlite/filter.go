package sqlite

import (
	"encoding/json"
	"fmt"
)

func decodeJSONObject(value []byte) (map[string]any, bool) {
	if len(value) == 0 {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

func filterMatches(fieldValue any, op string, want any) bool {
	switch op {
	case "", "=", "eq":
		return fmt.Sprint(fieldValue) == fmt.Sprint(want)
	case "!=", "ne":
		return fmt.Sprint(fieldValue) != fmt.Sprint(want)
	case ">", "gt":
		return compareNumeric(fieldValue, want) > 0
	case ">=", "gte":
		return compareNumeric(fieldValue, want) >= 0
	case "<", "lt":
		return compareNumeric(fieldValue, want) < 0
	case "<=", "lte":
		return compareNumeric(fieldValue, want) <= 0
	default:
		return false
	}
}

func compareNumeric(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0
	}
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
