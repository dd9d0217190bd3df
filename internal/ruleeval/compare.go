package ruleeval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
)

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compareEq(actual, expected any, caseSensitive bool) bool {
	as, aIsStr := actual.(string)
	es, eIsStr := expected.(string)
	if aIsStr && eIsStr {
		if caseSensitive {
			return as == es
		}
		return strings.EqualFold(as, es)
	}
	af, aOK := toFloat(actual)
	ef, eOK := toFloat(expected)
	if aOK && eOK {
		return af == ef
	}
	return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
}

func compareOrdered(actual, expected any, op rulemodel.Operator) bool {
	af, aOK := toFloat(actual)
	ef, eOK := toFloat(expected)
	var cmp int
	if aOK && eOK {
		switch {
		case af < ef:
			cmp = -1
		case af > ef:
			cmp = 1
		}
	} else {
		as := toString(actual)
		es := toString(expected)
		cmp = strings.Compare(as, es)
	}
	switch op {
	case rulemodel.OpLt:
		return cmp < 0
	case rulemodel.OpLte:
		return cmp <= 0
	case rulemodel.OpGt:
		return cmp > 0
	case rulemodel.OpGte:
		return cmp >= 0
	default:
		return false
	}
}

func stringsContains(haystack, needle string) bool  { return strings.Contains(haystack, needle) }
func stringsHasPrefix(haystack, needle string) bool { return strings.HasPrefix(haystack, needle) }
func stringsHasSuffix(haystack, needle string) bool { return strings.HasSuffix(haystack, needle) }

func stringOp(actual, expected any, caseSensitive bool, op func(string, string) bool) bool {
	a := toString(actual)
	e := toString(expected)
	if !caseSensitive {
		a = strings.ToLower(a)
		e = strings.ToLower(e)
	}
	return op(a, e)
}

func inSet(actual, expected any, caseSensitive bool) bool {
	list, ok := expected.([]any)
	if !ok {
		if strList, ok := expected.([]string); ok {
			for _, s := range strList {
				if compareEq(actual, s, caseSensitive) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range list {
		if compareEq(actual, item, caseSensitive) {
			return true
		}
	}
	return false
}
