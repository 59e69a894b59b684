package expr

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/jmespath/go-jmespath"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// node is a sealed interface over the compiled tree.
type node interface {
	eval(record map[string]any) bool
	isNode()
}

type alwaysNode struct{}

func (alwaysNode) isNode() {}

func (alwaysNode) eval(map[string]any) bool { return true }

type andNode struct{ children []node }

func (andNode) isNode() {}

func (n andNode) eval(record map[string]any) bool {
	for _, c := range n.children {
		if !c.eval(record) {
			return false
		}
	}
	return true
}

type orNode struct{ children []node }

func (orNode) isNode() {}

func (n orNode) eval(record map[string]any) bool {
	for _, c := range n.children {
		if c.eval(record) {
			return true
		}
	}
	return false
}

type notNode struct{ child node }

func (notNode) isNode() {}

func (n notNode) eval(record map[string]any) bool {
	return !n.child.eval(record)
}

type comparison struct {
	field   string
	path    *jmespath.JMESPath
	op      Op
	value   any
	pattern *regexp.Regexp // like
	set     []any          // in
}

func (comparison) isNode() {}

func (c comparison) eval(record map[string]any) bool {
	actual, err := c.path.Search(record)
	if err != nil || actual == nil {
		// Absent and null fields never satisfy a comparison, including ne.
		return false
	}

	switch c.op {
	case OpEq:
		return equal(actual, c.value)
	case OpNe:
		return !equal(actual, c.value)
	case OpGt:
		cmp, ok := order(actual, c.value)
		return ok && cmp > 0
	case OpGte:
		cmp, ok := order(actual, c.value)
		return ok && cmp >= 0
	case OpLt:
		cmp, ok := order(actual, c.value)
		return ok && cmp < 0
	case OpLte:
		cmp, ok := order(actual, c.value)
		return ok && cmp <= 0
	case OpLike:
		s, ok := actual.(string)
		return ok && c.pattern.MatchString(s)
	case OpIn:
		for _, candidate := range c.set {
			if equal(actual, candidate) {
				return true
			}
		}
		return false
	}
	return false
}

// equal compares numbers numerically and everything else by canonical form.
func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return ir.ValuesEqual(a, b)
}

// order compares two numbers, two timestamps, or two strings. ok is false on
// a type mismatch.
func order(a, b any) (cmp int, ok bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return compare(fa, fb), true
	}

	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	if ta, err := time.Parse(time.RFC3339, sa); err == nil {
		if tb, err := time.Parse(time.RFC3339, sb); err == nil {
			return ta.Compare(tb), true
		}
	}
	return compare(sa, sb), true
}

func compare[T float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func isOrdered(v any) bool {
	if _, ok := toFloat(v); ok {
		return true
	}
	_, ok := v.(string)
	return ok
}

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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
