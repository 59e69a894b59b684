package expr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// Validation error codes (E300-E399)
const (
	ErrMalformed       = "E301" // not a JSON object, or an unknown shape
	ErrUnknownOperator = "E302" // op outside the supported set
	ErrInvalidField    = "E303" // empty or unparsable field path
	ErrInvalidValue    = "E304" // missing value or wrong value type for op
	ErrEmptyCombinator = "E305" // and/or with no operands
	ErrAmbiguousNode   = "E306" // node mixes combinator and comparison keys
)

// Op is a comparison operator.
type Op string

const (
	OpEq   Op = "eq"
	OpNe   Op = "ne"
	OpGt   Op = "gt"
	OpGte  Op = "gte"
	OpLt   Op = "lt"
	OpLte  Op = "lte"
	OpLike Op = "like"
	OpIn   Op = "in"
)

// Operators lists every supported comparison operator.
var Operators = []Op{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpLike, OpIn}

// Expression is a compiled condition. It is immutable and safe for
// concurrent use.
type Expression struct {
	root   node
	fields []string
}

// Compile parses a stored condition. Empty input (or JSON null) compiles to
// an expression that always holds.
func Compile(raw []byte) (*Expression, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &Expression{root: alwaysNode{}}, nil
	}

	var tree any
	if err := json.Unmarshal(trimmed, &tree); err != nil {
		return nil, ir.ValidationError{
			Field:   "condition",
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    ErrMalformed,
		}
	}

	c := &compiler{}
	root, err := c.compile(tree, "condition")
	if err != nil {
		return nil, err
	}
	slices.Sort(c.fields)
	return &Expression{root: root, fields: slices.Compact(c.fields)}, nil
}

// MustCompile is like Compile but panics on error.
// Use only in tests or for conditions known to be valid.
func MustCompile(raw string) *Expression {
	e, err := Compile([]byte(raw))
	if err != nil {
		panic(err)
	}
	return e
}

// Validate reports whether raw compiles.
func Validate(raw []byte) error {
	_, err := Compile(raw)
	return err
}

// Evaluate judges the expression against a record snapshot.
func (e *Expression) Evaluate(record ir.Record) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("condition evaluation panicked", "panic", r)
			result = false
		}
	}()
	return e.root.eval(map[string]any(record))
}

// Fields returns the field paths the expression reads, sorted.
func (e *Expression) Fields() []string {
	return e.fields
}

// IsAlways reports whether the expression is the empty condition.
func (e *Expression) IsAlways() bool {
	_, ok := e.root.(alwaysNode)
	return ok
}

type compiler struct {
	fields []string
}

func (c *compiler) compile(tree any, at string) (node, error) {
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, ir.ValidationError{Field: at, Message: "expected an object", Code: ErrMalformed}
	}

	combinators := 0
	for _, k := range []string{"and", "or", "not"} {
		if _, ok := obj[k]; ok {
			combinators++
		}
	}
	_, hasField := obj["field"]
	if combinators > 1 || (combinators == 1 && (hasField || len(obj) != 1)) {
		return nil, ir.ValidationError{
			Field:   at,
			Message: "a node is exactly one of and, or, not, or a field comparison",
			Code:    ErrAmbiguousNode,
		}
	}

	switch {
	case hasKey(obj, "and"):
		children, err := c.compileList(obj["and"], at+".and")
		if err != nil {
			return nil, err
		}
		return andNode{children: children}, nil
	case hasKey(obj, "or"):
		children, err := c.compileList(obj["or"], at+".or")
		if err != nil {
			return nil, err
		}
		return orNode{children: children}, nil
	case hasKey(obj, "not"):
		child, err := c.compile(obj["not"], at+".not")
		if err != nil {
			return nil, err
		}
		return notNode{child: child}, nil
	case hasField:
		return c.compileComparison(obj, at)
	}
	return nil, ir.ValidationError{
		Field:   at,
		Message: "expected and, or, not, or field",
		Code:    ErrMalformed,
	}
}

func (c *compiler) compileList(v any, at string) ([]node, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, ir.ValidationError{Field: at, Message: "expected an array", Code: ErrMalformed}
	}
	if len(items) == 0 {
		return nil, ir.ValidationError{Field: at, Message: "needs at least one operand", Code: ErrEmptyCombinator}
	}
	out := make([]node, len(items))
	for i, item := range items {
		n, err := c.compile(item, fmt.Sprintf("%s[%d]", at, i))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (c *compiler) compileComparison(obj map[string]any, at string) (node, error) {
	for k := range obj {
		if k != "field" && k != "op" && k != "value" {
			return nil, ir.ValidationError{
				Field:   at + "." + k,
				Message: "unknown key in comparison",
				Code:    ErrMalformed,
			}
		}
	}

	field, _ := obj["field"].(string)
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, ir.ValidationError{Field: at + ".field", Message: "field must be a non-empty string", Code: ErrInvalidField}
	}
	path, err := jmespath.Compile(field)
	if err != nil {
		return nil, ir.ValidationError{
			Field:   at + ".field",
			Message: fmt.Sprintf("invalid field path %q: %v", field, err),
			Code:    ErrInvalidField,
		}
	}

	opStr, _ := obj["op"].(string)
	op := Op(strings.ToLower(opStr))
	if !slices.Contains(Operators, op) {
		return nil, ir.ValidationError{
			Field:   at + ".op",
			Message: fmt.Sprintf("unknown operator %q", opStr),
			Code:    ErrUnknownOperator,
		}
	}

	value, ok := obj["value"]
	if !ok {
		return nil, ir.ValidationError{Field: at + ".value", Message: "value is required", Code: ErrInvalidValue}
	}

	cmp := comparison{field: field, path: path, op: op, value: value}
	switch op {
	case OpLike:
		pattern, ok := value.(string)
		if !ok {
			return nil, ir.ValidationError{Field: at + ".value", Message: "like requires a string pattern", Code: ErrInvalidValue}
		}
		cmp.pattern = likePattern(pattern)
	case OpIn:
		set, ok := value.([]any)
		if !ok {
			return nil, ir.ValidationError{Field: at + ".value", Message: "in requires an array", Code: ErrInvalidValue}
		}
		cmp.set = set
	case OpGt, OpGte, OpLt, OpLte:
		if !isOrdered(value) {
			return nil, ir.ValidationError{
				Field:   at + ".value",
				Message: fmt.Sprintf("%s requires a number or string", op),
				Code:    ErrInvalidValue,
			}
		}
	}

	c.fields = append(c.fields, field)
	return cmp, nil
}

func hasKey(obj map[string]any, k string) bool {
	_, ok := obj[k]
	return ok
}

// likePattern converts a SQL LIKE pattern (% and _) to an anchored,
// case-insensitive regular expression.
func likePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
