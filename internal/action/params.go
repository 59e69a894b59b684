package action

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// placeholder matches ${...} references in string parameters.
var placeholder = regexp.MustCompile(`\$\{([^{}]+)\}`)

var (
	pathMu    sync.Mutex
	pathCache = make(map[string]*jmespath.JMESPath)
)

// compiledPath returns a cached compiled JMESPath expression.
func compiledPath(expr string) (*jmespath.JMESPath, error) {
	pathMu.Lock()
	defer pathMu.Unlock()
	if jp, ok := pathCache[expr]; ok {
		return jp, nil
	}
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, err
	}
	pathCache[expr] = jp
	return jp, nil
}

// ResolveParams substitutes placeholders in params:
//
//	${record.<path>}  JMESPath into the triggering record
//	${record_id}      the record id
//	${entity_type}    the entity type
//	${actor}          the acting user id
//	${rule.id}        the firing rule id
//	${tenant}         the tenant id
//
// A string that is exactly one placeholder takes the referenced value with
// its type preserved; placeholders embedded in longer strings are
// formatted. Unresolvable references become null (or "" when embedded).
// The input is never modified.
func ResolveParams(params map[string]any, ec *ExecContext) map[string]any {
	if params == nil {
		return nil
	}
	out, _ := resolveValue(params, ec).(map[string]any)
	return out
}

func resolveValue(v any, ec *ExecContext) any {
	switch t := v.(type) {
	case string:
		return resolveString(t, ec)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = resolveValue(e, ec)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = resolveValue(e, ec)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, ec *ExecContext) any {
	if !strings.Contains(s, "${") {
		return s
	}
	if m := placeholder.FindStringSubmatch(s); m != nil && m[0] == s {
		v, _ := lookup(strings.TrimSpace(m[1]), ec)
		return v
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		ref := strings.TrimSpace(match[2 : len(match)-1])
		v, ok := lookup(ref, ec)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

func lookup(ref string, ec *ExecContext) (any, bool) {
	if ec == nil {
		return nil, false
	}
	switch ref {
	case "actor":
		return ec.Actor.UserID, true
	case "rule.id":
		return ec.RuleID, true
	case "record_id":
		return ec.RecordID, true
	case "entity_type":
		return ec.EntityType, true
	case "tenant":
		return ec.TenantID, true
	case "record":
		return map[string]any(ec.Record), ec.Record != nil
	}
	path, ok := strings.CutPrefix(ref, "record.")
	if !ok || ec.Record == nil {
		return nil, false
	}
	jp, err := compiledPath(path)
	if err != nil {
		return nil, false
	}
	v, err := jp.Search(map[string]any(ec.Record))
	if err != nil {
		return nil, false
	}
	return v, v != nil
}

// HasPlaceholder reports whether s references the execution context.
func HasPlaceholder(s string) bool {
	return placeholder.MatchString(s)
}

// stringParam returns a string parameter or "".
func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// Names placeholders may reference, for static checks.
var knownRefs = map[string]bool{
	"actor": true, "rule.id": true, "record_id": true, "entity_type": true, "tenant": true, "record": true,
}

// checkPlaceholders reports the first malformed reference in any string
// parameter.
func checkPlaceholders(v any) error {
	switch t := v.(type) {
	case string:
		for _, m := range placeholder.FindAllStringSubmatch(t, -1) {
			ref := strings.TrimSpace(m[1])
			if knownRefs[ref] {
				continue
			}
			path, ok := strings.CutPrefix(ref, "record.")
			if !ok {
				return fmt.Errorf("unknown placeholder ${%s}", ref)
			}
			if _, err := compiledPath(path); err != nil {
				return fmt.Errorf("placeholder ${%s}: %w", ref, err)
			}
		}
	case map[string]any:
		for _, e := range t {
			if err := checkPlaceholders(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range t {
			if err := checkPlaceholders(e); err != nil {
				return err
			}
		}
	}
	return nil
}
