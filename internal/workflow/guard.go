package workflow

import "strings"

// LookupContext supplies the namespaces a guard expression may probe. Both
// the context. and task_result. prefixes resolve against TransitionContext:
// the original treats them as aliases for the same transition-context map,
// not two distinct namespaces.
type LookupContext struct {
	Ticket            map[string]any
	WorkflowInput     map[string]any
	TransitionContext map[string]any
}

// EvaluateWhen evaluates a transition's guard expression against lc,
// following the mini-language defined in the specification:
//
//	empty / "true" / "always"  -> true
//	"false" / "never"          -> false
//	LHS OP RHS (OP in ==, !=)  -> literal comparison
//	not X / !X                 -> negated truthiness of lookup X
//	X                          -> truthiness of lookup X
func EvaluateWhen(expr string, lc LookupContext) bool {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	switch lower {
	case "true", "always":
		return true
	case "false", "never":
		return false
	}

	if op, lhs, rhs, ok := splitComparison(trimmed); ok {
		left, _ := lookup(lhs, lc)
		right := coerceLiteral(rhs)
		equal := valuesEqual(left, right)
		if op == "==" {
			return equal
		}
		return !equal
	}

	negate := false
	rest := trimmed
	if strings.HasPrefix(rest, "!") {
		negate = true
		rest = strings.TrimSpace(rest[1:])
	} else if strings.HasPrefix(lower, "not ") {
		negate = true
		rest = strings.TrimSpace(trimmed[4:])
	}

	val, _ := lookup(rest, lc)
	truthy := isTruthy(val)
	if negate {
		return !truthy
	}
	return truthy
}

// splitComparison finds a top-level == or != operator, returning the
// operator and the trimmed operands. The original only ever sees these two
// operators, so no operator-precedence handling is needed.
func splitComparison(expr string) (op, lhs, rhs string, ok bool) {
	if idx := strings.Index(expr, "!="); idx >= 0 {
		return "!=", strings.TrimSpace(expr[:idx]), strings.TrimSpace(expr[idx+2:]), true
	}
	if idx := strings.Index(expr, "=="); idx >= 0 {
		return "==", strings.TrimSpace(expr[:idx]), strings.TrimSpace(expr[idx+2:]), true
	}
	return "", "", "", false
}

// coerceLiteral turns an RHS token into its typed value: a quoted string,
// true/false, none/null, an integer, a float, or (failing all of the
// above) the raw token treated as a bare string.
func coerceLiteral(token string) any {
	t := strings.TrimSpace(token)
	if len(t) >= 2 {
		if (t[0] == '\'' && t[len(t)-1] == '\'') || (t[0] == '"' && t[len(t)-1] == '"') {
			return t[1 : len(t)-1]
		}
	}
	switch strings.ToLower(t) {
	case "true":
		return true
	case "false":
		return false
	case "none", "null":
		return nil
	}
	if n, ok := parseInt(t); ok {
		return n
	}
	if f, ok := parseFloat(t); ok {
		return f
	}
	return t
}

func parseInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	neg := false
	i := 0
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		i = 1
	}
	if i == len(s) {
		return 0, false
	}
	var n int64
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}

func parseFloat(s string) (float64, bool) {
	if !strings.Contains(s, ".") {
		return 0, false
	}
	neg := false
	body := s
	if len(body) > 0 && (body[0] == '-' || body[0] == '+') {
		neg = body[0] == '-'
		body = body[1:]
	}
	parts := strings.SplitN(body, ".", 2)
	if len(parts) != 2 {
		return 0, false
	}
	intPart, ok1 := parseInt(parts[0])
	if parts[0] != "" && !ok1 {
		return 0, false
	}
	fracStr := parts[1]
	fracPart, ok2 := parseInt(fracStr)
	if fracStr != "" && !ok2 {
		return 0, false
	}
	f := float64(intPart)
	if fracStr != "" {
		div := 1.0
		for range fracStr {
			div *= 10
		}
		f += float64(fracPart) / div
	}
	if neg {
		f = -f
	}
	return f, true
}

// lookup resolves a path against lc following the resolution order defined
// by the specification: a namespaced prefix dotted-path descends into that
// map; a bare name falls back through transition_context, workflow_input,
// then the ticket map itself.
func lookup(path string, lc LookupContext) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "ticket":
		return dig(lc.Ticket, parts[1:])
	case "context":
		return dig(lc.TransitionContext, parts[1:])
	case "workflow_input":
		return dig(lc.WorkflowInput, parts[1:])
	case "task_result":
		return dig(lc.TransitionContext, parts[1:])
	}
	if v, ok := dig(lc.TransitionContext, parts); ok {
		return v, true
	}
	if v, ok := dig(lc.WorkflowInput, parts); ok {
		return v, true
	}
	if v, ok := dig(lc.Ticket, parts); ok {
		return v, true
	}
	return nil, false
}

// dig performs dotted-path descent into a map tree. A missing segment at
// any depth yields (nil, false) rather than an error, matching the
// original's _dig behavior of degrading a guard comparison to null instead
// of raising.
func dig(m map[string]any, parts []string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if len(parts) == 0 {
		return m, true
	}
	cur := any(m)
	for _, p := range parts {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := asMap[p]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func isTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
