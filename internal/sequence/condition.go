package sequence

import (
	"fmt"
	"strconv"
	"strings"
)

// EvaluateCondition evaluates an infix boolean expression against ctx's
// variables (spec §4.D): comparisons `== != < > <= >=` chained with
// `AND`/`OR`, left to right, no operator precedence beyond that (AND/OR
// have equal precedence, matching the reference implementation's simple
// left-to-right scan). Operands are either context variable names or
// literals (numeric or quoted string); comparison is numeric if both sides
// parse as numbers, otherwise string comparison.
func EvaluateCondition(expr string, ctx *ExecutionContext) (bool, error) {
	tokens := tokenizeCondition(expr)
	if len(tokens) == 0 {
		return false, fmt.Errorf("sequence: empty condition expression")
	}

	result, rest, err := evalComparison(tokens, ctx)
	if err != nil {
		return false, err
	}
	for len(rest) > 0 {
		op := strings.ToUpper(rest[0])
		if op != "AND" && op != "OR" {
			return false, fmt.Errorf("sequence: expected AND/OR, got %q", rest[0])
		}
		var next bool
		next, rest, err = evalComparison(rest[1:], ctx)
		if err != nil {
			return false, err
		}
		if op == "AND" {
			result = result && next
		} else {
			result = result || next
		}
	}
	return result, nil
}

// tokenizeCondition splits on whitespace but keeps quoted strings intact.
func tokenizeCondition(expr string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	for _, r := range expr {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
}

// evalComparison consumes exactly "lhs op rhs" from tokens and returns the
// remaining tokens for the AND/OR chain to continue with.
func evalComparison(tokens []string, ctx *ExecutionContext) (bool, []string, error) {
	if len(tokens) < 3 {
		return false, nil, fmt.Errorf("sequence: malformed comparison near %v", tokens)
	}
	lhsTok, opTok, rhsTok := tokens[0], tokens[1], tokens[2]
	if !comparisonOps[opTok] {
		return false, nil, fmt.Errorf("sequence: unknown comparison operator %q", opTok)
	}

	lhs := resolveOperand(lhsTok, ctx)
	rhs := resolveOperand(rhsTok, ctx)

	result, err := compare(lhs, opTok, rhs)
	if err != nil {
		return false, nil, err
	}
	return result, tokens[3:], nil
}

// resolveOperand resolves a token to its value: a quoted string literal, a
// numeric literal, or a context variable name (falling back to the raw
// token if unset, to tolerate comparisons against not-yet-set variables).
func resolveOperand(tok string, ctx *ExecutionContext) any {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return tok[1 : len(tok)-1]
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f
	}
	if v, ok := ctx.Variable(tok); ok {
		return v
	}
	return tok
}

func compare(lhs any, op string, rhs any) (bool, error) {
	lf, lok := toFloat(lhs)
	rf, rok := toFloat(rhs)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case ">":
			return lf > rf, nil
		case "<=":
			return lf <= rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls := fmt.Sprintf("%v", lhs)
	rs := fmt.Sprintf("%v", rhs)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case ">":
		return ls > rs, nil
	case "<=":
		return ls <= rs, nil
	case ">=":
		return ls >= rs, nil
	default:
		return false, fmt.Errorf("sequence: unsupported operator %q for string comparison", op)
	}
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
	default:
		return 0, false
	}
}
