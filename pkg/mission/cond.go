package mission

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// The condition language gates steps on the outputs of their
// dependencies. It is a fixed, side-effect-free subset: dotted
// identifiers, numeric literals, comparisons and boolean connectives.
//
//	score > 80
//	collector.items.length >= 3 && analyzer.confidence != 0
//
// Identifiers resolve against a view of the step's dependency outputs;
// a trailing "length" segment on a string or array yields its length.
// Anything that fails to resolve evaluates to null, and null never
// satisfies a comparison.

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func lexCondition(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '&' || c == '|':
			if i+1 >= len(input) || input[i+1] != c {
				return nil, fmt.Errorf("unexpected %q", string(c))
			}
			toks = append(toks, token{tokOp, input[i : i+2]})
			i += 2
		case c == '<' || c == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokOp, input[i : i+2]})
				i += 2
			} else {
				toks = append(toks, token{tokOp, string(c)})
				i++
			}
		case c == '=' || c == '!':
			if i+1 >= len(input) || input[i+1] != '=' {
				return nil, fmt.Errorf("unexpected %q", string(c))
			}
			toks = append(toks, token{tokOp, input[i : i+2]})
			i += 2
		case c >= '0' && c <= '9':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, input[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_' || input[j] == '.') {
				j++
			}
			toks = append(toks, token{tokIdent, input[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q", string(c))
		}
	}
	return append(toks, token{tokEOF, ""}), nil
}

type condExpr interface {
	eval(view map[string]any) (any, error)
}

type numberExpr struct{ val float64 }

func (e numberExpr) eval(map[string]any) (any, error) { return e.val, nil }

type identExpr struct{ path []string }

func (e identExpr) eval(view map[string]any) (any, error) {
	return resolvePath(view, e.path), nil
}

type binaryExpr struct {
	op          string
	left, right condExpr
}

func (e binaryExpr) eval(view map[string]any) (any, error) {
	l, err := e.left.eval(view)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case "&&", "||":
		lb, ok := l.(bool)
		if !ok {
			return nil, fmt.Errorf("left of %s is not boolean", e.op)
		}
		// The language is side-effect free, so the right side is always
		// evaluated; a type error there is an invalid condition even when
		// the left side already decides the result.
		r, err := e.right.eval(view)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("right of %s is not boolean", e.op)
		}
		if e.op == "&&" {
			return lb && rb, nil
		}
		return lb || rb, nil
	}

	r, err := e.right.eval(view)
	if err != nil {
		return nil, err
	}
	return compare(e.op, l, r)
}

// compare applies a comparison operator. Null operands satisfy nothing:
// a condition against an absent value is simply not met.
func compare(op string, l, r any) (bool, error) {
	if l == nil || r == nil {
		return false, nil
	}

	lf, lNum := l.(float64)
	rf, rNum := r.(float64)
	if lNum && rNum {
		switch op {
		case "<":
			return lf < rf, nil
		case ">":
			return lf > rf, nil
		case "<=":
			return lf <= rf, nil
		case ">=":
			return lf >= rf, nil
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		}
	}

	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	}
	return false, fmt.Errorf("cannot order %T and %T", l, r)
}

type condParser struct {
	toks []token
	pos  int
}

func (p *condParser) peek() token { return p.toks[p.pos] }

func (p *condParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *condParser) parseOr() (condExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.peek().text == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseAnd() (condExpr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.peek().text == "&&" {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: "&&", left: left, right: right}
	}
	return left, nil
}

var comparisonOps = map[string]bool{
	"<": true, ">": true, "<=": true, ">=": true, "==": true, "!=": true,
}

func (p *condParser) parseComparison() (condExpr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokOp && comparisonOps[t.text] {
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return binaryExpr{op: t.text, left: left, right: right}, nil
	}
	return left, nil
}

func (p *condParser) parsePrimary() (condExpr, error) {
	switch t := p.next(); t.kind {
	case tokNumber:
		val, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return numberExpr{val: val}, nil
	case tokIdent:
		return identExpr{path: strings.Split(t.text, ".")}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// resolvePath walks a dotted identifier through decoded JSON. Missing
// keys yield nil rather than an error so conditions against absent
// data evaluate to not-met instead of aborting the mission.
func resolvePath(view map[string]any, path []string) any {
	var cur any = view[path[0]]
	for _, seg := range path[1:] {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[seg]
		case string:
			if seg == "length" {
				return float64(len(v))
			}
			return nil
		case []any:
			if seg == "length" {
				return float64(len(v))
			}
			return nil
		default:
			return nil
		}
	}
	return cur
}

// evalCondition parses and evaluates a step condition against the view
// of dependency outputs. A parse error, evaluation error or non-boolean
// result is returned as an error; callers record it and skip the step.
func evalCondition(cond string, view map[string]any) (bool, error) {
	toks, err := lexCondition(cond)
	if err != nil {
		return false, err
	}

	p := &condParser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.peek().kind != tokEOF {
		return false, fmt.Errorf("unexpected trailing %q", p.peek().text)
	}

	result, err := expr.eval(view)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition is not boolean")
	}
	return b, nil
}
