package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/tools"
)

const calculatorName = "calculator"

var calculatorParams = json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string","description":"Arithmetic expression using + - * / % ^ and parentheses, e.g. (2+3)*4"}},"required":["expression"]}`)

// Calculator evaluates arithmetic expressions.
type Calculator struct{}

var _ tools.Tool = Calculator{}

// Definition describes the calculator tool.
func (Calculator) Definition() tools.Definition {
	return tools.Definition{
		Name:        calculatorName,
		Description: "Evaluate an arithmetic expression and return the numeric result",
		Parameters:  calculatorParams,
		Idempotent:  true,
	}
}

// Call evaluates the "expression" argument.
func (Calculator) Call(_ context.Context, args map[string]any) (string, error) {
	expr, err := tools.StringArg(args, "expression")
	if err != nil {
		return "", &api.ToolExecutionError{ToolName: calculatorName, Err: err}
	}
	v, err := Evaluate(expr)
	if err != nil {
		return "", &api.ToolExecutionError{ToolName: calculatorName, Err: err}
	}
	return strconv.FormatFloat(v, 'g', -1, 64), nil
}

// Evaluate parses and evaluates an arithmetic expression. Supported:
// numbers, unary minus, + - * / % ^ (right associative) and parentheses.
func Evaluate(expr string) (float64, error) {
	p := &exprParser{src: expr}
	p.next()
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return v, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokOp
	tokLParen
	tokRParen
	tokInvalid
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

type exprParser struct {
	src string
	off int
	tok token
}

func (p *exprParser) next() {
	for p.off < len(p.src) && unicode.IsSpace(rune(p.src[p.off])) {
		p.off++
	}
	if p.off >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: p.off}
		return
	}

	start := p.off
	c := p.src[p.off]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		for p.off < len(p.src) && (p.src[p.off] >= '0' && p.src[p.off] <= '9' || p.src[p.off] == '.') {
			p.off++
		}
		text := p.src[start:p.off]
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.tok = token{kind: tokInvalid, text: text, pos: start}
			return
		}
		p.tok = token{kind: tokNum, text: text, num: n, pos: start}
	case strings.IndexByte("+-*/%^", c) >= 0:
		p.off++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	case c == '(':
		p.off++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		p.off++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	default:
		p.off++
		p.tok = token{kind: tokInvalid, text: string(c), pos: start}
	}
}

func (p *exprParser) isOp(ops string) bool {
	return p.tok.kind == tokOp && strings.Contains(ops, p.tok.text)
}

func (p *exprParser) parseSum() (float64, error) {
	v, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for p.isOp("+-") {
		op := p.tok.text
		p.next()
		r, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			v += r
		} else {
			v -= r
		}
	}
	return v, nil
}

func (p *exprParser) parseProduct() (float64, error) {
	v, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for p.isOp("*/%") {
		op := p.tok.text
		pos := p.tok.pos
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			v *= r
		case "/":
			if r == 0 {
				return 0, fmt.Errorf("division by zero at offset %d", pos)
			}
			v /= r
		case "%":
			if r == 0 {
				return 0, fmt.Errorf("modulo by zero at offset %d", pos)
			}
			v = math.Mod(v, r)
		}
	}
	return v, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.isOp("+-") {
		neg := p.tok.text == "-"
		p.next()
		v, err := p.parseUnary()
		if neg {
			v = -v
		}
		return v, err
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (float64, error) {
	switch p.tok.kind {
	case tokNum:
		v := p.tok.num
		p.next()
		return v, nil
	case tokLParen:
		p.next()
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.tok.kind != tokRParen {
			return 0, fmt.Errorf("missing ')' at offset %d", p.tok.pos)
		}
		p.next()
		return v, nil
	case tokEOF:
		return 0, fmt.Errorf("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
}
