package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Expression is a compiled boolean expression. Supported grammar:
//
//	or      := and (("||" | "or") and)*
//	and     := not (("&&" | "and") not)*
//	not     := ("!" | "not") not | compare
//	compare := primary (("==" | "!=" | "<" | ">" | "<=" | ">=") primary)?
//	primary := number | string | true | false | null | path | "(" or ")" | "-" number
//
// Paths resolve against the input with Lookup; a leading "input." is optional.
// Nothing outside this grammar can be evaluated.
type Expression struct {
	source string
	root   exprNode
}

// Compile parses source into an Expression.
func Compile(source string) (*Expression, error) {
	tokens, err := tokenize(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, err)
	}

	p := &parser{tokens: tokens}

	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, err)
	}

	if p.current().typ != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrInvalidExpression, p.current().value, p.current().pos)
	}

	return &Expression{source: source, root: root}, nil
}

func (e *Expression) String() string {
	return e.source
}

// Eval evaluates the expression against input. Non-boolean results are errors.
func (e *Expression) Eval(input map[string]any) (bool, error) {
	value, err := e.root.eval(input)
	if err != nil {
		return false, err
	}

	result, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, not bool", e.source, value)
	}

	return result, nil
}

type exprNode interface {
	eval(input map[string]any) (any, error)
}

type literalNode struct {
	value any
}

func (n literalNode) eval(map[string]any) (any, error) {
	return n.value, nil
}

type pathNode struct {
	path string
}

func (n pathNode) eval(input map[string]any) (any, error) {
	if v, ok := Lookup(input, n.path); ok {
		return v, nil
	}

	if rest, ok := strings.CutPrefix(n.path, "input."); ok {
		v, _ := Lookup(input, rest)

		return v, nil
	}

	if n.path == "input" {
		return input, nil
	}

	return nil, nil
}

type notNode struct {
	operand exprNode
}

func (n notNode) eval(input map[string]any) (any, error) {
	v, err := evalBool(n.operand, input, "!")
	if err != nil {
		return nil, err
	}

	return !v, nil
}

// logicalNode holds a flat operand list so long && / || chains evaluate
// without recursion.
type logicalNode struct {
	and      bool
	operands []exprNode
}

func (n logicalNode) eval(input map[string]any) (any, error) {
	op := "||"
	if n.and {
		op = "&&"
	}

	for _, operand := range n.operands {
		value, err := evalBool(operand, input, op)
		if err != nil {
			return nil, err
		}

		if n.and && !value {
			return false, nil
		}

		if !n.and && value {
			return true, nil
		}
	}

	return n.and, nil
}

type compareNode struct {
	op          tokenType
	left, right exprNode
}

func (n compareNode) eval(input map[string]any) (any, error) {
	left, err := n.left.eval(input)
	if err != nil {
		return nil, err
	}

	right, err := n.right.eval(input)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEQ:
		return equals(left, right), nil
	case tokenNE:
		return !equals(left, right), nil
	}

	if x, ok := toNumber(left); ok {
		if y, ok := toNumber(right); ok {
			return orderResult(n.op, compareFloat(x, y)), nil
		}
	}

	ls, lok := left.(string)
	rs, rok := right.(string)

	if lok && rok {
		return orderResult(n.op, strings.Compare(ls, rs)), nil
	}

	return nil, fmt.Errorf("cannot order %T and %T", left, right)
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func orderResult(op tokenType, c int) bool {
	switch op {
	case tokenLT:
		return c < 0
	case tokenLE:
		return c <= 0
	case tokenGT:
		return c > 0
	case tokenGE:
		return c >= 0
	default:
		return false
	}
}

func evalBool(n exprNode, input map[string]any, op string) (bool, error) {
	v, err := n.eval(input)
	if err != nil {
		return false, err
	}

	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s requires boolean operands, got %T", op, v)
	}

	return b, nil
}

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenPath
	tokenNumber
	tokenString
	tokenTrue
	tokenFalse
	tokenNull
	tokenLParen
	tokenRParen
	tokenMinus
	tokenEQ
	tokenNE
	tokenLT
	tokenLE
	tokenGT
	tokenGE
	tokenAnd
	tokenOr
	tokenNot
)

type token struct {
	typ   tokenType
	value string
	pos   int
}

var twoCharOperators = map[string]tokenType{
	"==": tokenEQ,
	"!=": tokenNE,
	"<=": tokenLE,
	">=": tokenGE,
	"&&": tokenAnd,
	"||": tokenOr,
}

var keywords = map[string]tokenType{
	"true":  tokenTrue,
	"false": tokenFalse,
	"null":  tokenNull,
	"and":   tokenAnd,
	"or":    tokenOr,
	"not":   tokenNot,
}

func tokenize(src string) ([]token, error) {
	var tokens []token

	i := 0
	for i < len(src) {
		c := src[i]

		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			i++

			continue
		}

		if i+1 < len(src) {
			if typ, ok := twoCharOperators[src[i:i+2]]; ok {
				tokens = append(tokens, token{typ: typ, value: src[i : i+2], pos: i})
				i += 2

				continue
			}
		}

		switch c {
		case '(':
			tokens = append(tokens, token{typ: tokenLParen, value: "(", pos: i})
			i++

			continue
		case ')':
			tokens = append(tokens, token{typ: tokenRParen, value: ")", pos: i})
			i++

			continue
		case '<':
			tokens = append(tokens, token{typ: tokenLT, value: "<", pos: i})
			i++

			continue
		case '>':
			tokens = append(tokens, token{typ: tokenGT, value: ">", pos: i})
			i++

			continue
		case '!':
			tokens = append(tokens, token{typ: tokenNot, value: "!", pos: i})
			i++

			continue
		case '-':
			tokens = append(tokens, token{typ: tokenMinus, value: "-", pos: i})
			i++

			continue
		}

		if c == '"' || c == '\'' {
			value, next, err := readString(src, i)
			if err != nil {
				return nil, err
			}

			tokens = append(tokens, token{typ: tokenString, value: value, pos: i})
			i = next

			continue
		}

		if isDigit(c) {
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.' || src[i] == 'e' || src[i] == 'E') {
				i++
			}

			tokens = append(tokens, token{typ: tokenNumber, value: src[start:i], pos: start})

			continue
		}

		if isIdentStart(c) {
			start := i
			for i < len(src) && isPathChar(src[i]) {
				i++
			}

			word := src[start:i]
			if typ, ok := keywords[word]; ok {
				tokens = append(tokens, token{typ: typ, value: word, pos: start})
			} else {
				tokens = append(tokens, token{typ: tokenPath, value: word, pos: start})
			}

			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
	}

	return append(tokens, token{typ: tokenEOF, pos: len(src)}), nil
}

func readString(src string, start int) (string, int, error) {
	quote := src[start]

	var b strings.Builder

	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == '\\' && i+1 < len(src) {
			b.WriteByte(src[i+1])
			i += 2

			continue
		}

		if c == quote {
			return b.String(), i + 1, nil
		}

		b.WriteByte(c)
		i++
	}

	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '$'
}

func isPathChar(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.' || c == '[' || c == ']'
}

// maxNestingDepth bounds parentheses and negations so hostile input cannot
// exhaust the goroutine stack.
const maxNestingDepth = 256

type parser struct {
	tokens []token
	pos    int
	depth  int
}

func (p *parser) enter(pos int) error {
	p.depth++
	if p.depth > maxNestingDepth {
		return fmt.Errorf("expression nested deeper than %d at position %d", maxNestingDepth, pos)
	}

	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) current() token {
	if p.pos >= len(p.tokens) {
		return token{typ: tokenEOF}
	}

	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.current()
	if p.pos < len(p.tokens) {
		p.pos++
	}

	return tok
}

func (p *parser) parseOr() (exprNode, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	operands := []exprNode{first}

	for p.current().typ == tokenOr {
		p.advance()

		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		operands = append(operands, next)
	}

	if len(operands) == 1 {
		return first, nil
	}

	return logicalNode{and: false, operands: operands}, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	operands := []exprNode{first}

	for p.current().typ == tokenAnd {
		p.advance()

		next, err := p.parseNot()
		if err != nil {
			return nil, err
		}

		operands = append(operands, next)
	}

	if len(operands) == 1 {
		return first, nil
	}

	return logicalNode{and: true, operands: operands}, nil
}

func (p *parser) parseNot() (exprNode, error) {
	if p.current().typ == tokenNot {
		tok := p.advance()

		if err := p.enter(tok.pos); err != nil {
			return nil, err
		}
		defer p.leave()

		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}

		return notNode{operand: operand}, nil
	}

	return p.parseComparison()
}

func (p *parser) parseComparison() (exprNode, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	switch op := p.current().typ; op {
	case tokenEQ, tokenNE, tokenLT, tokenLE, tokenGT, tokenGE:
		p.advance()

		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}

		return compareNode{op: op, left: left, right: right}, nil
	}

	return left, nil
}

func (p *parser) parsePrimary() (exprNode, error) {
	tok := p.advance()

	switch tok.typ {
	case tokenTrue:
		return literalNode{value: true}, nil
	case tokenFalse:
		return literalNode{value: false}, nil
	case tokenNull:
		return literalNode{value: nil}, nil
	case tokenString:
		return literalNode{value: tok.value}, nil
	case tokenNumber:
		return parseNumber(tok, false)
	case tokenMinus:
		next := p.advance()
		if next.typ != tokenNumber {
			return nil, fmt.Errorf("expected number after '-' at position %d", tok.pos)
		}

		return parseNumber(next, true)
	case tokenPath:
		return pathNode{path: tok.value}, nil
	case tokenLParen:
		if err := p.enter(tok.pos); err != nil {
			return nil, err
		}
		defer p.leave()

		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if closing := p.advance(); closing.typ != tokenRParen {
			return nil, fmt.Errorf("expected ')' at position %d", closing.pos)
		}

		return inner, nil
	case tokenEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", tok.value, tok.pos)
	}
}

func parseNumber(tok token, negative bool) (exprNode, error) {
	f, err := strconv.ParseFloat(tok.value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q at position %d", tok.value, tok.pos)
	}

	if negative {
		f = -f
	}

	return literalNode{value: f}, nil
}
