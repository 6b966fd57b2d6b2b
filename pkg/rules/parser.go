package rules

import (
	"fmt"
	"strconv"
	"unicode"
)

// SyntaxError reports where a condition expression failed to parse.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("rules: syntax error at %d: %s", e.Pos, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokInt
	tokIdent
	tokOp     // comparison operator
	tokAnd    // &&
	tokOr     // ||
	tokLParen // (
	tokRParen // )
	tokComma  // ,
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case c == '&':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '&' {
			l.pos += 2
			return token{kind: tokAnd, text: "&&", pos: start}, nil
		}
		return token{}, &SyntaxError{Pos: start, Msg: "expected '&&'"}
	case c == '|':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '|' {
			l.pos += 2
			return token{kind: tokOr, text: "||", pos: start}, nil
		}
		return token{}, &SyntaxError{Pos: start, Msg: "expected '||'"}
	case c == '=' || c == '!' || c == '<' || c == '>':
		op := string(c)
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '=' {
			op += "="
			l.pos++
		}
		if op == "=" || op == "!" {
			return token{}, &SyntaxError{Pos: start, Msg: "expected '" + op + "='"}
		}
		return token{kind: tokOp, text: op, pos: start}, nil
	case unicode.IsDigit(rune(c)):
		for l.pos < len(l.input) && unicode.IsDigit(rune(l.input[l.pos])) {
			l.pos++
		}
		return token{kind: tokInt, text: l.input[start:l.pos], pos: start}, nil
	case unicode.IsLetter(rune(c)):
		for l.pos < len(l.input) {
			r := rune(l.input[l.pos])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos], pos: start}, nil
	default:
		return token{}, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", c)}
	}
}

type parser struct {
	lex  lexer
	tok  token
	prev token
}

// Parse parses a condition expression.
//
// Grammar, loosest binding first:
//
//	expr       = and { "||" and }
//	and        = comparison { "&&" comparison }
//	comparison = operand [ op operand ]
//	operand    = INT | field | call | "(" expr ")"
//	call       = ("min" | "max" | "progress") "(" expr { "," expr } ")"
func Parse(input string) (Expr, error) {
	p := &parser{lex: lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: p.tok.pos, Msg: fmt.Sprintf("unexpected %q", p.tok.text)}
	}
	return expr, nil
}

func (p *parser) advance() error {
	p.prev = p.tok
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokOp {
		return left, nil
	}
	op := CompareOp(p.tok.text)
	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &Comparison{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseOperand() (Expr, error) {
	switch p.tok.kind {
	case tokInt:
		v, err := strconv.Atoi(p.tok.text)
		if err != nil {
			return nil, &SyntaxError{Pos: p.tok.pos, Msg: "invalid integer " + p.tok.text}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Value: v}, nil

	case tokIdent:
		name := p.tok.text
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokLParen {
			return &FieldRef{Name: name}, nil
		}
		return p.parseCall(name, pos)

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, &SyntaxError{Pos: p.tok.pos, Msg: "expected ')'"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil

	default:
		return nil, &SyntaxError{Pos: p.tok.pos, Msg: fmt.Sprintf("unexpected %q", p.tok.text)}
	}
}

func (p *parser) parseCall(name string, pos int) (Expr, error) {
	switch name {
	case "min", "max", "progress":
	default:
		return nil, &SyntaxError{Pos: pos, Msg: "unknown function " + name}
	}

	// consume '('
	if err := p.advance(); err != nil {
		return nil, err
	}

	var args []Expr
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.tok.kind != tokRParen {
		return nil, &SyntaxError{Pos: p.tok.pos, Msg: "expected ')'"}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	switch name {
	case "progress":
		if len(args) != 2 {
			return nil, &SyntaxError{Pos: pos, Msg: "progress takes exactly 2 arguments"}
		}
	case "min", "max":
		if len(args) < 2 {
			return nil, &SyntaxError{Pos: pos, Msg: name + " takes at least 2 arguments"}
		}
	}
	return &Call{Name: name, Args: args}, nil
}
