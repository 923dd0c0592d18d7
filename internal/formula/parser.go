package formula

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// SyntaxError reports a malformed rule string.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d in %q: %s", e.Pos, e.Expr, e.Msg)
}

type tokenKind int

const (
	tkNumber tokenKind = iota
	tkString
	tkVar
	tkOp
	tkKeyword
	tkLParen
	tkRParen
	tkComma
	tkEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse tokenizes and parses a rule string into an AST. The grammar covers
// arithmetic with standard precedence, comparisons, and the boolean
// connectives used by rule conditions.
func Parse(rule string) (Expr, error) {
	tokens, err := scan(rule)
	if err != nil {
		return nil, err
	}
	p := &parser{src: rule, tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tkEOF {
		return nil, &SyntaxError{Expr: rule, Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
	return expr, nil
}

func scan(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			seenDot := false
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				if src[i] == '.' {
					if seenDot {
						return nil, &SyntaxError{Expr: src, Pos: i, Msg: "malformed number"}
					}
					seenDot = true
				}
				i++
			}
			out = append(out, token{kind: tkNumber, text: src[start:i], pos: start})
		case c == '_':
			start := i
			for i < len(src) && (src[i] == '_' || src[i] >= 'A' && src[i] <= 'Z' || src[i] >= '0' && src[i] <= '9') {
				i++
			}
			name := src[start:i]
			if !strings.HasPrefix(name, "__") || !strings.HasSuffix(name, "__") || len(name) < 5 {
				return nil, &SyntaxError{Expr: src, Pos: start, Msg: fmt.Sprintf("malformed variable token %q", name)}
			}
			out = append(out, token{kind: tkVar, text: name, pos: start})
		case c == '\'' || c == '"':
			quote := c
			i++
			start := i
			for i < len(src) && src[i] != quote {
				i++
			}
			if i >= len(src) {
				return nil, &SyntaxError{Expr: src, Pos: start - 1, Msg: "unterminated string"}
			}
			out = append(out, token{kind: tkString, text: src[start:i], pos: start - 1})
			i++
		case unicode.IsLower(rune(c)):
			start := i
			for i < len(src) && unicode.IsLower(rune(src[i])) {
				i++
			}
			word := src[start:i]
			switch word {
			case "and", "or", "not", "true", "false":
				out = append(out, token{kind: tkKeyword, text: word, pos: start})
			default:
				return nil, &SyntaxError{Expr: src, Pos: start, Msg: fmt.Sprintf("unknown word %q", word)}
			}
		case c == '(':
			out = append(out, token{kind: tkLParen, text: "(", pos: i})
			i++
		case c == ')':
			out = append(out, token{kind: tkRParen, text: ")", pos: i})
			i++
		case c == ',':
			out = append(out, token{kind: tkComma, text: ",", pos: i})
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			out = append(out, token{kind: tkOp, text: string(c), pos: i})
			i++
		case c == '<' || c == '>':
			op := string(c)
			i++
			if i < len(src) && src[i] == '=' {
				op += "="
				i++
			}
			out = append(out, token{kind: tkOp, text: op, pos: i - len(op)})
		case c == '=' || c == '!':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, &SyntaxError{Expr: src, Pos: i, Msg: fmt.Sprintf("unknown operator %q", string(c))}
			}
			out = append(out, token{kind: tkOp, text: src[i : i+2], pos: i})
			i += 2
		default:
			return nil, &SyntaxError{Expr: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", string(c))}
		}
	}
	out = append(out, token{kind: tkEOF, pos: len(src)})
	return out, nil
}

type parser struct {
	src    string
	tokens []token
	idx    int
}

func (p *parser) peek() token { return p.tokens[p.idx] }

func (p *parser) next() token {
	tok := p.tokens[p.idx]
	if tok.kind != tkEOF {
		p.idx++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &SyntaxError{Expr: p.src, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkKeyword && p.peek().text == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: "or", Left: left, Rite: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkKeyword && p.peek().text == "and" {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: "and", Left: left, Rite: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.peek().kind == tkKeyword && p.peek().text == "not" {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Unary{Op: "not", X: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for tok := p.peek(); tok.kind == tkOp; tok = p.peek() {
		switch tok.text {
		case "<", "<=", ">", ">=", "==", "!=":
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = Binary{Op: tok.text, Left: left, Rite: right}
		default:
			return left, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for tok := p.peek(); tok.kind == tkOp && (tok.text == "+" || tok.text == "-"); tok = p.peek() {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: tok.text, Left: left, Rite: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for tok := p.peek(); tok.kind == tkOp && (tok.text == "*" || tok.text == "/"); tok = p.peek() {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: tok.text, Left: left, Rite: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if tok := p.peek(); tok.kind == tkOp && (tok.text == "-" || tok.text == "+") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if tok.text == "+" {
			return x, nil
		}
		return Unary{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.next()
	switch tok.kind {
	case tkNumber:
		d, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, p.errorf(tok, "malformed number %q", tok.text)
		}
		return NumberLit{Value: d}, nil
	case tkString:
		return StringLit{Value: tok.text}, nil
	case tkKeyword:
		switch tok.text {
		case "true":
			return NumberLit{Value: decimal.NewFromInt(1)}, nil
		case "false":
			return NumberLit{Value: decimal.NewFromInt(0)}, nil
		}
		return nil, p.errorf(tok, "unexpected keyword %q", tok.text)
	case tkVar:
		if p.peek().kind == tkLParen {
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return Call{Name: tok.text, Args: args}, nil
		}
		return VarRef{Name: tok.text}, nil
	case tkLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tkRParen {
			return nil, p.errorf(closing, "expected closing parenthesis")
		}
		return inner, nil
	default:
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
}

func (p *parser) parseArgs() ([]Expr, error) {
	var args []Expr
	if p.peek().kind == tkRParen {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch tok := p.next(); tok.kind {
		case tkComma:
			continue
		case tkRParen:
			return args, nil
		default:
			return nil, p.errorf(tok, "expected comma or closing parenthesis")
		}
	}
}
