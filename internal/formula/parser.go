package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFormula parses a statement: an assignment or an expression.
func ParseFormula(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty formula"}
	}

	n, err := p.statement()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t)}
	}
	return n, nil
}

// ParseExpr parses an expression and rejects assignments.
func ParseExpr(src string) (Node, error) {
	n, err := ParseFormula(src)
	if err != nil {
		return nil, err
	}
	if _, ok := n.(*Assign); ok {
		return nil, &SyntaxError{Pos: 0, Msg: "assignment is not allowed in an expression"}
	}
	return n, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// acceptOp consumes the next token if it is one of ops.
func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

// acceptKeyword consumes the next token if it is the keyword kw, ignoring case.
func (p *parser) acceptKeyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	t := p.next()
	if t.kind != tokOp || t.text != op {
		return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("expected %q, found %s", op, t)}
	}
	return nil
}

func (p *parser) statement() (Node, error) {
	lhs, err := p.or()
	if err != nil {
		return nil, err
	}
	eq := p.peek()
	if _, ok := p.acceptOp("="); !ok {
		return lhs, nil
	}
	switch lhs.(type) {
	case *Ident, *Attr, *Index:
	default:
		return nil, &SyntaxError{Pos: eq.pos, Msg: "left side of assignment must be a name, column or key"}
	}
	rhs, err := p.or()
	if err != nil {
		return nil, err
	}
	return &Assign{Target: lhs, Value: rhs}, nil
}

func (p *parser) or() (Node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for {
		_, sym := p.acceptOp("||", "|")
		if !sym && !p.acceptKeyword("or") {
			return left, nil
		}
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "or", Left: left, Right: right}
	}
}

func (p *parser) and() (Node, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for {
		_, sym := p.acceptOp("&&", "&")
		if !sym && !p.acceptKeyword("and") {
			return left, nil
		}
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "and", Left: left, Right: right}
	}
}

func (p *parser) not() (Node, error) {
	_, sym := p.acceptOp("!", "~")
	if sym || p.acceptKeyword("not") {
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "not", X: x}, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Node, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("==", "!=", "<>", "<=", ">=", "<", ">")
		if !ok {
			return left, nil
		}
		if op == "<>" {
			op = "!="
		}
		right, err := p.additive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (p *parser) additive() (Node, error) {
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (p *parser) multiplicative() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (p *parser) unary() (Node, error) {
	if op, ok := p.acceptOp("-", "+"); ok {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			return x, nil
		}
		if lit, ok := x.(*Literal); ok {
			if f, ok := lit.Value.(float64); ok {
				return &Literal{Value: -f}, nil
			}
		}
		return &Unary{Op: "-", X: x}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (Node, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokOp && t.text == ".":
			p.next()
			name := p.next()
			if name.kind != tokIdent {
				return nil, &SyntaxError{Pos: name.pos, Msg: fmt.Sprintf("expected name after '.', found %s", name)}
			}
			x = &Attr{X: x, Name: name.text}

		case t.kind == tokOp && t.text == "[":
			p.next()
			key, err := p.or()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			x = &Index{X: x, Key: key}

		case t.kind == tokOp && t.text == "(":
			id, ok := x.(*Ident)
			if !ok {
				return nil, &SyntaxError{Pos: t.pos, Msg: "only named functions can be called"}
			}
			p.next()
			args, err := p.args()
			if err != nil {
				return nil, err
			}
			x = &Call{Name: strings.ToLower(id.Name), Args: args}

		default:
			return x, nil
		}
	}
}

func (p *parser) args() ([]Node, error) {
	var args []Node
	if _, ok := p.acceptOp(")"); ok {
		return args, nil
	}
	for {
		a, err := p.or()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if _, ok := p.acceptOp(","); ok {
			continue
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("bad number %q", t.text)}
		}
		return &Literal{Value: f}, nil

	case tokString:
		return &Literal{Value: t.text}, nil

	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return &Literal{Value: true}, nil
		case "false":
			return &Literal{Value: false}, nil
		case "null", "none":
			return &Literal{Value: nil}, nil
		case "and", "or", "not":
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected keyword %q", t.text)}
		}
		return &Ident{Name: t.text}, nil

	case tokOp:
		if t.text == "(" {
			x, err := p.or()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t)}
}
