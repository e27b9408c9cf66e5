package script

import (
	"fmt"
)

var keywords = map[string]bool{
	"let": true, "fork": true, "loop": true, "repeat": true, "while": true,
	"if": true, "else": true, "break": true, "true": true, "false": true, "nil": true,
}

// binary operator precedence, higher binds tighter
var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3, "<": 3, "<=": 3, ">": 3, ">=": 3,
	"+": 4, "-": 4,
	"*": 5, "/": 5, "%": 5,
}

type parseError struct {
	line int
	msg  string
}

func (e *parseError) Error() string { return fmt.Sprintf("line %d: %s", e.line, e.msg) }

type parser struct {
	toks  []token
	pos   int
	loops int // enclosing loop depth, for break
}

func parse(src string) (prog []stmt, err error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(*parseError)
			if !ok {
				panic(r)
			}
			prog, err = nil, pe
		}
	}()
	prog = p.stmts(false)
	return prog, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) fail(t token, format string, args ...any) {
	panic(&parseError{line: t.line, msg: fmt.Sprintf(format, args...)})
}

func (p *parser) isOp(text string) bool {
	t := p.peek()
	return t.kind == tOp && t.text == text
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tIdent && t.text == word
}

func (p *parser) expect(text string) token {
	t := p.next()
	if t.kind != tOp || t.text != text {
		p.fail(t, "expected %q, found %s", text, t)
	}
	return t
}

func (p *parser) skipNewlines() {
	for p.peek().kind == tNewline {
		p.next()
	}
}

func (p *parser) endStmt() {
	t := p.peek()
	switch {
	case t.kind == tNewline:
		p.next()
	case t.kind == tEOF, t.kind == tOp && t.text == "}":
	default:
		p.fail(t, "unexpected %s", t)
	}
}

// stmts parses until EOF, or until the closing brace when inBlock
func (p *parser) stmts(inBlock bool) []stmt {
	var out []stmt
	for {
		p.skipNewlines()
		t := p.peek()
		if t.kind == tEOF {
			if inBlock {
				p.fail(t, "missing \"}\"")
			}
			return out
		}
		if inBlock && t.kind == tOp && t.text == "}" {
			return out
		}
		out = append(out, p.stmt())
	}
}

func (p *parser) block() []stmt {
	p.expect("{")
	body := p.stmts(true)
	p.expect("}")
	return body
}

func (p *parser) loopBody() []stmt {
	p.loops++
	defer func() { p.loops-- }()
	return p.block()
}

func (p *parser) stmt() stmt {
	t := p.peek()
	if t.kind == tIdent {
		switch t.text {
		case "let":
			p.next()
			name := p.next()
			if name.kind != tIdent || keywords[name.text] {
				p.fail(name, "expected a name after let, found %s", name)
			}
			var x expr = &literalExpr{line: t.line}
			if p.isOp("=") {
				p.next()
				x = p.expr()
			}
			p.endStmt()
			return &letStmt{line: t.line, name: name.text, x: x}
		case "fork":
			p.next()
			outer := p.loops
			p.loops = 0 // a forked body cannot break its parent's loop
			body := p.block()
			p.loops = outer
			p.endStmt()
			return &forkStmt{line: t.line, body: body}
		case "loop":
			p.next()
			body := p.loopBody()
			p.endStmt()
			return &loopStmt{line: t.line, body: body}
		case "repeat":
			p.next()
			n := p.expr()
			body := p.loopBody()
			p.endStmt()
			return &loopStmt{line: t.line, count: n, body: body}
		case "while":
			p.next()
			c := p.expr()
			body := p.loopBody()
			p.endStmt()
			return &loopStmt{line: t.line, cond: c, body: body}
		case "if":
			s := p.ifStmt()
			p.endStmt()
			return s
		case "break":
			p.next()
			if p.loops == 0 {
				p.fail(t, "break outside a loop")
			}
			p.endStmt()
			return &breakStmt{line: t.line}
		case "else":
			p.fail(t, "else without if")
		}
		if !keywords[t.text] && p.startsCommand() {
			p.next()
			args := []expr{p.expr()}
			for p.isOp(",") {
				p.next()
				args = append(args, p.expr())
			}
			p.endStmt()
			return &commandStmt{line: t.line, name: t.text, args: args}
		}
	}

	x := p.expr()
	if p.isOp("=") {
		eq := p.next()
		switch x.(type) {
		case *identExpr, *fieldExpr:
		default:
			p.fail(eq, "cannot assign to this expression")
		}
		v := p.expr()
		p.endStmt()
		return &assignStmt{line: t.line, target: x, x: v}
	}
	p.endStmt()
	return &exprStmt{line: t.line, x: x}
}

// startsCommand reports whether the identifier under the cursor is followed,
// on the same line, by the start of an argument rather than an operator.
// A minus counts as an argument when it is glued to what follows but not to
// the name, as in "sleep -1".
func (p *parser) startsCommand() bool {
	n := p.peekAt(1)
	switch n.kind {
	case tNumber, tString:
		return true
	case tIdent:
		return n.text != "else"
	case tOp:
		switch n.text {
		case "!":
			return true
		case "(":
			return n.space
		case "-":
			after := p.peekAt(2)
			return n.space && !after.space
		}
	}
	return false
}

func (p *parser) ifStmt() stmt {
	t := p.next() // if
	cond := p.expr()
	then := p.block()
	var els []stmt
	// else may sit on the line after the closing brace
	save := p.pos
	p.skipNewlines()
	if p.isKeyword("else") {
		p.next()
		if p.isKeyword("if") {
			els = []stmt{p.ifStmt()}
		} else {
			els = p.block()
		}
	} else {
		p.pos = save
	}
	return &ifStmt{line: t.line, cond: cond, then: then, els: els}
}

func (p *parser) expr() expr { return p.binary(1) }

func (p *parser) binary(minPrec int) expr {
	x := p.unary()
	for {
		t := p.peek()
		prec, ok := precedence[t.text]
		if t.kind != tOp || !ok || prec < minPrec {
			return x
		}
		p.next()
		y := p.binary(prec + 1)
		x = &binaryExpr{line: t.line, op: t.text, x: x, y: y}
	}
}

func (p *parser) unary() expr {
	if t := p.peek(); t.kind == tOp && (t.text == "-" || t.text == "!") {
		p.next()
		return &unaryExpr{line: t.line, op: t.text, x: p.unary()}
	}
	return p.postfix(p.primary())
}

func (p *parser) postfix(x expr) expr {
	for {
		t := p.peek()
		switch {
		case t.kind == tOp && t.text == ".":
			p.next()
			name := p.next()
			if name.kind != tIdent {
				p.fail(name, "expected a field name, found %s", name)
			}
			x = &fieldExpr{line: t.line, obj: x, name: name.text}
		case t.kind == tOp && t.text == "(" && !t.space:
			p.next()
			var args []expr
			if !p.isOp(")") {
				args = append(args, p.expr())
				for p.isOp(",") {
					p.next()
					args = append(args, p.expr())
				}
			}
			p.expect(")")
			x = &callExpr{line: t.line, fn: x, args: args}
		default:
			return x
		}
	}
}

func (p *parser) primary() expr {
	t := p.next()
	switch t.kind {
	case tNumber:
		return &numberExpr{line: t.line, val: t.num, unit: t.unit}
	case tString:
		return &stringExpr{line: t.line, val: t.text}
	case tIdent:
		switch t.text {
		case "true":
			return &literalExpr{line: t.line, val: true}
		case "false":
			return &literalExpr{line: t.line, val: false}
		case "nil":
			return &literalExpr{line: t.line}
		}
		if keywords[t.text] {
			p.fail(t, "unexpected %s", t)
		}
		return &identExpr{line: t.line, name: t.text}
	case tOp:
		if t.text == "(" {
			x := p.expr()
			p.expect(")")
			return x
		}
	}
	p.fail(t, "unexpected %s", t)
	return nil
}
