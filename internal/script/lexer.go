package script

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokKind int

const (
	tEOF tokKind = iota
	tNewline
	tNumber
	tString
	tIdent
	tOp // punctuation and operators
)

type token struct {
	kind  tokKind
	text  string
	num   float64
	unit  string // identifier glued to a number, as in 100ms
	line  int
	space bool // whitespace precedes the token
}

func (t token) String() string {
	switch t.kind {
	case tEOF:
		return "end of file"
	case tNewline:
		return "newline"
	case tString:
		return strconv.Quote(t.text)
	}
	return fmt.Sprintf("%q", t.text)
}

var ops2 = []string{"==", "!=", "<=", ">=", "&&", "||"}

const ops1 = "(){},.=+-*/%<>!;"

// lex splits src into tokens. Newlines inside parentheses are dropped so a
// call's arguments may span lines.
func lex(src string) ([]token, error) {
	var toks []token
	line, depth := 1, 0
	space := true
	i := 0
	emit := func(t token) {
		t.line, t.space = line, space
		toks = append(toks, t)
		space = false
	}
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			if depth == 0 && len(toks) > 0 && toks[len(toks)-1].kind != tNewline {
				emit(token{kind: tNewline, text: "\n"})
			}
			line++
			i++
			space = true
		case c == ' ' || c == '\t' || c == '\r':
			i++
			space = true
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && isDigit(src[i+1]):
			j := i
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			if j < len(src) && (src[j] == 'e' || src[j] == 'E') && j+1 < len(src) &&
				(isDigit(src[j+1]) || (src[j+1] == '-' || src[j+1] == '+') && j+2 < len(src) && isDigit(src[j+2])) {
				j += 2
				for j < len(src) && isDigit(src[j]) {
					j++
				}
			}
			n, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad number %q", line, src[i:j])
			}
			k := j
			for k < len(src) && isIdent(rune(src[k]), k > j) {
				k++
			}
			emit(token{kind: tNumber, text: src[i:k], num: n, unit: src[j:k]})
			i = k
		case c == '"' || c == '\'':
			s, n, err := lexString(src[i:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %v", line, err)
			}
			emit(token{kind: tString, text: s})
			line += strings.Count(src[i:i+n], "\n")
			i += n
		case isIdent(rune(c), false):
			j := i
			for j < len(src) && isIdent(rune(src[j]), j > i) {
				j++
			}
			emit(token{kind: tIdent, text: src[i:j]})
			i = j
		default:
			if i+1 < len(src) {
				two := src[i : i+2]
				matched := false
				for _, op := range ops2 {
					if two == op {
						emit(token{kind: tOp, text: op})
						i += 2
						matched = true
						break
					}
				}
				if matched {
					continue
				}
			}
			if !strings.ContainsRune(ops1, rune(c)) {
				return nil, fmt.Errorf("line %d: unexpected character %q", line, c)
			}
			switch c {
			case '(':
				depth++
			case ')':
				if depth > 0 {
					depth--
				}
			case ';':
				if len(toks) > 0 && toks[len(toks)-1].kind != tNewline {
					emit(token{kind: tNewline, text: ";"})
				}
				i++
				continue
			}
			emit(token{kind: tOp, text: string(c)})
			i++
		}
	}
	if len(toks) > 0 && toks[len(toks)-1].kind != tNewline {
		emit(token{kind: tNewline, text: "\n"})
	}
	emit(token{kind: tEOF})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdent(r rune, inner bool) bool {
	return r == '_' || unicode.IsLetter(r) || inner && unicode.IsDigit(r)
}

// lexString reads a quoted string at the start of s, returning its value and
// the number of bytes consumed
func lexString(s string) (string, int, error) {
	q := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == q:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}
