package formula

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of formula"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

// two-character operators are matched before single characters.
var operators = []string{
	"==", "!=", "<=", ">=", "<>", "&&", "||",
	"+", "-", "*", "/", "%", "<", ">", "=", "(", ")", "[", "]", ",", ".", "&", "|", "~", "!",
}

// SyntaxError reports a malformed formula.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '\'' || r == '"':
			s, n, err := lexString(src, i, byte(r))
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n

		case isDigit(r) || (r == '.' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			n := lexNumber(src[i:])
			toks = append(toks, token{kind: tokNumber, text: src[i : i+n], pos: i})
			i += n

		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(src) {
				c, sz := utf8.DecodeRuneInString(src[j:])
				if c != '_' && c != '$' && c != '#' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
					break
				}
				j += sz
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j

		default:
			op := ""
			for _, candidate := range operators {
				if strings.HasPrefix(src[i:], candidate) {
					op = candidate
					break
				}
			}
			if op == "" {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func lexString(src string, start int, quote byte) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			switch src[i+1] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(src[i+1])
			}
			i += 2
		case c == quote:
			return b.String(), i + 1 - start, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func lexNumber(s string) int {
	i := 0
	for i < len(s) && isDigit(rune(s[i])) {
		i++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(rune(s[i])) {
			i++
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(rune(s[j])) {
			for j < len(s) && isDigit(rune(s[j])) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
