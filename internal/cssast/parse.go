package cssast

import (
	"fmt"
	"strings"
)

// Decl is one raw declaration as it appears in the source: "property:
// value" terminated by ";" or by the enclosing block's closing brace.
// Offsets are byte offsets into the text Parse was called with, so a
// caller can splice the original bytes around them without
// re-serializing anything it didn't touch.
type Decl struct {
	Property string
	RawValue string // trimmed; may still carry a literal "!important" suffix

	Start, End         int // full statement, excluding the terminating ";"
	ValueStart, ValueEnd int // the value substring within [Start,End)
	HasSemicolon       bool
	SemicolonPos       int // -1 if HasSemicolon is false
}

// Rule is one selector block: "selector { ...items... }". SelectorRaw is
// the text between the previous terminator and "{", trimmed of
// surrounding whitespace (SelectorStart/SelectorEnd bound it untrimmed); at-rules
// such as "@media (...)" parse the same way and are distinguished by a
// leading "@" in SelectorRaw.
type Rule struct {
	SelectorRaw               string
	SelectorStart, SelectorEnd int
	BraceOpen, BraceClose      int
	Items                      []Node
}

// Node is exactly one of Rule or Decl, in source order.
type Node struct {
	Rule *Rule
	Decl *Decl
}

// Parse walks CSS or SCSS text into a tree of Node, preserving every byte
// offset needed to later splice an edit back into the original text
// untouched elsewhere. It tolerates SCSS nesting, "//" line comments,
// "#{...}" interpolation, and declarations without a trailing
// semicolon (the last declaration before a closing brace).
func Parse(text string) ([]Node, error) {
	s := []byte(text)
	nodes, end, err := parseNodes(s, 0, false)
	if err != nil {
		return nil, err
	}
	if end != len(s) {
		return nil, fmt.Errorf("cssast: unexpected trailing content at offset %d", end)
	}
	return nodes, nil
}

func parseNodes(s []byte, pos int, stopAtBrace bool) ([]Node, int, error) {
	var nodes []Node
	for {
		pos = skipTrivia(s, pos)
		if pos >= len(s) {
			if stopAtBrace {
				return nodes, pos, fmt.Errorf("cssast: unexpected end of input inside block")
			}
			return nodes, pos, nil
		}
		if s[pos] == '}' {
			if stopAtBrace {
				return nodes, pos, nil
			}
			return nodes, pos, fmt.Errorf("cssast: unmatched '}' at offset %d", pos)
		}

		start := pos
		kind, term := scanStatement(s, start)
		switch kind {
		case stmtHeader:
			selector := strings.TrimSpace(string(s[start:term]))
			braceOpen := term
			items, braceClose, err := parseNodes(s, braceOpen+1, true)
			if err != nil {
				return nil, 0, err
			}
			nodes = append(nodes, Node{Rule: &Rule{
				SelectorRaw:   selector,
				SelectorStart: start,
				SelectorEnd:   term,
				BraceOpen:     braceOpen,
				BraceClose:    braceClose,
				Items:         items,
			}})
			pos = braceClose + 1

		case stmtDecl, stmtDeclNoSemi:
			full := s[start:term]
			colon := indexTopLevelColon(full)
			d := &Decl{Start: start, End: term}
			if colon < 0 {
				d.Property = ""
				d.RawValue = strings.TrimSpace(string(full))
				d.ValueStart, d.ValueEnd = start, term
			} else {
				d.Property = strings.TrimSpace(string(full[:colon]))
				valStart := start + colon + 1
				d.RawValue = strings.TrimSpace(string(s[valStart:term]))
				vs, ve := trimmedSpan(s, valStart, term)
				d.ValueStart, d.ValueEnd = vs, ve
			}
			if kind == stmtDecl {
				d.HasSemicolon = true
				d.SemicolonPos = term
				pos = term + 1
			} else {
				d.HasSemicolon = false
				d.SemicolonPos = -1
				pos = term
			}
			nodes = append(nodes, Node{Decl: d})

		case stmtEOF:
			if stopAtBrace {
				return nodes, term, fmt.Errorf("cssast: unexpected end of input inside block")
			}
			return nodes, term, nil
		}
	}
}

type stmtKind int

const (
	stmtHeader stmtKind = iota
	stmtDecl
	stmtDeclNoSemi
	stmtEOF
)

// scanStatement scans forward from start looking for the first
// structurally-significant '{', ';' or '}', skipping over strings,
// comments and "#{...}" interpolation, and tracking paren depth so a
// ':' or ';' inside "url(...)" or ":not(a, b)" doesn't terminate early.
func scanStatement(s []byte, start int) (stmtKind, int) {
	depth := 0
	i := start
	for i < len(s) {
		c := s[i]
		switch {
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			j := indexFrom(s, i+2, "*/")
			if j < 0 {
				return stmtEOF, len(s)
			}
			i = j + 2
			continue
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			j := indexByteFrom(s, i+2, '\n')
			if j < 0 {
				return stmtEOF, len(s)
			}
			i = j + 1
			continue
		case c == '#' && i+1 < len(s) && s[i+1] == '{':
			j := matchBrace(s, i+1)
			if j < 0 {
				return stmtEOF, len(s)
			}
			i = j + 1
			continue
		case c == '\'' || c == '"':
			j := skipString(s, i)
			i = j
			continue
		case c == '(':
			depth++
			i++
			continue
		case c == ')':
			if depth > 0 {
				depth--
			}
			i++
			continue
		case depth == 0 && c == '{':
			return stmtHeader, i
		case depth == 0 && c == ';':
			return stmtDecl, i
		case depth == 0 && c == '}':
			return stmtDeclNoSemi, i
		default:
			i++
		}
	}
	return stmtEOF, len(s)
}

// matchBrace returns the index of the '}' matching the '{' at s[open],
// accounting for nested braces inside the interpolation expression.
func matchBrace(s []byte, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func skipString(s []byte, i int) int {
	quote := s[i]
	i++
	for i < len(s) {
		if s[i] == '\\' && i+1 < len(s) {
			i += 2
			continue
		}
		if s[i] == quote {
			return i + 1
		}
		i++
	}
	return i
}

// skipTrivia advances past whitespace and comments without caring about
// the statement/terminator distinction (used between statements).
func skipTrivia(s []byte, i int) int {
	for i < len(s) {
		switch {
		case s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r':
			i++
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '*':
			j := indexFrom(s, i+2, "*/")
			if j < 0 {
				return len(s)
			}
			i = j + 2
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '/':
			j := indexByteFrom(s, i+2, '\n')
			if j < 0 {
				return len(s)
			}
			i = j + 1
		default:
			return i
		}
	}
	return i
}

func indexFrom(s []byte, from int, sub string) int {
	if from > len(s) {
		return -1
	}
	idx := strings.Index(string(s[from:]), sub)
	if idx < 0 {
		return -1
	}
	return from + idx
}

func indexByteFrom(s []byte, from int, b byte) int {
	for i := from; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// indexTopLevelColon finds the first ':' not nested inside parens or a
// string literal, used to split "property" from "value".
func indexTopLevelColon(s []byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', '"':
			j := skipString(s, i)
			i = j - 1
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// trimmedSpan narrows [start,end) to exclude leading/trailing whitespace,
// so ValueStart/ValueEnd bound exactly the value text a patcher can
// replace in place.
func trimmedSpan(s []byte, start, end int) (int, int) {
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return start, end
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// LineCol converts a byte offset into 1-based line / 0-based column,
// counting newlines in text[:offset].
func LineCol(text string, offset int) (line, col uint32) {
	line = 1
	lastNL := -1
	for i := 0; i < offset && i < len(text); i++ {
		if text[i] == '\n' {
			line++
			lastNL = i
		}
	}
	return line, uint32(offset - lastNL - 1)
}
