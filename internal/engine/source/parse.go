package source

import (
	"fmt"
	"strings"
	"unicode"
)

// The reference language is line based:
//
//	-- comment
//	import Data.Nat
//	func map f xs := f xs
//	data List a := nil | cons a (List a)
//	class Monoid m := empty m | append m
//	instance NatMonoid Monoid := zero
//	  use func coerce := List
//
// An indented line is a nested definition of the closest less indented one.
// Body words are references unless they are parameters, numbers or markers
// starting with '!'.

type token struct {
	text   string
	offset int
}

type parsedRef struct {
	text   string
	offset int
}

type parsedDef struct {
	kind     defKind
	use      bool
	name     string
	params   []string
	class    string
	text     string
	body     string
	offset   int
	indent   int
	refs     []parsedRef
	args     []string
	internal []*parsedDef
	children []*parsedDef
}

type parsedFile struct {
	imports []string
	groups  []*parsedDef
}

type defKind int

const (
	kindFunc defKind = iota
	kindData
	kindClass
	kindInstance
	kindConstructor
	kindField
)

var headerKinds = map[string]defKind{
	"func":     kindFunc,
	"data":     kindData,
	"class":    kindClass,
	"instance": kindInstance,
}

var keywords = map[string]bool{
	"func": true, "data": true, "class": true, "instance": true,
	"use": true, "import": true, "module": true,
}

// ParseError reports the first malformed line of a file.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '\'' || r == '!'
}

func tokenize(line string, base int) []token {
	var out []token
	start := -1
	for i, r := range line {
		if isIdentRune(r) || r == ':' || r == '=' || r == '|' {
			if start >= 0 && (r == '|') {
				out = append(out, token{text: line[start:i], offset: base + start})
				start = -1
			}
			if r == '|' {
				out = append(out, token{text: "|", offset: base + i})
				continue
			}
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, token{text: line[start:i], offset: base + start})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{text: line[start:], offset: base + start})
	}
	return out
}

func isReferenceWord(w string, params map[string]bool) bool {
	if w == "" || keywords[w] || params[w] || w == ":=" {
		return false
	}
	if strings.HasPrefix(w, "!") {
		return false
	}
	r := []rune(w)[0]
	return unicode.IsLetter(r) || r == '_'
}

func parse(content string) (*parsedFile, error) {
	pf := &parsedFile{}
	type frame struct {
		indent int
		def    *parsedDef
	}
	var stack []frame

	offset := 0
	for lineNo, raw := range strings.Split(content, "\n") {
		lineStart := offset
		offset += len(raw) + 1

		trimmed := strings.TrimLeft(raw, " \t")
		indent := len(raw) - len(trimmed)
		trimmed = strings.TrimRight(trimmed, " \t\r")
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		toks := tokenize(trimmed, lineStart+indent)
		if len(toks) == 0 {
			return nil, &ParseError{Line: lineNo + 1, Msg: "no tokens"}
		}
		switch toks[0].text {
		case "module":
			continue
		case "import":
			if len(toks) < 2 {
				return nil, &ParseError{Line: lineNo + 1, Msg: "import without module"}
			}
			pf.imports = append(pf.imports, toks[1].text)
			continue
		}

		def, err := parseDefinition(toks, trimmed)
		if err != nil {
			return nil, &ParseError{Line: lineNo + 1, Msg: err.Error()}
		}
		def.indent = indent
		def.offset = lineStart + indent

		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			if def.use {
				return nil, &ParseError{Line: lineNo + 1, Msg: "use definition outside of a group"}
			}
			pf.groups = append(pf.groups, def)
		} else {
			parent := stack[len(stack)-1].def
			parent.children = append(parent.children, def)
		}
		stack = append(stack, frame{indent: indent, def: def})
	}
	return pf, nil
}

func parseDefinition(toks []token, text string) (*parsedDef, error) {
	def := &parsedDef{text: text}
	i := 0
	if toks[i].text == "use" {
		def.use = true
		i++
	}
	if i >= len(toks) {
		return nil, fmt.Errorf("missing definition keyword")
	}
	kind, ok := headerKinds[toks[i].text]
	if !ok {
		return nil, fmt.Errorf("unknown definition keyword %q", toks[i].text)
	}
	def.kind = kind
	i++
	if i >= len(toks) || !isReferenceWord(toks[i].text, nil) {
		return nil, fmt.Errorf("missing definition name")
	}
	def.name = toks[i].text
	i++

	params := make(map[string]bool)
	for ; i < len(toks) && toks[i].text != ":="; i++ {
		if kind == kindInstance && def.class == "" {
			def.class = toks[i].text
			def.refs = append(def.refs, parsedRef{text: toks[i].text, offset: toks[i].offset})
			continue
		}
		def.params = append(def.params, toks[i].text)
		params[toks[i].text] = true
	}
	if kind == kindInstance && def.class == "" {
		return nil, fmt.Errorf("instance %s without class", def.name)
	}
	if i < len(toks) {
		i++ // :=
		if idx := strings.Index(text, ":="); idx >= 0 {
			def.body = strings.TrimSpace(text[idx+2:])
		}
	}
	body := toks[i:]

	switch kind {
	case kindData, kindClass:
		sub := kindConstructor
		if kind == kindClass {
			sub = kindField
		}
		for _, seg := range splitSegments(body) {
			if len(seg) == 0 {
				continue
			}
			member := &parsedDef{kind: sub, name: seg[0].text, offset: seg[0].offset}
			parts := make([]string, 0, len(seg))
			for _, t := range seg {
				parts = append(parts, t.text)
			}
			member.text = strings.Join(parts, " ")
			for _, t := range seg[1:] {
				member.args = append(member.args, t.text)
				if isReferenceWord(t.text, params) {
					member.refs = append(member.refs, parsedRef{text: t.text, offset: t.offset})
				}
			}
			def.internal = append(def.internal, member)
		}
	default:
		for _, t := range body {
			if t.text == "|" {
				continue
			}
			if isReferenceWord(t.text, params) {
				def.refs = append(def.refs, parsedRef{text: t.text, offset: t.offset})
			}
		}
	}
	return def, nil
}

func splitSegments(toks []token) [][]token {
	var out [][]token
	var cur []token
	for _, t := range toks {
		if t.text == "|" {
			out = append(out, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return append(out, cur)
}
