// Package printer implements the structured-printer collaborator the
// dumper writes through: nested dict/list scopes and key/value lines,
// modelled on LLVM's ScopedPrinter but rendered as plain indented text
// instead of llvm-readobj's multi-format (text/JSON) backend, since
// this module only ever needs one output shape.
package printer

import (
	"fmt"
	"io"
	"strings"
)

// Printer writes a tree of labelled scopes and key/value lines to w.
// Scopes are opened with OpenDict/OpenList and MUST be closed in LIFO
// order; DictScope/ListScope (below) do this via scoped acquisition so
// a panic or early return mid-dump can't leave the indentation stack
// unbalanced.
type Printer struct {
	w      io.Writer
	indent int
}

// New returns a Printer that writes to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) prefix() string {
	return strings.Repeat("  ", p.indent)
}

func (p *Printer) line(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s%s\n", p.prefix(), fmt.Sprintf(format, args...))
}

// OpenDict opens a named dictionary scope and indents subsequent
// output. Pair with CloseDict, or use DictScope to do that for you.
func (p *Printer) OpenDict(label string) {
	p.line("%s {", label)
	p.indent++
}

// CloseDict closes the most recently opened dictionary scope.
func (p *Printer) CloseDict() {
	p.indent--
	p.line("}")
}

// OpenList opens a named list scope and indents subsequent output.
// Pair with CloseList, or use ListScope.
func (p *Printer) OpenList(label string) {
	p.line("%s [", label)
	p.indent++
}

// CloseList closes the most recently opened list scope.
func (p *Printer) CloseList() {
	p.indent--
	p.line("]")
}

// PrintHex prints "key: 0xHEX".
func (p *Printer) PrintHex(key string, v uint64) {
	p.line("%s: 0x%x", key, v)
}

// PrintNumber prints "key: N".
func (p *Printer) PrintNumber(key string, v uint64) {
	p.line("%s: %d", key, v)
}

// PrintString prints "key: "value"" or, with no key, just the value
// unquoted -- used for one-off status lines like "EMPTY".
func (p *Printer) PrintString(key, v string) {
	if key == "" {
		p.line("%s", v)
		return
	}
	p.line("%s: %q", key, v)
}

// StartLine returns a writer positioned at the current indentation for
// callers that want to compose a line themselves (e.g. Value.String()
// output that isn't a simple key/value pair).
func (p *Printer) StartLine() io.Writer {
	fmt.Fprint(p.w, p.prefix())
	return p.w
}

// DictScope opens a dictionary scope and returns a function that
// closes it; defer the result so the scope closes on every exit path.
func DictScope(p *Printer, label string) func() {
	p.OpenDict(label)
	return p.CloseDict
}

// ListScope opens a list scope and returns a function that closes it;
// defer the result so the scope closes on every exit path.
func ListScope(p *Printer, label string) func() {
	p.OpenList(label)
	return p.CloseList
}
