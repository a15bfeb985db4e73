// Package transform rewrites marked constructs in Go source so that their
// evaluation is routed through the runtime monitor.
//
// The transform is a pure syntax-to-syntax mapping: it never fails on
// syntactically valid input, and node shapes it does not recognize are left
// unmodified, a deliberate fallthrough rather than an error. Replacement nodes
// are synthesized by rendering small source templates and re-parsing them,
// so every rewrite is itself valid Go by construction.
//
// Several strategies deliberately evaluate the marked operand twice (once
// for the monitor's thunk, once for the real construct). That is behavior
// preserving only for side-effect-free expressions; marking a side-effecting
// expression is a documented, accepted deviation. A marked bare expression
// statement that calls a multi-result function produces a thunk that will
// not compile; unmark it or bind its results.
package transform

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/printer"
	"go/token"
	"reflect"
	"strings"

	"golang.org/x/tools/go/ast/astutil"
)

// Default monitor wiring for rewritten files.
const (
	DefaultImportPath = "github.com/peek-go/peek/pkg/monitor"
	DefaultImportName = "peekmon"
)

// Options configures a transform pass.
type Options struct {
	// Enabled false makes the transform a strict identity pass: nothing is
	// rewritten and the monitor import is never added.
	Enabled bool

	// Marker is the comment prefix that selects a node. Empty means "?".
	Marker string

	// ImportPath and ImportName locate the monitor package in rewritten
	// code. Empty fields take the defaults.
	ImportPath string
	ImportName string
}

func (o Options) withDefaults() Options {
	if o.ImportPath == "" {
		o.ImportPath = DefaultImportPath
	}
	if o.ImportName == "" {
		o.ImportName = DefaultImportName
	}
	return o
}

// Result reports one file's transformation.
type Result struct {
	// Output is the formatted source after rewriting. When no node was
	// selected it is the formatted input.
	Output []byte

	// Modified reports whether any construct was rewritten.
	Modified bool

	// Sites counts rewritten constructs.
	Sites int
}

// Source parses src, rewrites every selected construct of a supported kind,
// and returns the printed result. filename seeds the source locations
// embedded in monitor records.
func Source(filename string, src []byte, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if !opts.Enabled {
		return Result{Output: src}, nil
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	sites := rewriteFile(fset, file, filename, opts)
	if sites == 0 {
		return Result{Output: src}, nil
	}

	astutil.AddNamedImport(fset, file, opts.ImportName, opts.ImportPath)

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return Result{}, fmt.Errorf("failed to print %s: %w", filename, err)
	}
	return Result{Output: buf.Bytes(), Modified: true, Sites: sites}, nil
}

// renderExpr prints an expression back to source text for template
// splicing. Comments are not part of expression nodes, so the rendering is
// always a clean single expression.
func renderExpr(fset *token.FileSet, expr ast.Expr) (string, error) {
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, expr); err != nil {
		return "", fmt.Errorf("failed to render expression: %w", err)
	}
	return buf.String(), nil
}

// parseStmt parses a single statement template.
func parseStmt(src string) (ast.Stmt, error) {
	wrapped := "package p\n\nfunc _() {\n" + src + "\n}\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "template.go", wrapped, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse statement template: %w", err)
	}
	body := file.Decls[0].(*ast.FuncDecl).Body
	if len(body.List) != 1 {
		return nil, fmt.Errorf("statement template produced %d statements", len(body.List))
	}
	stmt := body.List[0]
	clearPositions(stmt)
	return stmt, nil
}

// parseDecl parses a single top-level declaration template.
func parseDecl(src string) (ast.Decl, error) {
	wrapped := "package p\n\n" + src + "\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "template.go", wrapped, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse declaration template: %w", err)
	}
	if len(file.Decls) != 1 {
		return nil, fmt.Errorf("declaration template produced %d declarations", len(file.Decls))
	}
	decl := file.Decls[0]
	clearPositions(decl)
	return decl, nil
}

// parseExprTemplate parses a single expression template.
func parseExprTemplate(src string) (ast.Expr, error) {
	expr, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression template: %w", err)
	}
	clearPositions(expr)
	return expr, nil
}

// clearPositions zeroes every token.Pos in the subtree so the printer does
// not interleave template nodes with the original file's comments.
func clearPositions(node ast.Node) {
	posType := reflect.TypeOf(token.Pos(0))
	ast.Inspect(node, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		v := reflect.ValueOf(n).Elem()
		if v.Kind() != reflect.Struct {
			return true
		}
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if f.Type() == posType && f.CanSet() {
				f.SetInt(0)
			}
		}
		return true
	})
}

// quoteLabel renders an optional Label field for a record template.
func quoteLabel(label string) string {
	if label == "" {
		return ""
	}
	return fmt.Sprintf(", Label: %q", label)
}

// suppressedField renders an optional Suppressed field for a record
// template.
func suppressedField(suppressed bool) string {
	if !suppressed {
		return ""
	}
	return ", Suppressed: true"
}

// recordLiteral renders the monitor.Record composite literal shared by all
// watch templates.
func recordLiteral(importName, kind, path string, line int, label string, suppressed bool) string {
	return fmt.Sprintf("%s.Record{Kind: %q, Path: %q, Line: %d%s%s",
		importName, kind, path, line, quoteLabel(label), suppressedField(suppressed))
}

// watchStmtSrc renders a duplicate-then-real monitor statement whose thunk
// re-evaluates exprText.
func watchStmtSrc(importName, kind, path string, line int, label string, suppressed bool, exprText string) string {
	return fmt.Sprintf("%s.Watch(%s, Thunk: func() any { return %s }})",
		importName,
		recordLiteral(importName, kind, path, line, label, suppressed),
		exprText)
}

// iifeSrc renders the in-place replacement for a marked function literal:
// a monitor call whose thunk returns an equivalent but distinct function
// value, followed by the real literal; only the real one is used by the
// surrounding code.
func iifeSrc(importName, kind, path string, line int, label string, suppressed bool, typeText, litText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "func() %s {\n", typeText)
	fmt.Fprintf(&b, "%s\n", watchStmtSrc(importName, kind, path, line, label, suppressed, litText))
	fmt.Fprintf(&b, "return %s\n}()", litText)
	return b.String()
}
