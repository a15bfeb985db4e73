package transform

import (
	"go/ast"
	"go/token"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/peek-go/peek/internal/scanner"
)

// rewriter walks one file and applies the per-construct strategies.
type rewriter struct {
	fset     *token.FileSet
	filename string
	opts     Options
	sc       *scanner.Scanner
	sites    int

	// results tracks the result count of each enclosing function, so the
	// return strategy only fires inside single-result functions.
	results []int
}

func rewriteFile(fset *token.FileSet, file *ast.File, filename string, opts Options) int {
	r := &rewriter{
		fset:     fset,
		filename: filename,
		opts:     opts,
		sc:       scanner.New(fset, file, opts.Marker),
	}
	astutil.Apply(file, r.pre, r.post)
	return r.sites
}

func (r *rewriter) pre(c *astutil.Cursor) bool {
	switch n := c.Node().(type) {
	case *ast.FuncDecl:
		r.results = append(r.results, resultCount(n.Type))
		r.funcDecl(c, n)
	case *ast.FuncLit:
		r.results = append(r.results, resultCount(n.Type))
	case *ast.AssignStmt:
		r.assign(c, n)
	case *ast.DeclStmt:
		r.declStmt(c, n)
	case *ast.GenDecl:
		if _, ok := c.Parent().(*ast.File); ok {
			r.topLevelVar(c, n)
		}
	case *ast.ReturnStmt:
		r.returnStmt(c, n)
	case *ast.ExprStmt:
		r.exprStmt(c, n)
	case *ast.KeyValueExpr:
		r.keyValue(c, n)
	}
	return true
}

func (r *rewriter) post(c *astutil.Cursor) bool {
	switch c.Node().(type) {
	case *ast.FuncDecl, *ast.FuncLit:
		r.results = r.results[:len(r.results)-1]
	}
	return true
}

// assign handles `x := E` bindings and `x = E.Await()` suspensions.
func (r *rewriter) assign(c *astutil.Cursor, n *ast.AssignStmt) {
	if len(n.Rhs) != 1 || !r.sc.Selected(n, c.Parent()) || !canInsert(c) {
		return
	}
	suppressed := r.sc.Suppressed(n, c.Parent())
	line := r.line(n)

	// Suspension: the thunk returns the receiver (the future itself), the
	// real statement still awaits it. Any assignment arity works because
	// the real statement is untouched.
	if recv, ok := awaitReceiver(n.Rhs[0]); ok {
		r.insertWatch(c, "await", firstIdentName(n.Lhs), recv, line, suppressed)
		return
	}

	if n.Tok != token.DEFINE || len(n.Lhs) != 1 {
		return
	}
	ident, ok := n.Lhs[0].(*ast.Ident)
	if !ok || ident.Name == "_" {
		return
	}

	if lit, ok := n.Rhs[0].(*ast.FuncLit); ok {
		if repl := r.funcLitReplacement(lit, "closure", ident.Name, line, suppressed); repl != nil {
			n.Rhs[0] = repl
			r.sites++
		}
		return
	}

	r.insertWatch(c, "variable", ident.Name, n.Rhs[0], line, suppressed)
}

// declStmt handles `var x = E` inside a function body.
func (r *rewriter) declStmt(c *astutil.Cursor, n *ast.DeclStmt) {
	gd, ok := n.Decl.(*ast.GenDecl)
	if !ok || gd.Tok != token.VAR || !canInsert(c) {
		return
	}
	for _, spec := range gd.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok || len(vs.Names) != 1 || len(vs.Values) != 1 || vs.Names[0].Name == "_" {
			continue
		}
		// The parent hop covers a declarator whose marker sits on the
		// enclosing declaration list.
		if !r.sc.Selected(vs, gd, n) {
			continue
		}
		r.bindingSpec(c, vs, r.sc.Suppressed(vs, gd, n))
	}
}

// topLevelVar handles `var x = E` at package level. The monitor call
// becomes a blank package variable, so it runs during package
// initialization alongside the binding it observes.
func (r *rewriter) topLevelVar(c *astutil.Cursor, n *ast.GenDecl) {
	if n.Tok != token.VAR {
		return
	}
	for _, spec := range n.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok || len(vs.Names) != 1 || len(vs.Values) != 1 || vs.Names[0].Name == "_" {
			continue
		}
		if !r.sc.Selected(vs, n) {
			continue
		}
		suppressed := r.sc.Suppressed(vs, n)
		line := r.line(vs)

		if lit, ok := vs.Values[0].(*ast.FuncLit); ok {
			if repl := r.funcLitReplacement(lit, "closure", vs.Names[0].Name, line, suppressed); repl != nil {
				vs.Values[0] = repl
				r.sites++
			}
			continue
		}

		exprText, err := renderExpr(r.fset, vs.Values[0])
		if err != nil {
			continue
		}
		src := "var _ = " + watchStmtSrc(r.opts.ImportName, "variable", r.filename, line, vs.Names[0].Name, suppressed, exprText)
		decl, err := parseDecl(src)
		if err != nil {
			continue
		}
		c.InsertBefore(decl)
		r.sites++
	}
}

// bindingSpec applies the variable/closure/await strategies to one
// in-function declarator.
func (r *rewriter) bindingSpec(c *astutil.Cursor, vs *ast.ValueSpec, suppressed bool) {
	line := r.line(vs)
	name := vs.Names[0].Name

	if recv, ok := awaitReceiver(vs.Values[0]); ok {
		r.insertWatch(c, "await", name, recv, line, suppressed)
		return
	}
	if lit, ok := vs.Values[0].(*ast.FuncLit); ok {
		if repl := r.funcLitReplacement(lit, "closure", name, line, suppressed); repl != nil {
			vs.Values[0] = repl
			r.sites++
		}
		return
	}
	r.insertWatch(c, "variable", name, vs.Values[0], line, suppressed)
}

// funcDecl inserts a blank package variable before a marked function or
// method declaration; its thunk returns a reference to the declared name,
// so there is no duplicate body execution.
func (r *rewriter) funcDecl(c *astutil.Cursor, n *ast.FuncDecl) {
	if _, ok := c.Parent().(*ast.File); !ok {
		return
	}
	name := n.Name.Name
	// init functions cannot be referenced; uninstantiated generics cannot
	// be the operand of a function value or method expression.
	if name == "init" || n.Type.TypeParams != nil {
		return
	}
	if !r.sc.Selected(n) {
		return
	}

	kind, label, ref := "function", name, name
	if n.Recv != nil && len(n.Recv.List) == 1 {
		recvType, err := renderExpr(r.fset, n.Recv.List[0].Type)
		if err != nil || strings.Contains(recvType, "[") {
			return
		}
		kind = "method"
		label = strings.TrimPrefix(recvType, "*") + "." + name
		if strings.HasPrefix(recvType, "*") {
			ref = "(" + recvType + ")." + name
		} else {
			ref = recvType + "." + name
		}
	}

	suppressed := r.sc.Suppressed(n)
	src := "var _ = " + watchStmtSrc(r.opts.ImportName, kind, r.filename, r.line(n), label, suppressed, ref)
	decl, err := parseDecl(src)
	if err != nil {
		return
	}
	c.InsertBefore(decl)
	r.sites++
}

// returnStmt applies duplicate-then-real to `return E` inside a
// single-result function. Empty returns and multi-result functions are
// left untouched.
func (r *rewriter) returnStmt(c *astutil.Cursor, n *ast.ReturnStmt) {
	if len(n.Results) != 1 || r.currentResults() != 1 {
		return
	}
	if !r.sc.Selected(n, c.Parent()) || !canInsert(c) {
		return
	}
	r.insertWatch(c, "return", "", n.Results[0], r.line(n), r.sc.Suppressed(n, c.Parent()))
}

// exprStmt routes a marked expression statement to the panic, log, await,
// or generic expression strategy.
func (r *rewriter) exprStmt(c *astutil.Cursor, n *ast.ExprStmt) {
	call, isCall := n.X.(*ast.CallExpr)
	// Idempotency guard: never re-wrap the monitor's own entry points.
	if isCall && r.isMonitorCall(call) {
		return
	}
	if !r.sc.Selected(n, c.Parent()) || !canInsert(c) {
		return
	}
	suppressed := r.sc.Suppressed(n, c.Parent())
	line := r.line(n)

	if isCall {
		if isPanicCall(call) {
			r.insertWatch(c, "panic", "", call.Args[0], line, suppressed)
			return
		}
		if pkg, sel, ok := logCallee(call); ok && call.Ellipsis == token.NoPos {
			r.replaceLog(c, call, pkg, sel, line, suppressed)
			return
		}
		if recv, ok := awaitReceiver(n.X); ok {
			r.insertWatch(c, "await", "", recv, line, suppressed)
			return
		}
	}

	r.insertWatch(c, "expression", "", n.X, line, suppressed)
}

// keyValue replaces a marked function-valued field of a composite literal,
// the object-method analog.
func (r *rewriter) keyValue(c *astutil.Cursor, n *ast.KeyValueExpr) {
	lit, ok := n.Value.(*ast.FuncLit)
	if !ok || !r.sc.Selected(n, c.Parent()) {
		return
	}
	if repl := r.funcLitReplacement(lit, "field", keyLabel(n.Key), r.line(n), r.sc.Suppressed(n, c.Parent())); repl != nil {
		n.Value = repl
		r.sites++
	}
}

// insertWatch splices a duplicate-then-real monitor statement before the
// current statement. Template failures fall through silently: the transform
// never fails on valid input.
func (r *rewriter) insertWatch(c *astutil.Cursor, kind, label string, expr ast.Expr, line int, suppressed bool) {
	exprText, err := renderExpr(r.fset, expr)
	if err != nil {
		return
	}
	stmt, err := parseStmt(watchStmtSrc(r.opts.ImportName, kind, r.filename, line, label, suppressed, exprText))
	if err != nil {
		return
	}
	c.InsertBefore(stmt)
	r.sites++
}

// replaceLog swaps a console-like call for a monitor call that fires the
// real sink exactly once with the original arguments.
func (r *rewriter) replaceLog(c *astutil.Cursor, call *ast.CallExpr, pkg, sel string, line int, suppressed bool) {
	args := make([]string, len(call.Args))
	for i, a := range call.Args {
		text, err := renderExpr(r.fset, a)
		if err != nil {
			return
		}
		args[i] = text
	}
	src := r.opts.ImportName + ".Log(" +
		recordLiteral(r.opts.ImportName, "log", r.filename, line, "", suppressed) + "}, " +
		"func(args []any) { " + pkg + "." + sel + "(args...) }"
	if len(args) > 0 {
		src += ", " + strings.Join(args, ", ")
	}
	src += ")"
	stmt, err := parseStmt(src)
	if err != nil {
		return
	}
	c.Replace(stmt)
	r.sites++
}

// funcLitReplacement renders the in-place IIFE replacement for a marked
// function literal. Returns nil when the template cannot be built.
func (r *rewriter) funcLitReplacement(lit *ast.FuncLit, kind, label string, line int, suppressed bool) ast.Expr {
	if label == "" {
		label = "anonymous"
	}
	typeText, err := renderExpr(r.fset, lit.Type)
	if err != nil {
		return nil
	}
	litText, err := renderExpr(r.fset, lit)
	if err != nil {
		return nil
	}
	expr, err := parseExprTemplate(iifeSrc(r.opts.ImportName, kind, r.filename, line, label, suppressed, typeText, litText))
	if err != nil {
		return nil
	}
	return expr
}

// isMonitorCall reports whether the callee is a selector on the monitor's
// import identifier.
func (r *rewriter) isMonitorCall(call *ast.CallExpr) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	ident, ok := sel.X.(*ast.Ident)
	return ok && ident.Name == r.opts.ImportName
}

func (r *rewriter) currentResults() int {
	if len(r.results) == 0 {
		return 0
	}
	return r.results[len(r.results)-1]
}

func (r *rewriter) line(n ast.Node) int {
	return r.fset.Position(n.Pos()).Line
}

// canInsert reports whether the cursor sits in a statement list that
// accepts insertion. Statements in single-statement slots (an if init
// clause, a labeled statement body) fall through unmodified.
func canInsert(c *astutil.Cursor) bool {
	switch c.Parent().(type) {
	case *ast.BlockStmt, *ast.CaseClause, *ast.CommClause:
		return true
	default:
		return false
	}
}

func resultCount(t *ast.FuncType) int {
	if t.Results == nil {
		return 0
	}
	n := 0
	for _, f := range t.Results.List {
		if len(f.Names) == 0 {
			n++
			continue
		}
		n += len(f.Names)
	}
	return n
}

// awaitReceiver matches the suspension construct: a zero-argument method
// call named Await. It returns the receiver expression, whose evaluation
// the thunk duplicates; the real call still suspends the caller.
func awaitReceiver(expr ast.Expr) (ast.Expr, bool) {
	call, ok := expr.(*ast.CallExpr)
	if !ok || len(call.Args) != 0 {
		return nil, false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Await" {
		return nil, false
	}
	// An identifier receiver with no resolved object is indistinguishable
	// from a package name, and a package name is not a value the thunk
	// could return. Such calls fall through to the other strategies.
	if ident, ok := sel.X.(*ast.Ident); ok && ident.Obj == nil {
		return nil, false
	}
	return sel.X, true
}

// isPanicCall matches `panic(E)`.
func isPanicCall(call *ast.CallExpr) bool {
	ident, ok := call.Fun.(*ast.Ident)
	return ok && ident.Name == "panic" && len(call.Args) == 1
}

// logCallee matches console-like calls: pure-variadic printers on the fmt
// and log packages. Formatted variants (Printf) are not pure-variadic and
// fall through to the generic expression strategy.
func logCallee(call *ast.CallExpr) (pkg, sel string, ok bool) {
	selExpr, isSel := call.Fun.(*ast.SelectorExpr)
	if !isSel {
		return "", "", false
	}
	ident, isIdent := selExpr.X.(*ast.Ident)
	if !isIdent {
		return "", "", false
	}
	if ident.Name != "fmt" && ident.Name != "log" {
		return "", "", false
	}
	if selExpr.Sel.Name != "Print" && selExpr.Sel.Name != "Println" {
		return "", "", false
	}
	return ident.Name, selExpr.Sel.Name, true
}

func firstIdentName(exprs []ast.Expr) string {
	for _, e := range exprs {
		if ident, ok := e.(*ast.Ident); ok && ident.Name != "_" {
			return ident.Name
		}
	}
	return ""
}

func keyLabel(key ast.Expr) string {
	switch k := key.(type) {
	case *ast.Ident:
		return k.Name
	case *ast.BasicLit:
		return strings.Trim(k.Value, `"`)
	default:
		return ""
	}
}
