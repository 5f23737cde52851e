// Package rewrite locates module specifier literals in JavaScript source and
// replaces them by byte range, leaving every other byte untouched.
//
// Parsing uses the tree-sitter JavaScript grammar. Only string literals in
// import declarations, export-from declarations, dynamic import() calls and
// import.meta.resolve() calls are considered.
package rewrite

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// Kind identifies the syntactic position of a specifier literal.
type Kind int

const (
	KindImport Kind = iota
	KindExport
	KindDynamicImport
	KindMetaResolve
)

func (k Kind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindExport:
		return "export"
	case KindDynamicImport:
		return "dynamic-import"
	case KindMetaResolve:
		return "import-meta-resolve"
	default:
		return "unknown"
	}
}

// Dynamic reports whether the specifier is evaluated at runtime.
func (k Kind) Dynamic() bool {
	return k == KindDynamicImport || k == KindMetaResolve
}

// Import is one specifier literal. Start and End cover the literal including
// its quotes.
type Import struct {
	Specifier string
	Start     int
	End       int
	Kind      Kind
}

// ParseError reports source that tree-sitter could not parse cleanly.
type ParseError struct {
	Offset int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse javascript: %v", e.Err)
	}
	return fmt.Sprintf("parse javascript: syntax error at offset %d", e.Offset)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FindImports returns the specifier literals of src in source order.
func FindImports(ctx context.Context, src []byte) ([]Import, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &ParseError{Offset: errorOffset(root)}
	}

	var imports []Import
	collect(root, src, &imports)
	return imports, nil
}

func collect(n *sitter.Node, src []byte, out *[]Import) {
	switch n.Type() {
	case "import_statement":
		appendLiteral(n.ChildByFieldName("source"), KindImport, src, out)
	case "export_statement":
		appendLiteral(n.ChildByFieldName("source"), KindExport, src, out)
	case "call_expression":
		fn := n.ChildByFieldName("function")
		args := n.ChildByFieldName("arguments")
		if fn != nil && args != nil {
			switch {
			case fn.Type() == "import":
				appendLiteral(firstArgument(args), KindDynamicImport, src, out)
			case isImportMetaResolve(fn, src):
				appendLiteral(firstArgument(args), KindMetaResolve, src, out)
			}
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child != nil {
			collect(child, src, out)
		}
	}
}

func firstArgument(args *sitter.Node) *sitter.Node {
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		if child != nil && child.Type() != "comment" {
			return child
		}
	}
	return nil
}

func isImportMetaResolve(fn *sitter.Node, src []byte) bool {
	if fn.Type() != "member_expression" {
		return false
	}
	return strings.Join(strings.Fields(fn.Content(src)), "") == "import.meta.resolve"
}

func appendLiteral(n *sitter.Node, kind Kind, src []byte, out *[]Import) {
	if n == nil {
		return
	}
	value, ok := literalValue(n, src)
	if !ok {
		return
	}
	*out = append(*out, Import{
		Specifier: value,
		Start:     int(n.StartByte()),
		End:       int(n.EndByte()),
		Kind:      kind,
	})
}

// literalValue accepts string literals and template literals without
// substitutions.
func literalValue(n *sitter.Node, src []byte) (string, bool) {
	raw := n.Content(src)
	if len(raw) < 2 {
		return "", false
	}
	switch n.Type() {
	case "string":
		return unquote(raw)
	case "template_string":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c != nil && c.Type() == "template_substitution" {
				return "", false
			}
		}
		return raw[1 : len(raw)-1], true
	default:
		return "", false
	}
}

func unquote(raw string) (string, bool) {
	inner := raw[1 : len(raw)-1]
	if !strings.Contains(inner, `\`) {
		return inner, true
	}
	if raw[0] == '\'' {
		inner = strings.ReplaceAll(inner, `\'`, `'`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
	}
	value, err := strconv.Unquote(`"` + inner + `"`)
	if err != nil {
		return "", false
	}
	return value, true
}

func errorOffset(n *sitter.Node) int {
	if n.Type() == "ERROR" || n.IsMissing() {
		return int(n.StartByte())
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child != nil && child.HasError() {
			return errorOffset(child)
		}
	}
	return int(n.StartByte())
}
