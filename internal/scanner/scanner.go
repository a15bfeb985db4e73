// Package scanner decides which syntax nodes are selected for
// instrumentation by inspecting the comments attached to them.
package scanner

import (
	"go/ast"
	"go/token"
	"strings"
)

// DefaultMarker is the character whose presence at the start of a trimmed
// comment selects the attached node.
const DefaultMarker = "?"

// suppressSuffix after the marker selects the node but suppresses
// persistence of its records.
const suppressSuffix = "-"

// Scanner answers selection queries for the nodes of a single parsed file.
// Selection is evaluated independently per node: a marker selects exactly
// the node its comment is attached to, plus the one-hop parent check that
// covers a declarator whose marker sits on its enclosing declaration.
type Scanner struct {
	marker string
	cmap   ast.CommentMap
}

// New builds a scanner over the file's comments. An empty marker selects
// DefaultMarker.
func New(fset *token.FileSet, file *ast.File, marker string) *Scanner {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Scanner{
		marker: marker,
		cmap:   ast.NewCommentMap(fset, file, file.Comments),
	}
}

// Selected reports whether a node is marked for instrumentation: true iff
// any comment attached to the node, or to its immediate syntactic parent,
// has trimmed text beginning with the marker. Callers pass the node first,
// then the parent hop. The match is a prefix test on trimmed comment
// content, not a full-line match.
func (s *Scanner) Selected(nodes ...ast.Node) bool {
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, ok := s.markerText(n); ok {
			return true
		}
	}
	return false
}

// Suppressed reports whether the node's marker requests a computed-but-not-
// persisted record (marker immediately followed by "-").
func (s *Scanner) Suppressed(nodes ...ast.Node) bool {
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if text, ok := s.markerText(n); ok {
			return strings.HasPrefix(text, s.marker+suppressSuffix)
		}
	}
	return false
}

// markerText returns the trimmed text of the first marker comment attached
// to node, leading or trailing.
func (s *Scanner) markerText(node ast.Node) (string, bool) {
	for _, group := range s.cmap[node] {
		for _, c := range group.List {
			text := strings.TrimSpace(commentText(c))
			if strings.HasPrefix(text, s.marker) {
				return text, true
			}
		}
	}
	return "", false
}

// commentText strips the comment delimiters, leaving the content whose
// prefix is tested against the marker.
func commentText(c *ast.Comment) string {
	text := c.Text
	switch {
	case strings.HasPrefix(text, "//"):
		return text[2:]
	case strings.HasPrefix(text, "/*"):
		return strings.TrimSuffix(text[2:], "*/")
	default:
		return text
	}
}
