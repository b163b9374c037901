package capture

import (
	"slices"
	"strings"
)

// ExcludeAttr is the attribute that hides an element and its subtree from
// captures.
const ExcludeAttr = "data-screenshot-exclude"

// Node is the view of a document element needed to evaluate an Exclusion.
// Parent returns nil at the root.
type Node interface {
	Tag() string
	HasAttr(name string) bool
	Parent() Node
}

// Exclusion decides which elements are left out of a rasterization. An
// element is excluded when it, or any of its ancestors, carries one of
// Attrs or has one of Tags.
type Exclusion struct {
	Attrs []string
	Tags  []string
}

// DefaultExclusion hides elements marked with ExcludeAttr along with
// scripts.
func DefaultExclusion() Exclusion {
	return Exclusion{
		Attrs: []string{ExcludeAttr},
		Tags:  []string{"script", "noscript"},
	}
}

// IsZero reports whether no rule is set.
func (e Exclusion) IsZero() bool {
	return len(e.Attrs) == 0 && len(e.Tags) == 0
}

func (e Exclusion) marked(n Node) bool {
	if slices.Contains(e.Tags, strings.ToLower(n.Tag())) {
		return true
	}
	for _, a := range e.Attrs {
		if n.HasAttr(a) {
			return true
		}
	}
	return false
}

// Excludes reports whether n must be left out of the rasterized output.
func (e Exclusion) Excludes(n Node) bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		if e.marked(cur) {
			return true
		}
	}
	return false
}

// Selectors returns CSS selectors matching the excluded roots. A renderer
// hiding these (and therefore their subtrees) honors the Exclusion.
func (e Exclusion) Selectors() []string {
	out := make([]string, 0, len(e.Attrs)+len(e.Tags))
	for _, a := range e.Attrs {
		out = append(out, "["+a+"]")
	}
	out = append(out, e.Tags...)
	return out
}
