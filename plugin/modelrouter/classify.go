// Package modelrouter maps a free-text message plus caller context onto a
// concrete model variant. Classification is coarse on purpose: a handful of
// feature flags and a complexity bucket are enough to keep free-tier routing
// deterministic and cheap.
package modelrouter

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Complexity buckets a message by how much model capability it likely needs.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Features are the classification flags derived from a message.
type Features struct {
	Length     int
	HasCode    bool
	IsQuestion bool
	Academic   bool
	Shopping   bool
	Complexity Complexity
}

var codeKeywords = []string{
	"func ", "def ", "class ", "#include", "import ", "console.log",
	"select * from", "stack trace", "traceback", "panic:",
}

var academicKeywords = []string{
	"research", "paper", "theorem", "hypothesis", "literature review",
	"citation", "peer-reviewed", "derive", "prove that", "dissertation",
}

var shoppingKeywords = []string{
	"buy", "price", "discount", "deal", "shipping", "order", "cart",
	"purchase", "cheapest", "coupon",
}

var interrogatives = []string{
	"how", "what", "why", "when", "where", "who", "which", "can", "could",
	"should", "does", "is", "are",
}

// Classify derives routing features from the raw message text.
func Classify(content string) Features {
	lower := strings.ToLower(content)
	f := Features{
		Length:     len(content),
		HasCode:    hasCode(content, lower),
		IsQuestion: isQuestion(lower),
		Academic:   containsAny(lower, academicKeywords),
		Shopping:   containsAny(lower, shoppingKeywords),
	}
	f.Complexity = bucket(f)
	return f
}

// hasCode walks the markdown AST looking for fenced or indented code blocks,
// then falls back to a keyword scan for code pasted without fences.
func hasCode(content, lower string) bool {
	source := []byte(content)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	found := false
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if found {
		return true
	}
	return containsAny(lower, codeKeywords)
}

func isQuestion(lower string) bool {
	if strings.Contains(lower, "?") {
		return true
	}
	first := lower
	if i := strings.IndexAny(lower, " \t\n"); i > 0 {
		first = lower[:i]
	}
	for _, w := range interrogatives {
		if first == w {
			return true
		}
	}
	return false
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func bucket(f Features) Complexity {
	switch {
	case f.Length > 800,
		f.HasCode && f.Length > 200,
		f.Academic && f.Length > 400:
		return ComplexityComplex
	case f.Length < 80 && !f.HasCode:
		return ComplexitySimple
	default:
		return ComplexityMedium
	}
}
