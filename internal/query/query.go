// Package query filters a reference graph down to the references matching a
// pattern.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/efebarandurmaz/refscan/internal/refgraph"
)

// ErrInvalidPattern is returned when a pattern does not compile.
var ErrInvalidPattern = errors.New("invalid pattern")

// Syntax selects the regular expression dialect.
type Syntax string

const (
	// SyntaxRE2 is Go's regexp syntax.
	SyntaxRE2 Syntax = "re2"
	// SyntaxDotNet is .NET-compatible syntax, including lookaround and
	// backreferences.
	SyntaxDotNet Syntax = "dotnet"
)

// ParseSyntax maps a config value to a Syntax; empty means SyntaxRE2.
func ParseSyntax(s string) (Syntax, error) {
	switch Syntax(strings.ToLower(strings.TrimSpace(s))) {
	case "", SyntaxRE2:
		return SyntaxRE2, nil
	case SyntaxDotNet:
		return SyntaxDotNet, nil
	}
	return "", fmt.Errorf("unknown pattern syntax %q (want %q or %q)", s, SyntaxRE2, SyntaxDotNet)
}

// DefaultMatchTimeout bounds a single dotnet match, which can backtrack.
const DefaultMatchTimeout = time.Second

// Matcher reports whether a reference name matches anywhere within it.
type Matcher interface {
	Match(name string) bool
	String() string
}

// Compile compiles pattern in the given syntax. A malformed pattern yields an
// error wrapping ErrInvalidPattern.
func Compile(pattern string, syntax Syntax) (Matcher, error) {
	return compile(pattern, syntax, DefaultMatchTimeout)
}

func compile(pattern string, syntax Syntax, timeout time.Duration) (Matcher, error) {
	switch syntax {
	case "", SyntaxRE2:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
		}
		return re2Matcher{re}, nil
	case SyntaxDotNet:
		re, err := regexp2.Compile(pattern, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
		}
		if timeout > 0 {
			re.MatchTimeout = timeout
		}
		return dotNetMatcher{re}, nil
	}
	return nil, fmt.Errorf("%w: unknown syntax %q", ErrInvalidPattern, syntax)
}

type re2Matcher struct{ re *regexp.Regexp }

func (m re2Matcher) Match(name string) bool { return m.re.MatchString(name) }
func (m re2Matcher) String() string         { return m.re.String() }

type dotNetMatcher struct{ re *regexp2.Regexp }

// Match treats a match that times out as no match.
func (m dotNetMatcher) Match(name string) bool {
	ok, err := m.re.MatchString(name)
	return err == nil && ok
}

func (m dotNetMatcher) String() string { return m.re.String() }

// Filter returns the modules of g that have at least one reference matching m,
// each restricted to its matching references. g is not modified.
func Filter(g refgraph.Graph, m Matcher) refgraph.Graph {
	out := make(refgraph.Graph)
	for id, refs := range g {
		var kept refgraph.RefSet
		for r := range refs {
			if !m.Match(r) {
				continue
			}
			if kept == nil {
				kept = make(refgraph.RefSet)
			}
			kept.Add(r)
		}
		if kept != nil {
			out[id] = kept
		}
	}
	return out
}
