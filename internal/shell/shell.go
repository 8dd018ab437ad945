// Package shell is the line-based command loop that queries a built reference
// graph and renders the results.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/efebarandurmaz/refscan/internal/query"
	"github.com/efebarandurmaz/refscan/internal/refgraph"
)

const (
	// Prompt is printed before every line is read.
	Prompt = "Enter assembly name pattern, 'cs' to clear or 'q' to quit."
	// NoResults is printed when the scan found no modules at all.
	NoResults = "No results."
	// NoMatches is printed when a pattern matched nothing.
	NoMatches = "No matches."

	clearScreen = "\033[H\033[2J"
)

// Querier filters a graph with a pattern.
type Querier interface {
	Query(ctx context.Context, g refgraph.Graph, pattern string) (refgraph.Graph, error)
}

// Shell reads patterns and commands line by line.
type Shell struct {
	In      io.Reader
	Out     io.Writer
	Querier Querier
	Styles  *Styles
}

// New returns a Shell with plain styles.
func New(in io.Reader, out io.Writer, q Querier) *Shell {
	return &Shell{In: in, Out: out, Querier: q, Styles: PlainStyles()}
}

// Run loops until the user quits, input ends or ctx is cancelled. An empty
// graph prints NoResults and returns immediately. Invalid patterns are
// reported and the loop continues with the same graph.
func (s *Shell) Run(ctx context.Context, g refgraph.Graph) error {
	st := s.styles()
	if len(g) == 0 {
		fmt.Fprintln(s.Out, NoResults)
		return nil
	}

	sc := bufio.NewScanner(s.In)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprintln(s.Out, st.Prompt.Render(Prompt))
		if !sc.Scan() {
			return sc.Err()
		}

		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "q"):
			return nil
		case strings.EqualFold(line, "cs"):
			fmt.Fprint(s.Out, clearScreen)
			continue
		}

		result, err := s.Querier.Query(ctx, g, line)
		if errors.Is(err, query.ErrInvalidPattern) {
			fmt.Fprintln(s.Out, st.Error.Render(fmt.Sprintf("Invalid pattern: %v", err)))
			fmt.Fprintln(s.Out)
			continue
		}
		if err != nil {
			return err
		}
		Render(s.Out, result, st)
	}
}

func (s *Shell) styles() *Styles {
	if s.Styles == nil {
		return PlainStyles()
	}
	return s.Styles
}

// Render writes each module identity, the reference header and its indented
// references, followed by a blank line.
func Render(w io.Writer, g refgraph.Graph, st *Styles) {
	if len(g) == 0 {
		fmt.Fprintln(w, st.Muted.Render(NoMatches))
		fmt.Fprintln(w)
		return
	}
	for _, e := range g.Entries() {
		fmt.Fprintln(w, st.Module.Render(e.Module))
		fmt.Fprintln(w, st.Label.Render(refgraph.ReferenceHeader))
		for _, r := range e.References {
			fmt.Fprintln(w, "  "+st.Reference.Render(r))
		}
		fmt.Fprintln(w)
	}
}
