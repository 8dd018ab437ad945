package query

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/efebarandurmaz/refscan/internal/observability"
	"github.com/efebarandurmaz/refscan/internal/refgraph"
)

// DefaultCacheSize is the number of compiled patterns an Engine keeps.
const DefaultCacheSize = 64

// Engine answers repeated queries against graphs in one syntax, keeping
// recently compiled patterns. It is safe for concurrent use.
type Engine struct {
	syntax  Syntax
	timeout time.Duration
	cache   *lru.Cache[string, Matcher]
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMatchTimeout bounds a single dotnet match.
func WithMatchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// NewEngine returns an Engine caching up to cacheSize compiled patterns
// (DefaultCacheSize when cacheSize <= 0).
func NewEngine(syntax Syntax, cacheSize int, opts ...EngineOption) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, Matcher](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("pattern cache: %w", err)
	}
	e := &Engine{syntax: syntax, timeout: DefaultMatchTimeout, cache: cache}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Syntax returns the engine's pattern syntax.
func (e *Engine) Syntax() Syntax { return e.syntax }

// Compile returns the compiled form of pattern, from cache when possible.
// Invalid patterns are not cached.
func (e *Engine) Compile(pattern string) (Matcher, error) {
	if m, ok := e.cache.Get(pattern); ok {
		return m, nil
	}
	m, err := compile(pattern, e.syntax, e.timeout)
	if err != nil {
		return nil, err
	}
	e.cache.Add(pattern, m)
	return m, nil
}

// Query filters g with pattern. A malformed pattern fails with an error
// wrapping ErrInvalidPattern and leaves g usable for the next query.
func (e *Engine) Query(ctx context.Context, g refgraph.Graph, pattern string) (refgraph.Graph, error) {
	_, span := observability.StartQuerySpan(ctx, pattern, string(e.syntax))
	defer span.End()

	m, err := e.Compile(pattern)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	out := Filter(g, m)
	observability.RecordQueryResult(span, len(out), out.EdgeCount())
	return out, nil
}
