package expressions

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/itchyny/gojq"

	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultCacheSize bounds the compiled programs and templates kept per engine.
const DefaultCacheSize = 1024

// jqCache keeps the most recently used compiled gojq programs. Safe for
// concurrent use.
type jqCache struct {
	codes *lru.Cache[string, *gojq.Code]
}

func newJQCache(size int) *jqCache {
	return &jqCache{codes: newLRU[*gojq.Code](size)}
}

// newLRU creates a cache of size entries, DefaultCacheSize when size <= 0.
func newLRU[V any](size int) *lru.Cache[string, V] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, V](size)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return c
}

func (c *jqCache) compile(expression string) (*gojq.Code, error) {
	if code, ok := c.codes.Get(expression); ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	c.codes.Add(expression, code)
	return code, nil
}

// QueryEngine evaluates jq expressions against run output, e.g. to extract a
// field from the context an execution finished with.
type QueryEngine struct {
	cache *jqCache
}

// NewQueryEngine creates a new jq query engine.
func NewQueryEngine() *QueryEngine {
	return &QueryEngine{cache: newJQCache(DefaultCacheSize)}
}

// Evaluate runs expression against data. A single output is returned as is;
// several outputs are collected into a slice.
func (e *QueryEngine) Evaluate(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.cache.compile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, data)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}
