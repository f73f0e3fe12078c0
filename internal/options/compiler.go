package options

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of compiled expressions kept across reloads.
const DefaultCacheSize = 256

// Compiler compiles and caches regular expressions. Option reloads tend to
// repeat the same expressions, so compiled programs are reused.
type Compiler struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

// NewCompiler creates a compiler caching up to size expressions.
func NewCompiler(size int) (*Compiler, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create regexp cache: %w", err)
	}
	return &Compiler{cache: cache}, nil
}

// Compile returns the compiled form of expr. An empty expression yields nil.
func (c *Compiler) Compile(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	if c != nil {
		if re, ok := c.cache.Get(expr); ok {
			return re, nil
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	if c != nil {
		c.cache.Add(expr, re)
	}
	return re, nil
}

// Len returns the number of cached expressions.
func (c *Compiler) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
