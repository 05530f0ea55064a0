package promptcache

import (
	"github.com/featherdev/feather/internal/llm/middleware"
)

// Middleware short-circuits the pipeline on a cache hit and writes fresh
// responses back after a successful call. Uncacheable requests pass through
// untouched.
func (c *Cache) Middleware() middleware.Middleware {
	return middleware.Func(func(mc *middleware.CallContext, next func() error) error {
		d := c.Prepare(mc.Ctx, mc.Provider, mc.Model, mc.Request)
		if d.Hit != nil {
			mc.Response = d.Hit
			return nil
		}

		err := next()
		if err != nil || mc.Response == nil {
			return err
		}
		// Write failures never fail the call.
		if werr := c.Write(mc.Ctx, d, *mc.Response); werr != nil && c.cfg.Logger != nil {
			c.cfg.Logger.Printf("promptcache: write %s: %v", d.Key, werr)
		}
		return nil
	})
}
