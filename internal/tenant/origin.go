// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package tenant

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// originCache holds compiled origin patterns; apps are reloaded rarely and
// patterns repeat across reloads.
var originCache sync.Map // pattern -> glob.Glob

func compileOrigin(pattern string) (glob.Glob, error) {
	if g, ok := originCache.Load(pattern); ok {
		return g.(glob.Glob), nil //nolint:errcheck,forcetypeassert // only globs are stored
	}
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by Validate
	}
	originCache.Store(pattern, g)
	return g, nil
}

// AllowsOrigin reports whether a websocket handshake from origin may connect.
// Patterns match the full origin ("https://*.example.com") or just its host
// ("*.example.com").
func (a *App) AllowsOrigin(origin string) bool {
	if len(a.AllowedOrigins) == 0 {
		return true
	}
	origin = strings.ToLower(origin)
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	for _, pattern := range a.AllowedOrigins {
		if pattern == "*" {
			return true
		}
		g, err := compileOrigin(pattern)
		if err != nil {
			continue
		}
		if g.Match(origin) || g.Match(host) {
			return true
		}
	}
	return false
}
