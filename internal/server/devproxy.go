package server

import (
	"cmp"
	"net/http"
	"net/http/httputil"
	"net/url"
	"slices"
	"strings"

	"go.trai.ch/zerr"

	"github.com/rathix/cashier-devkit/internal/config"
)

type proxyRoute struct {
	prefix string
	proxy  http.Handler
}

// ProxyMiddleware forwards requests whose path falls under a rule's prefix to
// the rule's target, e.g. a local API server. The longest matching prefix wins.
func ProxyMiddleware(rules []config.ProxyRule) (Middleware, error) {
	routes := make([]proxyRoute, 0, len(rules))
	for _, rule := range rules {
		u, err := url.Parse(rule.Target)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "invalid proxy target"), "target", rule.Target)
		}
		routes = append(routes, proxyRoute{
			prefix: strings.TrimSuffix(rule.Path, "/"),
			proxy:  httputil.NewSingleHostReverseProxy(u),
		})
	}
	slices.SortStableFunc(routes, func(a, b proxyRoute) int {
		return cmp.Compare(len(b.prefix), len(a.prefix))
	})

	return func(next http.Handler) http.Handler {
		if len(routes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, route := range routes {
				if r.URL.Path == route.prefix || strings.HasPrefix(r.URL.Path, route.prefix+"/") {
					route.proxy.ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
