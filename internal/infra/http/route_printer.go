package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"
)

// RouteInfo describes one registered route.
type RouteInfo struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Access  string `json:"access"`
	Handler string `json:"handler"`
}

// CollectRoutes walks the router and returns its routes sorted by path then method.
func CollectRoutes(router Router) []RouteInfo {
	var routes []RouteInfo
	_ = router.Walk(func(method, path string, h http.Handler) error {
		routes = append(routes, RouteInfo{
			Method:  method,
			Path:    path,
			Access:  routeAccess(path),
			Handler: handlerName(h),
		})
		return nil
	})
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	return routes
}

// routeAccess names who may call a path.
func routeAccess(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/admin"):
		return "admin"
	case strings.HasPrefix(path, "/api/v1/organizations"):
		return "tenant"
	default:
		return "public"
	}
}

func handlerName(h http.Handler) string {
	fn := runtime.FuncForPC(reflect.ValueOf(h).Pointer())
	if fn == nil {
		return fmt.Sprintf("%T", h)
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// PrintRoutes writes routes as a table, or as JSON when format is "json".
// A non-empty access keeps only routes of that audience.
func PrintRoutes(w io.Writer, routes []RouteInfo, format, access string) error {
	if access != "" {
		filtered := routes[:0:0]
		for _, r := range routes {
			if r.Access == access {
				filtered = append(filtered, r)
			}
		}
		routes = filtered
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(routes)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tACCESS\tHANDLER")
	for _, r := range routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Method, r.Path, r.Access, r.Handler)
	}
	fmt.Fprintf(tw, "\n%d routes\n", len(routes))
	return tw.Flush()
}
