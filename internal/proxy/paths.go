// ABOUTME: URL path cleanup for upstream forwarding
// ABOUTME: Collapses runs of consecutive slashes before joining base paths

package proxy

import "regexp"

var multiSlash = regexp.MustCompile(`/{2,}`)

// CollapseSlashes rewrites runs of two or more consecutive slashes to a
// single slash. Upstream route matching chokes on doubled slashes.
func CollapseSlashes(path string) string {
	return multiSlash.ReplaceAllString(path, "/")
}
