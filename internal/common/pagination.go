package common

import "net/http"

// ParseLimitOffset reads limit and offset query parameters. A limit outside
// (0, max] falls back to def; a negative offset becomes zero.
func ParseLimitOffset(r *http.Request, def, max int) (limit, offset int) {
	q := r.URL.Query()
	limit = AtoiDefault(q.Get("limit"), def)
	if limit <= 0 || limit > max {
		limit = def
	}
	offset = AtoiDefault(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
