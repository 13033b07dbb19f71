package rpc

import (
	"fmt"
	"net/url"
	"strconv"
)

// maxQueryLimit bounds the limit parameter; larger values are rejected
// rather than clamped so a garbled cursor never silently changes meaning.
const maxQueryLimit = 65535

// decodeQueryOptions parses a GET call's raw query string against an
// allow-list of exactly two keys, limit and from_server_id. Unknown keys,
// repeated keys and out-of-range values all fail closed.
func decodeQueryOptions(rawQuery string) (QueryOptions, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return QueryOptions{}, err
	}

	opts := QueryOptions{}
	for key, vals := range values {
		if len(vals) != 1 {
			return QueryOptions{}, fmt.Errorf("query key %q given %d times", key, len(vals))
		}
		switch key {
		case "limit":
			limit, err := strconv.Atoi(vals[0])
			if err != nil {
				return QueryOptions{}, fmt.Errorf("limit %q is not an integer: %w", vals[0], err)
			}
			if limit < 0 || limit > maxQueryLimit {
				return QueryOptions{}, fmt.Errorf("limit %d is out of range", limit)
			}
			opts.Limit = &limit
		case "from_server_id":
			fromServerID, err := strconv.ParseInt(vals[0], 10, 64)
			if err != nil {
				return QueryOptions{}, fmt.Errorf("from_server_id %q is not an integer: %w", vals[0], err)
			}
			opts.FromServerID = &fromServerID
		default:
			return QueryOptions{}, fmt.Errorf("unknown query key %q", key)
		}
	}
	return opts, nil
}
