package middleware

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// Gzip returns an HTTP middleware compressing responses for clients that accept gzip.
// Responses smaller than minSize bytes are sent uncompressed; 0 uses the gzhttp default.
func Gzip(minSize int) (func(http.Handler) http.Handler, error) {
	opts := optionList(
		gzhttp.ContentTypes([]string{
			"application/json",
			"application/javascript",
			"text/plain",
		}),
	)
	if minSize > 0 {
		opts = append(opts, gzhttp.MinSize(minSize))
	}
	wrap, err := gzhttp.NewWrapper(opts...)
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return wrap(next)
	}, nil
}

// optionList collects gzhttp options into a slice; gzhttp does not export its
// option type, so it is inferred here.
func optionList[T any](opts ...T) []T { return opts }
