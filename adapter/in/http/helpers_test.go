package http

import "bytes"

// jsonBody wraps a JSON literal as an io.Reader for httptest requests.
func jsonBody(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}
