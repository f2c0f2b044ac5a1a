package ioutil

import (
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of an upstream error response ends up in logs
const maxErrorBody = 512

// ReadLimited reads up to limit bytes from r and returns the content as a string.
// A failed read yields a description of the failure instead of the content.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}

// StatusError describes a non-200 upstream response, including the start of its body
func StatusError(what string, resp *http.Response) error {
	body := ReadLimited(resp.Body, maxErrorBody)
	if body == "" {
		return fmt.Errorf("%s: status %d", what, resp.StatusCode)
	}
	return fmt.Errorf("%s: status %d: %s", what, resp.StatusCode, body)
}
