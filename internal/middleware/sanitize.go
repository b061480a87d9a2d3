package middleware

import (
	"bytes"         // Body buffering
	"encoding/json" // Body rewriting
	"io"            // Body reading
	"strings"       // Trimming

	"github.com/gin-gonic/gin" // Gin web framework
)

// SanitizeMiddleware strips NUL characters and surrounding whitespace from every string in the
// JSON body, the query string and the path parameters. Bodies that are not JSON objects or arrays
// pass through untouched for the binder to reject.
func SanitizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sanitizeBody(c); err != nil {
			c.Next() // Oversized bodies are reported by the binder
			return
		}
		if c.Request.URL.RawQuery != "" {
			query := c.Request.URL.Query()
			for key, values := range query {
				for i := range values {
					values[i] = cleanString(values[i])
				}
				query[key] = values
			}
			c.Request.URL.RawQuery = query.Encode()
		}
		for i := range c.Params {
			c.Params[i].Value = cleanString(c.Params[i].Value)
		}
		c.Next()
	}
}

func sanitizeBody(c *gin.Context) error {
	if c.Request.Body == nil || c.ContentType() != gin.MIMEJSON {
		return nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), errReader{err}))
		return err
	}
	body := raw
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // Keep amounts exact
	var v any
	if dec.Decode(&v) == nil {
		switch v.(type) {
		case map[string]any, []any:
			if cleaned, err := json.Marshal(cleanValue(v)); err == nil {
				body = cleaned
			}
		}
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	c.Request.ContentLength = int64(len(body))
	return nil
}

// cleanValue walks a decoded JSON document and cleans every string in it
func cleanValue(v any) any {
	switch t := v.(type) {
	case string:
		return cleanString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[cleanString(k)] = cleanValue(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = cleanValue(t[i])
		}
		return t
	default:
		return v
	}
}

func cleanString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// errReader replays a read error after the buffered prefix
type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
