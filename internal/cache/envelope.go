package cache

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// Envelope is an annotated response ready to be written.
type Envelope struct {
	Body   any
	Header http.Header
	Status int
}

// Write copies the envelope headers to w and encodes Body as JSON.
func (e *Envelope) Write(w http.ResponseWriter) error {
	dst := w.Header()
	for k, values := range e.Header {
		dst[k] = append([]string(nil), values...)
	}
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}

	w.WriteHeader(e.Status)

	if e.Body == nil || e.Status == http.StatusNoContent || e.Status == http.StatusNotModified {
		return nil
	}
	if err := json.NewEncoder(w).Encode(e.Body); err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	return nil
}
