package hints

import (
	"bytes"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
)

var linkTemplate = template.Must(template.New("links").Parse(
	`{{range .}}<link rel="{{.Rel}}" href="{{.Href}}"` +
		`{{with .As}} as="{{.}}"{{end}}` +
		`{{with .Type}} type="{{.}}"{{end}}` +
		`{{with .CrossOrigin}} crossorigin="{{.}}"{{end}}` +
		`{{with .Media}} media="{{.}}"{{end}}` +
		`{{with .FetchPriority}} fetchpriority="{{.}}"{{end}}` +
		">\n{{end}}"))

// HTML renders the emitted hints as <link> elements for a document head.
func (in *Injector) HTML() (template.HTML, error) {
	var buf bytes.Buffer
	if err := linkTemplate.Execute(&buf, in.Hints()); err != nil {
		return "", fmt.Errorf("render hints: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// LinkHeader renders the emitted hints as a single Link header value.
// It is empty when there are no hints.
func (in *Injector) LinkHeader() string {
	hints := in.Hints()
	values := make([]string, 0, len(hints))
	for _, h := range hints {
		values = append(values, linkValue(h))
	}
	return strings.Join(values, ", ")
}

func linkValue(h Hint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<%s>; rel=%s", h.Href, h.Rel)
	if h.As != "" {
		fmt.Fprintf(&b, "; as=%s", h.As)
	}
	if h.Type != "" {
		fmt.Fprintf(&b, "; type=%q", h.Type)
	}
	if h.CrossOrigin != "" {
		fmt.Fprintf(&b, "; crossorigin=%s", h.CrossOrigin)
	}
	if h.Media != "" {
		fmt.Fprintf(&b, "; media=%q", h.Media)
	}
	if h.FetchPriority != "" {
		fmt.Fprintf(&b, "; fetchpriority=%s", h.FetchPriority)
	}
	return b.String()
}

// Middleware adds the Link header to HTML responses. Other content types
// pass through untouched.
func Middleware(in *Injector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var decided bool
			decorate := func() {
				if decided {
					return
				}
				decided = true
				if !isHTML(w.Header().Get("Content-Type")) {
					return
				}
				if link := in.LinkHeader(); link != "" {
					w.Header().Add("Link", link)
				}
			}

			hooked := httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(write httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						decorate()
						write(code)
					}
				},
				Write: func(write httpsnoop.WriteFunc) httpsnoop.WriteFunc {
					return func(b []byte) (int, error) {
						if !decided && w.Header().Get("Content-Type") == "" {
							w.Header().Set("Content-Type", http.DetectContentType(b))
						}
						decorate()
						return write(b)
					}
				},
			})
			next.ServeHTTP(hooked, r)
		})
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}
