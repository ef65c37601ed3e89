// Package hints builds resource hints (preconnect, dns-prefetch, preload,
// prefetch) for pages served through the gateway. Hints are rendered as
// <link> elements or as an RFC 8288 Link header.
package hints

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Relations.
const (
	RelPreconnect  = "preconnect"
	RelDNSPrefetch = "dns-prefetch"
	RelPreload     = "preload"
	RelPrefetch    = "prefetch"
)

// Destinations for the "as" attribute.
const (
	AsFont     = "font"
	AsImage    = "image"
	AsStyle    = "style"
	AsScript   = "script"
	AsDocument = "document"
	AsFetch    = "fetch"
)

const (
	CrossOriginAnonymous      = "anonymous"
	CrossOriginUseCredentials = "use-credentials"

	PriorityHigh = "high"
	PriorityLow  = "low"
	PriorityAuto = "auto"

	// DefaultFontType is used for critical fonts.
	DefaultFontType = "font/woff2"
)

var ErrInvalidHint = errors.New("invalid resource hint")

// Hint is a single <link> hint.
type Hint struct {
	Rel           string `json:"rel"`
	Href          string `json:"href"`
	As            string `json:"as,omitempty"`
	Type          string `json:"type,omitempty"`
	CrossOrigin   string `json:"crossorigin,omitempty"`
	Media         string `json:"media,omitempty"`
	FetchPriority string `json:"fetchpriority,omitempty"`
}

func (h Hint) Validate() error {
	if strings.TrimSpace(h.Href) == "" {
		return fmt.Errorf("%w: href is required", ErrInvalidHint)
	}

	switch h.Rel {
	case RelPreconnect, RelDNSPrefetch:
		if err := validateOrigin(h.Href); err != nil {
			return err
		}
	case RelPreload:
		if h.As == "" {
			return fmt.Errorf("%w: preload of %s requires as", ErrInvalidHint, h.Href)
		}
	case RelPrefetch:
	default:
		return fmt.Errorf("%w: unknown rel %q", ErrInvalidHint, h.Rel)
	}

	switch h.As {
	case "", AsFont, AsImage, AsStyle, AsScript, AsDocument, AsFetch:
	default:
		return fmt.Errorf("%w: unknown as %q", ErrInvalidHint, h.As)
	}

	switch h.CrossOrigin {
	case "", CrossOriginAnonymous, CrossOriginUseCredentials:
	default:
		return fmt.Errorf("%w: unknown crossorigin %q", ErrInvalidHint, h.CrossOrigin)
	}

	switch h.FetchPriority {
	case "", PriorityHigh, PriorityLow, PriorityAuto:
	default:
		return fmt.Errorf("%w: unknown fetchpriority %q", ErrInvalidHint, h.FetchPriority)
	}
	return nil
}

func validateOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q is not an http(s) origin", ErrInvalidHint, origin)
	}
	return nil
}

func (h Hint) key() string {
	return h.Rel + " " + h.Href
}

// ResourceOptions describe a preloaded or prefetched resource.
type ResourceOptions struct {
	As            string
	Type          string
	CrossOrigin   string
	Media         string
	FetchPriority string
}

func (o ResourceOptions) hint(rel, href string) Hint {
	h := Hint{
		Rel:         rel,
		Href:        href,
		As:          o.As,
		Type:        o.Type,
		CrossOrigin: o.CrossOrigin,
		Media:       o.Media,
	}
	// auto is the browser default and is not emitted.
	if o.FetchPriority != PriorityAuto {
		h.FetchPriority = o.FetchPriority
	}
	return h
}
