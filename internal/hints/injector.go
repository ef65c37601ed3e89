package hints

import (
	"cachegate/internal/models"
	"strings"
	"sync"
)

// Resources lists the critical resources of a page.
type Resources struct {
	PreconnectOrigins []string
	CriticalImages    []string
	CriticalFonts     []string
	CriticalScripts   []string
	Prefetch          []string
}

// ResourcesFrom converts the hints configuration.
func ResourcesFrom(cfg models.HintsConfig) Resources {
	return Resources{
		PreconnectOrigins: cfg.PreconnectOrigins,
		CriticalImages:    cfg.CriticalImages,
		CriticalFonts:     cfg.CriticalFonts,
		CriticalScripts:   cfg.CriticalScripts,
		Prefetch:          cfg.Prefetch,
	}
}

// Injector accumulates the hints for one page. Each instance owns its state;
// use one per page or one per process for a fixed resource set.
type Injector struct {
	mu          sync.RWMutex
	hints       []Hint
	emitted     map[string]struct{} // rel + href
	resources   map[string]struct{} // preloaded or prefetched URLs
	initialized bool
}

func NewInjector() *Injector {
	return &Injector{
		emitted:   make(map[string]struct{}),
		resources: make(map[string]struct{}),
	}
}

// Initialize emits hints for res once. Connection hints come first, then
// preloads for images, fonts and scripts, then prefetches. Later calls are
// no-ops and return false. If any entry is invalid nothing is emitted and the
// injector stays uninitialized.
func (in *Injector) Initialize(res Resources) (bool, error) {
	planned, err := plan(res)
	if err != nil {
		return false, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.initialized {
		return false, nil
	}
	for _, h := range planned {
		in.add(h)
	}
	in.initialized = true
	return true, nil
}

func plan(res Resources) ([]Hint, error) {
	var out []Hint
	for _, origin := range trimmed(res.PreconnectOrigins) {
		out = append(out,
			Hint{Rel: RelPreconnect, Href: origin, CrossOrigin: CrossOriginAnonymous},
			Hint{Rel: RelDNSPrefetch, Href: origin},
		)
	}
	for _, img := range trimmed(res.CriticalImages) {
		out = append(out, ResourceOptions{As: AsImage, FetchPriority: PriorityHigh}.hint(RelPreload, img))
	}
	for _, font := range trimmed(res.CriticalFonts) {
		out = append(out, ResourceOptions{
			As:            AsFont,
			Type:          DefaultFontType,
			CrossOrigin:   CrossOriginAnonymous,
			FetchPriority: PriorityHigh,
		}.hint(RelPreload, font))
	}
	for _, script := range trimmed(res.CriticalScripts) {
		out = append(out, ResourceOptions{As: AsScript}.hint(RelPreload, script))
	}
	for _, href := range trimmed(res.Prefetch) {
		out = append(out, ResourceOptions{}.hint(RelPrefetch, href))
	}

	for _, h := range out {
		if err := h.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Preload adds a preload hint for href unless href was already preloaded or prefetched.
func (in *Injector) Preload(href string, opts ResourceOptions) error {
	if opts.As == "" {
		opts.As = AsImage
	}
	return in.addResource(opts.hint(RelPreload, href))
}

// Prefetch adds a prefetch hint for href unless href was already preloaded or prefetched.
func (in *Injector) Prefetch(href string, opts ResourceOptions) error {
	return in.addResource(opts.hint(RelPrefetch, href))
}

func (in *Injector) addResource(h Hint) error {
	if err := h.Validate(); err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.resources[h.Href]; ok {
		return nil
	}
	in.add(h)
	return nil
}

// add must be called with mu held.
func (in *Injector) add(h Hint) {
	if _, ok := in.emitted[h.key()]; ok {
		return
	}
	if h.Rel == RelPreload || h.Rel == RelPrefetch {
		if _, ok := in.resources[h.Href]; ok {
			return
		}
		in.resources[h.Href] = struct{}{}
	}
	in.emitted[h.key()] = struct{}{}
	in.hints = append(in.hints, h)
}

// Has reports whether href has been preloaded or prefetched.
func (in *Injector) Has(href string) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	_, ok := in.resources[href]
	return ok
}

// Initialized reports whether Initialize has emitted its resource set.
func (in *Injector) Initialized() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.initialized
}

// Hints returns the emitted hints in order.
func (in *Injector) Hints() []Hint {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]Hint(nil), in.hints...)
}
