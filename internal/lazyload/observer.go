// Package lazyload drives the load state of a deferred resource, such as a
// below-the-fold image, from viewport intersection events.
//
// An Observer moves through Unobserved, InView and then Loaded or Errored.
// Loaded and Errored are terminal; a remounted element gets a new Observer.
// Load failures only change state and are never returned to the caller.
package lazyload

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State of an observed resource.
type State int

const (
	Unobserved State = iota
	InView
	Loaded
	Errored
)

func (s State) String() string {
	switch s {
	case Unobserved:
		return "unobserved"
	case InView:
		return "in_view"
	case Loaded:
		return "loaded"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Loaded || s == Errored
}

const (
	DefaultThreshold  = 0.1
	DefaultRootMargin = "200px"
)

var ErrInvalidOptions = errors.New("invalid lazy load options")

// Options configure one observed resource.
type Options struct {
	Src         string
	FallbackSrc string
	// Priority resources skip intersection tracking and load immediately.
	Priority bool
	// Threshold is the visible ratio that counts as in view. Zero means DefaultThreshold.
	Threshold  float64
	RootMargin string

	OnLoad  func()
	OnError func(error)
}

func (o Options) Validate() error {
	if o.Src == "" {
		return fmt.Errorf("%w: src is required", ErrInvalidOptions)
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [0, 1]", ErrInvalidOptions)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.RootMargin == "" {
		o.RootMargin = DefaultRootMargin
	}
	return o
}

// Entry is a single intersection observation.
type Entry struct {
	Ratio        float64
	Intersecting bool
}

// IntersectionSource delivers intersection entries for a target until the
// returned disconnect function is called.
type IntersectionSource interface {
	Observe(target string, threshold float64, rootMargin string, fn func(Entry)) (disconnect func())
}

// Transition is published to subscribers on every state change.
type Transition struct {
	From State
	To   State
	Err  error
}

// Observer tracks one resource instance.
type Observer struct {
	opts   Options
	source IntersectionSource
	loader Loader

	mu          sync.Mutex
	state       State
	err         error
	started     bool
	stopped     bool
	disconnect  func()
	cancel      context.CancelFunc
	subscribers map[int]func(Transition)
	nextSub     int
	done        chan struct{}
}

// NewObserver creates an observer in the Unobserved state. source may be nil
// only for priority resources.
func NewObserver(opts Options, source IntersectionSource, loader Loader) (*Observer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, fmt.Errorf("%w: loader is required", ErrInvalidOptions)
	}
	if source == nil && !opts.Priority {
		return nil, fmt.Errorf("%w: intersection source is required", ErrInvalidOptions)
	}
	return &Observer{
		opts:        opts.withDefaults(),
		source:      source,
		loader:      loader,
		subscribers: make(map[int]func(Transition)),
		done:        make(chan struct{}),
	}, nil
}

// Start registers the resource for intersection tracking, or begins loading
// at once for priority resources. Only the first call has an effect.
func (o *Observer) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started || o.stopped {
		o.mu.Unlock()
		return
	}
	o.started = true
	ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	if o.opts.Priority {
		o.enterView(ctx)
		return
	}

	disconnect := o.source.Observe(o.opts.Src, o.opts.Threshold, o.opts.RootMargin, func(e Entry) {
		if e.Intersecting && e.Ratio >= o.opts.Threshold {
			o.enterView(ctx)
		}
	})

	o.mu.Lock()
	if o.state != Unobserved || o.stopped {
		// Already triggered during registration.
		o.mu.Unlock()
		disconnect()
		return
	}
	o.disconnect = disconnect
	o.mu.Unlock()
}

func (o *Observer) enterView(ctx context.Context) {
	o.mu.Lock()
	if o.state != Unobserved || o.stopped {
		o.mu.Unlock()
		return
	}
	disconnect := o.disconnect
	o.disconnect = nil
	subs := o.transitionLocked(InView, nil)
	o.mu.Unlock()

	if disconnect != nil {
		disconnect()
	}
	publish(subs, Transition{From: Unobserved, To: InView})

	go o.load(ctx)
}

func (o *Observer) load(ctx context.Context) {
	err := o.safeLoad(ctx)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	to := Loaded
	if err != nil {
		to = Errored
	}
	subs := o.transitionLocked(to, err)
	o.mu.Unlock()
	defer close(o.done)

	publish(subs, Transition{From: InView, To: to, Err: err})

	if err != nil {
		if o.opts.OnError != nil {
			o.opts.OnError(err)
		}
		return
	}
	if o.opts.OnLoad != nil {
		o.opts.OnLoad()
	}
}

func (o *Observer) safeLoad(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load %s panicked: %v", o.opts.Src, r)
		}
	}()
	return o.loader.Load(ctx, o.opts.Src)
}

// transitionLocked must be called with mu held. It returns the subscribers to notify.
func (o *Observer) transitionLocked(to State, err error) []func(Transition) {
	o.state = to
	o.err = err
	subs := make([]func(Transition), 0, len(o.subscribers))
	for i := 0; i < o.nextSub; i++ {
		if fn, ok := o.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func publish(subs []func(Transition), t Transition) {
	for _, fn := range subs {
		fn(t)
	}
}

// Stop disconnects intersection tracking and abandons a pending load. The
// state is left as it is and no further transitions or callbacks happen.
func (o *Observer) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	disconnect := o.disconnect
	o.disconnect = nil
	cancel := o.cancel
	o.mu.Unlock()

	if disconnect != nil {
		disconnect()
	}
	if cancel != nil {
		cancel()
	}
}

// Subscribe registers fn for future transitions. Call the returned function to unsubscribe.
func (o *Observer) Subscribe(fn func(Transition)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.subscribers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subscribers, id)
	}
}

// State returns the current state.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the load error once the observer is Errored.
func (o *Observer) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Done is closed once the observer has reached a terminal state and run its
// subscribers and callbacks.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// Visible names what is rendered for the resource.
type Visible int

const (
	ShowPlaceholder Visible = iota
	ShowResource
	ShowFallback
)

func (v Visible) String() string {
	switch v {
	case ShowResource:
		return "resource"
	case ShowFallback:
		return "fallback"
	default:
		return "placeholder"
	}
}

// View is what a renderer should display.
type View struct {
	Visible Visible
	Src     string
	// Error marks a failed load so the placeholder can show an error affordance.
	Error bool
}

// View maps the current state to what should be displayed.
func (o *Observer) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case Loaded:
		return View{Visible: ShowResource, Src: o.opts.Src}
	case Errored:
		if o.opts.FallbackSrc != "" {
			return View{Visible: ShowFallback, Src: o.opts.FallbackSrc, Error: true}
		}
		return View{Visible: ShowPlaceholder, Error: true}
	default:
		return View{Visible: ShowPlaceholder}
	}
}
