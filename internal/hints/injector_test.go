package hints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResources() Resources {
	return Resources{
		PreconnectOrigins: []string{"https://cdn.example.com"},
		CriticalImages:    []string{"/img/hero.webp"},
		CriticalFonts:     []string{"/fonts/inter.woff2"},
		CriticalScripts:   []string{"/js/app.js"},
		Prefetch:          []string{"/api/v1/content/catalog"},
	}
}

func TestInitializeOrder(t *testing.T) {
	in := NewInjector()
	emitted, err := in.Initialize(testResources())
	require.NoError(t, err)
	assert.True(t, emitted)

	assert.Equal(t, []Hint{
		{Rel: RelPreconnect, Href: "https://cdn.example.com", CrossOrigin: CrossOriginAnonymous},
		{Rel: RelDNSPrefetch, Href: "https://cdn.example.com"},
		{Rel: RelPreload, Href: "/img/hero.webp", As: AsImage, FetchPriority: PriorityHigh},
		{Rel: RelPreload, Href: "/fonts/inter.woff2", As: AsFont, Type: DefaultFontType, CrossOrigin: CrossOriginAnonymous, FetchPriority: PriorityHigh},
		{Rel: RelPreload, Href: "/js/app.js", As: AsScript},
		{Rel: RelPrefetch, Href: "/api/v1/content/catalog"},
	}, in.Hints())
}

func TestInitializeOnce(t *testing.T) {
	in := NewInjector()
	_, err := in.Initialize(testResources())
	require.NoError(t, err)
	first := in.Hints()

	emitted, err := in.Initialize(testResources())
	require.NoError(t, err)
	assert.False(t, emitted)

	emitted, err = in.Initialize(Resources{CriticalImages: []string{"/img/other.png"}})
	require.NoError(t, err)
	assert.False(t, emitted)

	assert.Equal(t, first, in.Hints())
	assert.True(t, in.Initialized())
}

func TestInitializeInvalidLeavesInjectorEmpty(t *testing.T) {
	in := NewInjector()
	_, err := in.Initialize(Resources{
		PreconnectOrigins: []string{"cdn.example.com"},
		CriticalImages:    []string{"/img/hero.webp"},
	})
	assert.ErrorIs(t, err, ErrInvalidHint)
	assert.Empty(t, in.Hints())
	assert.False(t, in.Initialized())
}

func TestInitializeSkipsBlanksAndDuplicates(t *testing.T) {
	in := NewInjector()
	_, err := in.Initialize(Resources{
		CriticalImages: []string{"/img/a.png", " ", "/img/a.png"},
		Prefetch:       []string{"/img/a.png"},
	})
	require.NoError(t, err)
	assert.Len(t, in.Hints(), 1)
}

func TestPreloadAndPrefetchDedupe(t *testing.T) {
	in := NewInjector()

	require.NoError(t, in.Preload("/img/card.png", ResourceOptions{FetchPriority: PriorityAuto}))
	require.NoError(t, in.Preload("/img/card.png", ResourceOptions{As: AsImage, FetchPriority: PriorityHigh}))
	require.NoError(t, in.Prefetch("/img/card.png", ResourceOptions{}))
	require.NoError(t, in.Prefetch("/next-page", ResourceOptions{As: AsDocument}))

	assert.Equal(t, []Hint{
		{Rel: RelPreload, Href: "/img/card.png", As: AsImage},
		{Rel: RelPrefetch, Href: "/next-page", As: AsDocument},
	}, in.Hints())
	assert.True(t, in.Has("/img/card.png"))
	assert.True(t, in.Has("/next-page"))
	assert.False(t, in.Has("/missing"))
}

func TestHintValidate(t *testing.T) {
	tests := []struct {
		name    string
		hint    Hint
		wantErr bool
	}{
		{"valid preload", Hint{Rel: RelPreload, Href: "/a.css", As: AsStyle}, false},
		{"preload without as", Hint{Rel: RelPreload, Href: "/a.css"}, true},
		{"empty href", Hint{Rel: RelPrefetch, Href: " "}, true},
		{"unknown rel", Hint{Rel: "modulepreload", Href: "/a.js"}, true},
		{"unknown as", Hint{Rel: RelPreload, Href: "/a", As: "video"}, true},
		{"bad crossorigin", Hint{Rel: RelPrefetch, Href: "/a", CrossOrigin: "yes"}, true},
		{"bad priority", Hint{Rel: RelPrefetch, Href: "/a", FetchPriority: "urgent"}, true},
		{"relative preconnect", Hint{Rel: RelPreconnect, Href: "/local"}, true},
		{"preconnect origin", Hint{Rel: RelPreconnect, Href: "https://fonts.example.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.hint.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidHint)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
