package render_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/serroba/purview/internal/preview"
	"github.com/serroba/purview/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record() *preview.Record {
	return &preview.Record{
		Token:        "PCAE7a",
		Title:        "Check your PayMe offer",
		Description:  "Instant loan up to 5 lakh",
		ImageURL:     "https://cdn.example/payme.png",
		ThemeColor:   "#FF6600",
		TargetURL:    "https://partner.example/offer?utm=sms",
		CanonicalURL: "https://partner.example/offer?utm=sms",
	}
}

func TestImagePath(t *testing.T) {
	assert.Equal(t, "/api/purview-image/PCAE7a", render.ImagePath("PCAE7a"))
	assert.Equal(t, "/api/purview-image/a%20b%2Fc", render.ImagePath("a b/c"))

	u, err := url.Parse(render.ImagePath("a b"))
	require.NoError(t, err)
	assert.Equal(t, "/api/purview-image/a b", u.Path)
}

func TestRenderer_Page(t *testing.T) {
	t.Run("emits open graph and twitter tags", func(t *testing.T) {
		r, err := render.New("", nil)
		require.NoError(t, err)

		page, err := r.Page(record())
		require.NoError(t, err)

		html := string(page)
		assert.Contains(t, html, `<title>Check your PayMe offer</title>`)
		assert.Contains(t, html, `<meta property="og:title" content="Check your PayMe offer" />`)
		assert.Contains(t, html, `<meta property="og:image" content="/api/purview-image/PCAE7a" />`)
		assert.Contains(t, html, `<meta name="twitter:card" content="summary_large_image" />`)
		assert.Contains(t, html, `<meta name="theme-color" content="#FF6600" />`)
		assert.Contains(t, html, `href="https://partner.example/offer?utm=sms"`)
		assert.Contains(t, html, `<img src="/api/purview-image/PCAE7a"`)
	})

	t.Run("makes og image absolute with function host", func(t *testing.T) {
		r, err := render.New("https://preview.example/", nil)
		require.NoError(t, err)

		page, err := r.Page(record())
		require.NoError(t, err)

		assert.Contains(t, string(page), `content="https://preview.example/api/purview-image/PCAE7a"`)
	})

	t.Run("escapes partner copy", func(t *testing.T) {
		r, err := render.New("", nil)
		require.NoError(t, err)

		rec := record()
		rec.Title = `<script>alert("x")</script>`

		page, err := r.Page(rec)
		require.NoError(t, err)

		assert.NotContains(t, string(page), "<script>")
		assert.Contains(t, string(page), "&lt;script&gt;")
	})

	t.Run("replaces non hex theme colors", func(t *testing.T) {
		r, err := render.New("", nil)
		require.NoError(t, err)

		rec := record()
		rec.ThemeColor = "red;}body{display:none"

		page, err := r.Page(rec)
		require.NoError(t, err)

		assert.NotContains(t, string(page), "display:none")
		assert.True(t, strings.Contains(string(page), `content="#ffffff"`))
	})

	t.Run("falls back to canonical url for the button", func(t *testing.T) {
		r, err := render.New("", nil)
		require.NoError(t, err)

		rec := record()
		rec.TargetURL = ""
		rec.CanonicalURL = "https://canonical.example/"

		page, err := r.Page(rec)
		require.NoError(t, err)

		assert.Contains(t, string(page), `class="card-button" href="https://canonical.example/"`)
	})

	t.Run("uses placeholder when the record has no canonical url", func(t *testing.T) {
		r, err := render.New("", func(token string) string {
			return "https://r.example/p/" + token
		})
		require.NoError(t, err)

		rec := record()
		rec.TargetURL = ""
		rec.CanonicalURL = ""

		page, err := r.Page(rec)
		require.NoError(t, err)

		html := string(page)
		assert.Contains(t, html, `<meta property="og:url" content="https://r.example/p/PCAE7a" />`)
		assert.Contains(t, html, `<link rel="canonical" href="https://r.example/p/PCAE7a" />`)
		assert.Contains(t, html, `class="card-button" href="https://r.example/p/PCAE7a"`)
	})

	t.Run("keeps canonical url over placeholder", func(t *testing.T) {
		r, err := render.New("", func(string) string { return "https://r.example/p/x" })
		require.NoError(t, err)

		page, err := r.Page(record())
		require.NoError(t, err)

		assert.NotContains(t, string(page), "https://r.example/p/x")
	})
}
