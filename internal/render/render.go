// Package render produces the Open Graph preview page for a resolved record.
package render

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/serroba/purview/internal/preview"
)

//go:embed page.html.tmpl
var pageTemplate string

const fallbackThemeColor = "#ffffff"

// ImagePath is the internal endpoint that serves a token's hero image.
func ImagePath(token string) string {
	return "/api/purview-image/" + url.PathEscape(token)
}

// PlaceholderFunc returns the token-derived page URL used when a record has
// no canonical URL.
type PlaceholderFunc func(token string) string

// Renderer renders preview pages.
type Renderer struct {
	tmpl         *template.Template
	functionHost string
	placeholder  PlaceholderFunc
}

// New parses the page template. When functionHost is set, og:image is made
// absolute against it; otherwise the relative image path is emitted.
// A nil placeholder leaves og:url empty for records without a canonical URL.
func New(functionHost string, placeholder PlaceholderFunc) (*Renderer, error) {
	tmpl, err := template.New("page").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}

	return &Renderer{
		tmpl:         tmpl,
		functionHost: strings.TrimRight(functionHost, "/"),
		placeholder:  placeholder,
	}, nil
}

type pageData struct {
	Title        string
	Description  string
	ThemeColor   template.CSS
	CanonicalURL string
	TargetURL    string
	ImagePath    string
	OGImageURL   string
}

// Page renders the HTML page for rec.
func (r *Renderer) Page(rec *preview.Record) ([]byte, error) {
	imagePath := ImagePath(rec.Token)

	ogImage := imagePath
	if r.functionHost != "" {
		ogImage = r.functionHost + imagePath
	}

	canonical := rec.CanonicalURL
	if canonical == "" && r.placeholder != nil {
		canonical = r.placeholder(rec.Token)
	}

	target := rec.TargetURL
	if target == "" {
		target = canonical
	}

	data := pageData{
		Title:        rec.Title,
		Description:  rec.Description,
		ThemeColor:   themeColor(rec.ThemeColor),
		CanonicalURL: canonical,
		TargetURL:    target,
		ImagePath:    imagePath,
		OGImageURL:   ogImage,
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render page for %q: %w", rec.Token, err)
	}

	return buf.Bytes(), nil
}

// themeColor admits only hex colors into the stylesheet.
func themeColor(c string) template.CSS {
	if (len(c) != 4 && len(c) != 7) || c[0] != '#' {
		return fallbackThemeColor
	}

	for _, ch := range c[1:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", ch) {
			return fallbackThemeColor
		}
	}

	return template.CSS(c)
}
