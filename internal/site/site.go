// Package site renders the static project and listing pages.
package site

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dunamismax/pixelfolio/internal/catalog"
)

//go:embed templates/*.html.tmpl assets/portfolio.css
var content embed.FS

const (
	DefaultThumbnailLimit   = 4
	DefaultDescriptionLimit = 100
)

// Chrome is the page furniture shared by every generated page.
type Chrome struct {
	Title       string
	Brand       string
	Heading     string
	Subheading  string
	Footer      string
	Stylesheets []string
}

type Image struct {
	Src string
	Alt string
}

// Card is one project tile on the listing page or in a related section.
type Card struct {
	Name         string
	Category     string
	CategorySlug string
	Href         string
	Image        string
	Description  string
}

type Category struct {
	Name string
	Slug string
}

type ProjectPage struct {
	Chrome
	Name         string
	Category     string
	Description  string
	Pointers     []string
	ListingHref  string
	CategoryHref string
	MainImage    Image
	Thumbnails   []Image
	Related      []Card
}

type ListingPage struct {
	Chrome
	Categories []Category
	Cards      []Card
}

type Options struct {
	ThumbnailLimit   int
	DescriptionLimit int
}

type Renderer struct {
	project *template.Template
	listing *template.Template
	style   template.CSS
	opts    Options
}

func NewRenderer(opts Options) (*Renderer, error) {
	if opts.ThumbnailLimit <= 0 {
		opts.ThumbnailLimit = DefaultThumbnailLimit
	}
	if opts.DescriptionLimit <= 0 {
		opts.DescriptionLimit = DefaultDescriptionLimit
	}

	css, err := content.ReadFile("assets/portfolio.css")
	if err != nil {
		return nil, fmt.Errorf("read stylesheet: %w", err)
	}
	project, err := template.ParseFS(content, "templates/layout.html.tmpl", "templates/project.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse project template: %w", err)
	}
	listing, err := template.ParseFS(content, "templates/layout.html.tmpl", "templates/listing.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse listing template: %w", err)
	}

	return &Renderer{
		project: project,
		listing: listing,
		style:   template.CSS(css),
		opts:    opts,
	}, nil
}

type projectView struct {
	ProjectPage
	Style    template.CSS
	HomeHref string
}

type listingView struct {
	ListingPage
	Style    template.CSS
	HomeHref string
}

// RenderProject writes one project page. Thumbnails beyond the configured
// limit are dropped and related descriptions are truncated.
func (r *Renderer) RenderProject(w io.Writer, page ProjectPage) error {
	if len(page.Thumbnails) > r.opts.ThumbnailLimit {
		page.Thumbnails = page.Thumbnails[:r.opts.ThumbnailLimit]
	}
	related := make([]Card, len(page.Related))
	for i, card := range page.Related {
		card.Description = Truncate(card.Description, r.opts.DescriptionLimit)
		related[i] = card
	}
	page.Related = related

	view := projectView{ProjectPage: page, Style: r.style, HomeHref: page.ListingHref}
	return execute(w, r.project, "project.html.tmpl", view)
}

func (r *Renderer) RenderListing(w io.Writer, page ListingPage) error {
	view := listingView{ListingPage: page, Style: r.style, HomeHref: "#portfolio"}
	return execute(w, r.listing, "listing.html.tmpl", view)
}

// execute renders into a buffer first so a template error never leaves a
// half-written page in w.
func execute(w io.Writer, tmpl *template.Template, name string, data any) error {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Truncate shortens s to limit runes and appends "..." when anything was cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

// Link returns target relative to the directory fromDir, slash separated, as
// it must appear in an href or src attribute. Both paths must be absolute or
// both relative; a link that cannot be made relative is an error rather than
// a filesystem path leaking into the page.
func Link(fromDir, target string) (string, error) {
	rel, err := filepath.Rel(fromDir, target)
	if err != nil {
		return "", fmt.Errorf("link %s from %s: %w", target, fromDir, err)
	}
	return filepath.ToSlash(rel), nil
}

// FilterHref is the listing URL preselecting a category.
func FilterHref(listingHref, category string) string {
	return listingHref + "?filter=" + catalog.Slug(category)
}

// Categories converts category names to their filter buttons.
func Categories(names []string) []Category {
	out := make([]Category, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		out = append(out, Category{Name: name, Slug: catalog.Slug(name)})
	}
	return out
}
