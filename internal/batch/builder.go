// Package batch drives a full site build: it loads the catalog, normalizes
// every project's images and renders the pages, one project at a time.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelfolio/internal/catalog"
	"github.com/dunamismax/pixelfolio/internal/config"
	"github.com/dunamismax/pixelfolio/internal/domain"
	"github.com/dunamismax/pixelfolio/internal/id"
	"github.com/dunamismax/pixelfolio/internal/pipeline"
	"github.com/dunamismax/pixelfolio/internal/site"
)

const (
	imageNormalized = "normalized"
	imageSkipped    = "skipped"
	imageFailed     = "failed"
)

// Normalizer is the image normalizer the builder drives.
type Normalizer interface {
	Normalize(ctx context.Context, req pipeline.Request) (pipeline.Output, error)
}

type Notifier interface {
	Send(ctx context.Context, event string, payload any) error
}

type Builder struct {
	logger     *log.Logger
	cfg        config.Config
	gallery    domain.Policy
	cover      domain.Policy
	normalizer Normalizer
	renderer   *site.Renderer
	metrics    *metrics
	tracer     trace.Tracer
	notifier   Notifier
}

func NewBuilder(logger *log.Logger, cfg config.Config, normalizer Normalizer) (*Builder, error) {
	if normalizer == nil {
		return nil, errors.New("normalizer is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	gallery, err := cfg.Policy(cfg.Build.GalleryPolicy)
	if err != nil {
		return nil, fmt.Errorf("gallery policy: %w", err)
	}
	cover, err := cfg.Policy(cfg.Build.CoverPolicy)
	if err != nil {
		return nil, fmt.Errorf("cover policy: %w", err)
	}

	renderer, err := site.NewRenderer(site.Options{
		ThumbnailLimit:   cfg.Build.ThumbnailLimit,
		DescriptionLimit: cfg.Build.DescriptionLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize renderer: %w", err)
	}

	return &Builder{
		logger:     logger,
		cfg:        cfg,
		gallery:    gallery,
		cover:      cover,
		normalizer: normalizer,
		renderer:   renderer,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("pixelfolio/batch"),
	}, nil
}

// SetNotifier registers n to receive a build.completed event after every run.
func (b *Builder) SetNotifier(n Notifier) {
	b.notifier = n
}

// prepared is a project after its images were normalized and before its page
// is rendered.
type prepared struct {
	project  domain.Project
	result   domain.ProjectResult
	pagePath string
	gallery  []string
	cover    string
}

// ready reports whether the project has images to show and has not failed.
func (p prepared) ready() bool {
	switch p.result.Status {
	case domain.ProjectStatusFailed, domain.ProjectStatusSkipped:
		return false
	}
	return len(p.gallery) > 0
}

// Run performs one complete build. It returns an error only when the catalog
// cannot be loaded, the listing page cannot be written or ctx is cancelled.
// Per-project failures are reported in the BuildReport.
func (b *Builder) Run(ctx context.Context, projectsPath, listingPath string) (domain.BuildReport, error) {
	startedAt := time.Now()
	// Page links are computed with filepath.Rel, which needs every path on the
	// same footing.
	projectsPath, pathErr := filepath.Abs(projectsPath)
	if pathErr == nil {
		listingPath, pathErr = filepath.Abs(listingPath)
	}
	report := domain.BuildReport{
		RunID:       id.New(),
		StartedAt:   startedAt.UTC(),
		ListingPath: listingPath,
	}

	ctx, span := b.tracer.Start(ctx, "batch.run")
	span.SetAttributes(
		attribute.String("build.run_id", report.RunID),
		attribute.String("build.projects_file", projectsPath),
	)
	defer span.End()

	err := pathErr
	if err == nil {
		err = b.run(ctx, projectsPath, listingPath, &report)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
	} else {
		span.SetStatus(codes.Ok, "built")
	}
	report.FinishedAt = time.Now().UTC()
	b.metrics.buildDuration.Observe(time.Since(startedAt).Seconds())

	b.logger.Printf(
		"build finished run_id=%s built=%d skipped=%d failed=%d invalid=%d images=%d images_skipped=%d duration=%s",
		report.RunID,
		report.Count(domain.ProjectStatusBuilt),
		report.Count(domain.ProjectStatusSkipped),
		report.Count(domain.ProjectStatusFailed),
		report.Invalid,
		report.ImagesNormalized(),
		report.ImagesSkipped(),
		time.Since(startedAt).Round(time.Millisecond),
	)
	b.writeMetrics()
	b.notify(ctx, report, err)
	return report, err
}

func (b *Builder) run(ctx context.Context, projectsPath, listingPath string, report *domain.BuildReport) error {
	b.logger.Printf("Working... run_id=%s projects=%s listing=%s", report.RunID, projectsPath, listingPath)

	loaded, err := catalog.Load(projectsPath, catalog.LoadOptions{
		Strict: b.cfg.Build.Strict,
		Logger: b.logger,
	})
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	report.Invalid = len(loaded.Invalid)

	root, err := b.root(projectsPath)
	if err != nil {
		return err
	}
	index := catalog.NewIndex(loaded.Projects)

	projects := make([]prepared, len(loaded.Projects))
	for i, project := range loaded.Projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := b.prepareProject(ctx, root, project)
		if err != nil {
			return err
		}
		projects[i] = p
	}

	for i := range projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if projects[i].ready() {
			b.renderProject(projects, i, index, root, listingPath)
		}
		report.Projects = append(report.Projects, projects[i].result)
		b.metrics.projectsTotal.WithLabelValues(projects[i].result.Status).Inc()
	}

	if err := b.renderListing(projects, index, root, listingPath); err != nil {
		return err
	}
	return nil
}

// root is the absolute directory image folders and page paths are resolved
// against.
func (b *Builder) root(projectsPath string) (string, error) {
	dir := filepath.Dir(projectsPath)
	if strings.TrimSpace(b.cfg.Build.Root) != "" {
		dir = b.cfg.Build.Root
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", dir, err)
	}
	return abs, nil
}

func (b *Builder) prepareProject(ctx context.Context, root string, project domain.Project) (prepared, error) {
	p := prepared{
		project:  project,
		result:   domain.ProjectResult{Name: project.Name},
		pagePath: filepath.Join(root, filepath.FromSlash(project.FileName)),
	}

	ctx, span := b.tracer.Start(ctx, "batch.project")
	span.SetAttributes(
		attribute.String("project.name", project.Name),
		attribute.String("project.category", project.Category),
	)
	defer span.End()

	folder := filepath.Join(root, filepath.FromSlash(project.ImageFolder))
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		b.logger.Printf("skipping project name=%q reason=missing image folder path=%s", project.Name, folder)
		p.result.Status = domain.ProjectStatusSkipped
		return p, nil
	}

	outDir := filepath.Join(folder, b.cfg.Build.ResizedDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		b.fail(&p, span, fmt.Errorf("%w: create output dir: %v", pipeline.ErrEmit, err))
		return p, nil
	}

	images, err := catalog.ListImages(folder, b.cfg.Build.ImageExtensions)
	if err != nil {
		b.fail(&p, span, err)
		return p, nil
	}
	if len(images) == 0 {
		b.logger.Printf("skipping project name=%q reason=no images path=%s", project.Name, folder)
		p.result.Status = domain.ProjectStatusSkipped
		return p, nil
	}

	seen := make(map[string]string, len(images))
	for _, name := range images {
		req := pipeline.Request{
			Source:    filepath.Join(folder, name),
			OutputDir: outDir,
			Policy:    b.gallery,
		}
		outName := b.gallery.OutputName(name)
		if first, dup := seen[outName]; dup {
			b.logger.Printf("skipping image source=%s reason=output %s already produced by %s", req.Source, outName, first)
			b.metrics.imagesTotal.WithLabelValues(b.gallery.Name, imageSkipped).Inc()
			p.result.ImagesSkipped++
			continue
		}
		seen[outName] = name

		out, err := b.normalizer.Normalize(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return p, ctxErr
			}
			if errors.Is(err, pipeline.ErrEmit) {
				b.metrics.imagesTotal.WithLabelValues(b.gallery.Name, imageFailed).Inc()
				b.fail(&p, span, err)
				return p, nil
			}
			b.logger.Printf("skipping image source=%s err=%v", req.Source, err)
			b.metrics.imagesTotal.WithLabelValues(b.gallery.Name, imageSkipped).Inc()
			p.result.ImagesSkipped++
			continue
		}

		b.recordOutput(out)
		p.gallery = append(p.gallery, out.Path)
		p.result.ImagesNormalized++
	}

	if len(p.gallery) == 0 {
		b.logger.Printf("skipping project name=%q reason=no image could be normalized", project.Name)
		p.result.Status = domain.ProjectStatusSkipped
		return p, nil
	}

	coverReq := pipeline.Request{
		Source:    filepath.Join(folder, images[0]),
		OutputDir: outDir,
		Policy:    b.cover,
	}
	out, err := b.normalizer.Normalize(ctx, coverReq)
	switch {
	case err == nil:
		b.recordOutput(out)
		p.cover = out.Path
	case ctx.Err() != nil:
		return p, ctx.Err()
	case errors.Is(err, pipeline.ErrEmit):
		b.fail(&p, span, err)
		return p, nil
	default:
		b.logger.Printf("cover fallback project=%q source=%s err=%v", project.Name, coverReq.Source, err)
		b.metrics.imagesTotal.WithLabelValues(b.cover.Name, imageSkipped).Inc()
		p.cover = p.gallery[0]
	}

	span.SetAttributes(
		attribute.Int("project.images_normalized", p.result.ImagesNormalized),
		attribute.Int("project.images_skipped", p.result.ImagesSkipped),
	)
	return p, nil
}

func (b *Builder) recordOutput(out pipeline.Output) {
	b.metrics.imagesTotal.WithLabelValues(out.Policy, imageNormalized).Inc()
	b.metrics.outputBytesTotal.WithLabelValues(out.Policy).Add(float64(out.Bytes))
	b.logger.Printf(
		"normalized source=%s output=%s policy=%s size=%dx%d bytes=%s",
		out.Source,
		out.Path,
		out.Policy,
		out.Width,
		out.Height,
		humanize.Bytes(uint64(out.Bytes)),
	)
}

func (b *Builder) fail(p *prepared, span trace.Span, err error) {
	b.logger.Printf("project failed name=%q err=%v", p.project.Name, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "project failed")
	p.result.Status = domain.ProjectStatusFailed
	p.result.Err = err
}

func (b *Builder) renderProject(projects []prepared, i int, index *catalog.Index, root, listingPath string) {
	p := &projects[i]
	links := &linker{from: filepath.Dir(p.pagePath)}
	listingHref := links.to(listingPath)

	page := site.ProjectPage{
		Chrome:       b.chrome(p.project.Name, links, root),
		Name:         p.project.Name,
		Category:     p.project.Category,
		Description:  p.project.Description,
		Pointers:     p.project.Pointers,
		ListingHref:  listingHref,
		CategoryHref: site.FilterHref(listingHref, p.project.Category),
		MainImage:    site.Image{Src: links.to(p.gallery[0]), Alt: p.project.Name},
	}
	for _, img := range p.gallery {
		page.Thumbnails = append(page.Thumbnails, site.Image{Src: links.to(img), Alt: p.project.Name})
	}

	for _, j := range index.Related(i, len(projects)) {
		if len(page.Related) == b.cfg.Build.RelatedLimit {
			break
		}
		if !projects[j].ready() {
			continue
		}
		page.Related = append(page.Related, b.card(links, projects[j], true))
	}
	if links.err != nil {
		p.result.Status = domain.ProjectStatusFailed
		p.result.Err = links.err
		b.logger.Printf("project failed name=%q err=%v", p.project.Name, links.err)
		return
	}

	var buf bytes.Buffer
	if err := b.renderer.RenderProject(&buf, page); err != nil {
		p.result.Status = domain.ProjectStatusFailed
		p.result.Err = err
		b.logger.Printf("project failed name=%q err=%v", p.project.Name, err)
		return
	}
	if err := writePage(p.pagePath, buf.Bytes()); err != nil {
		p.result.Status = domain.ProjectStatusFailed
		p.result.Err = err
		b.logger.Printf("project failed name=%q err=%v", p.project.Name, err)
		return
	}

	p.result.Status = domain.ProjectStatusBuilt
	p.result.PagePath = p.pagePath
	b.logger.Printf("page written project=%q path=%s images=%d", p.project.Name, p.pagePath, len(p.gallery))
}

func (b *Builder) renderListing(projects []prepared, index *catalog.Index, root, listingPath string) error {
	links := &linker{from: filepath.Dir(listingPath)}
	page := site.ListingPage{
		Chrome:     b.chrome(b.cfg.Site.Title, links, root),
		Categories: site.Categories(index.Categories()),
	}
	for _, p := range projects {
		if p.result.Status != domain.ProjectStatusBuilt {
			continue
		}
		page.Cards = append(page.Cards, b.card(links, p, false))
	}
	if links.err != nil {
		return fmt.Errorf("render listing: %w", links.err)
	}

	var buf bytes.Buffer
	if err := b.renderer.RenderListing(&buf, page); err != nil {
		return fmt.Errorf("render listing: %w", err)
	}
	if err := writePage(listingPath, buf.Bytes()); err != nil {
		return fmt.Errorf("write listing: %w", err)
	}
	b.logger.Printf("listing written path=%s cards=%d", listingPath, len(page.Cards))
	return nil
}

func (b *Builder) card(links *linker, p prepared, withDescription bool) site.Card {
	card := site.Card{
		Name:         p.project.Name,
		Category:     p.project.Category,
		CategorySlug: catalog.Slug(p.project.Category),
		Href:         links.to(p.pagePath),
	}
	if p.cover != "" {
		card.Image = links.to(p.cover)
	}
	if withDescription {
		card.Description = p.project.Description
	}
	return card
}

// chrome builds the shared page furniture for the page links resolves from.
// Stylesheet paths are configured relative to root; URLs pass through.
func (b *Builder) chrome(title string, links *linker, root string) site.Chrome {
	sheets := make([]string, 0, len(b.cfg.Site.Stylesheets))
	for _, s := range b.cfg.Site.Stylesheets {
		if strings.Contains(s, "://") || strings.HasPrefix(s, "/") {
			sheets = append(sheets, s)
			continue
		}
		sheets = append(sheets, links.to(filepath.Join(root, filepath.FromSlash(s))))
	}
	return site.Chrome{
		Title:       title,
		Brand:       b.cfg.Site.Brand,
		Heading:     b.cfg.Site.Heading,
		Subheading:  b.cfg.Site.Subheading,
		Footer:      b.cfg.Site.Footer,
		Stylesheets: sheets,
	}
}

// linker resolves page links from one directory and keeps the first error,
// so a page with an unresolvable link is never written.
type linker struct {
	from string
	err  error
}

func (l *linker) to(target string) string {
	if l.err != nil {
		return ""
	}
	href, err := site.Link(l.from, target)
	if err != nil {
		l.err = err
	}
	return href
}

func (b *Builder) writeMetrics() {
	if strings.TrimSpace(b.cfg.Metrics.File) == "" {
		return
	}
	if err := b.metrics.WriteTextfile(b.cfg.Metrics.File); err != nil {
		b.logger.Printf("metrics write failed path=%s err=%v", b.cfg.Metrics.File, err)
	}
}

type buildEvent struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	ListingPath      string    `json:"listing_path"`
	Built            int       `json:"built"`
	Skipped          int       `json:"skipped"`
	Failed           int       `json:"failed"`
	Invalid          int       `json:"invalid"`
	ImagesNormalized int       `json:"images_normalized"`
	ImagesSkipped    int       `json:"images_skipped"`
	Error            string    `json:"error,omitempty"`
}

func (b *Builder) notify(ctx context.Context, report domain.BuildReport, runErr error) {
	if b.notifier == nil || ctx.Err() != nil {
		return
	}
	event := buildEvent{
		RunID:            report.RunID,
		StartedAt:        report.StartedAt,
		FinishedAt:       report.FinishedAt,
		ListingPath:      report.ListingPath,
		Built:            report.Count(domain.ProjectStatusBuilt),
		Skipped:          report.Count(domain.ProjectStatusSkipped),
		Failed:           report.Count(domain.ProjectStatusFailed),
		Invalid:          report.Invalid,
		ImagesNormalized: report.ImagesNormalized(),
		ImagesSkipped:    report.ImagesSkipped(),
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	if err := b.notifier.Send(ctx, "build.completed", event); err != nil {
		b.logger.Printf("webhook delivery failed run_id=%s err=%v", report.RunID, err)
	}
}

func writePage(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create page dir: %w", err)
	}
	return pipeline.WriteFileAtomic(path, data, 0o644)
}

// Failed reports whether any project in the report failed.
func Failed(report domain.BuildReport) bool {
	return report.Count(domain.ProjectStatusFailed) > 0
}
