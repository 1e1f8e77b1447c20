package batch

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelfolio/internal/config"
	"github.com/dunamismax/pixelfolio/internal/domain"
	"github.com/dunamismax/pixelfolio/internal/pipeline"
)

const fixtureProjects = `[
  {
    "project_name": "Inventory Tracker",
    "project_category": "Web Apps",
    "file_name": "portfolio/inventory.html",
    "image_folder": "portfolio/images/inventory",
    "description": "Stock levels across warehouses.",
    "pointers": ["Barcode scanning"]
  },
  {
    "project_name": "Clinic Booking",
    "project_category": "Web Apps",
    "file_name": "portfolio/clinic.html",
    "image_folder": "portfolio/images/clinic",
    "description": "Appointments for small clinics.",
    "pointers": []
  },
  {
    "project_name": "Route Planner",
    "project_category": "AI & ML",
    "file_name": "portfolio/routes.html",
    "image_folder": "portfolio/images/routes",
    "description": "Delivery route optimization.",
    "pointers": []
  }
]`

type fixture struct {
	root     string
	projects string
	listing  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()

	inventory := filepath.Join(root, "portfolio", "images", "inventory")
	clinic := filepath.Join(root, "portfolio", "images", "clinic")
	require.NoError(t, os.MkdirAll(inventory, 0o755))
	require.NoError(t, os.MkdirAll(clinic, 0o755))

	writePNG(t, filepath.Join(inventory, "cover.png"), 200, 100)
	writePNG(t, filepath.Join(inventory, "1.png"), 50, 50)
	require.NoError(t, os.WriteFile(filepath.Join(inventory, "broken.jpg"), []byte("not a jpeg"), 0o644))
	writePNG(t, filepath.Join(clinic, "1.png"), 120, 90)

	projects := filepath.Join(root, "projects.json")
	require.NoError(t, os.WriteFile(projects, []byte(fixtureProjects), 0o644))

	return fixture{
		root:     root,
		projects: projects,
		listing:  filepath.Join(root, "portfolio.html"),
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 180, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func testConfig() config.Config {
	cfg := config.Default()
	for name, p := range cfg.Policies {
		p.Name = name
		cfg.Policies[name] = p
	}
	return cfg
}

func newTestBuilder(t *testing.T, cfg config.Config, n Normalizer) *Builder {
	t.Helper()
	b, err := NewBuilder(log.New(io.Discard, "", 0), cfg, n)
	require.NoError(t, err)
	return b
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunBuildsSiteAndSkipsCorruptImage(t *testing.T) {
	fx := newFixture(t)
	processor, err := pipeline.NewLocalProcessor()
	require.NoError(t, err)
	b := newTestBuilder(t, testConfig(), processor)

	report, err := b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Count(domain.ProjectStatusBuilt))
	assert.Equal(t, 1, report.Count(domain.ProjectStatusSkipped))
	assert.False(t, Failed(report))
	require.Len(t, report.Projects, 3)
	assert.Equal(t, 2, report.Projects[0].ImagesNormalized)
	assert.Equal(t, 1, report.Projects[0].ImagesSkipped)

	resized := filepath.Join(fx.root, "portfolio", "images", "inventory", "resized")
	assert.FileExists(t, filepath.Join(resized, "resized_cover.jpg"))
	assert.FileExists(t, filepath.Join(resized, "resized_1.jpg"))
	assert.FileExists(t, filepath.Join(resized, "optimized_cover.webp"))
	assert.NoFileExists(t, filepath.Join(resized, "resized_broken.jpg"))

	page := readFile(t, filepath.Join(fx.root, "portfolio", "inventory.html"))
	assert.Contains(t, page, `src="images/inventory/resized/resized_cover.jpg"`)
	assert.Contains(t, page, `href="../portfolio.html?filter=web-apps"`)
	assert.Contains(t, page, `href="clinic.html"`)
	assert.Contains(t, page, "<li>Barcode scanning</li>")
	assert.NotContains(t, page, "routes.html")

	listing := readFile(t, fx.listing)
	assert.Contains(t, listing, `href="portfolio/inventory.html"`)
	assert.Contains(t, listing, `src="portfolio/images/inventory/resized/optimized_cover.webp"`)
	assert.Contains(t, listing, `data-filter="ai-and-ml"`)
	assert.NotContains(t, listing, "portfolio/routes.html")
	assert.NoFileExists(t, filepath.Join(fx.root, "portfolio", "routes.html"))

	assert.Equal(t, 3.0, testutil.ToFloat64(b.metrics.imagesTotal.WithLabelValues("gallery", imageNormalized)))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.imagesTotal.WithLabelValues("gallery", imageSkipped)))
	assert.Equal(t, 2.0, testutil.ToFloat64(b.metrics.imagesTotal.WithLabelValues("optimized", imageNormalized)))
	assert.Equal(t, 2.0, testutil.ToFloat64(b.metrics.projectsTotal.WithLabelValues(domain.ProjectStatusBuilt)))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.projectsTotal.WithLabelValues(domain.ProjectStatusSkipped)))
	assert.Greater(t, testutil.ToFloat64(b.metrics.outputBytesTotal.WithLabelValues("gallery")), 0.0)
}

func TestRunIsRepeatable(t *testing.T) {
	fx := newFixture(t)
	processor, err := pipeline.NewLocalProcessor()
	require.NoError(t, err)
	b := newTestBuilder(t, testConfig(), processor)

	_, err = b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err)
	out := filepath.Join(fx.root, "portfolio", "images", "clinic", "resized", "resized_1.jpg")
	first := readFile(t, out)

	_, err = b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err)
	assert.Equal(t, first, readFile(t, out))

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// fakeNormalizer records requests and fails those matched by failFor.
type fakeNormalizer struct {
	mu       sync.Mutex
	failFor  func(pipeline.Request) error
	requests []pipeline.Request
}

func (f *fakeNormalizer) Normalize(_ context.Context, req pipeline.Request) (pipeline.Output, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.failFor != nil {
		if err := f.failFor(req); err != nil {
			return pipeline.Output{}, err
		}
	}
	return pipeline.Output{
		Policy: req.Policy.Name,
		Source: req.Source,
		Path:   req.Target(),
		Format: req.Policy.Format,
		Bytes:  128,
		Width:  req.Policy.Width,
		Height: req.Policy.Height,
	}, nil
}

func (f *fakeNormalizer) count(source string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if req.Source == source {
			n++
		}
	}
	return n
}

func TestRunEmitFailureFailsProject(t *testing.T) {
	fx := newFixture(t)
	fake := &fakeNormalizer{failFor: func(req pipeline.Request) error {
		if strings.Contains(req.Source, "clinic") {
			return fmt.Errorf("emit stage: %w: disk full", pipeline.ErrEmit)
		}
		return nil
	}}
	b := newTestBuilder(t, testConfig(), fake)

	report, err := b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err)

	assert.True(t, Failed(report))
	assert.Equal(t, domain.ProjectStatusFailed, report.Projects[1].Status)
	assert.ErrorIs(t, report.Projects[1].Err, pipeline.ErrEmit)
	assert.Equal(t, domain.ProjectStatusBuilt, report.Projects[0].Status)

	listing := readFile(t, fx.listing)
	assert.NotContains(t, listing, "portfolio/clinic.html")
	page := readFile(t, filepath.Join(fx.root, "portfolio", "inventory.html"))
	assert.NotContains(t, page, "clinic.html")
}

func TestRunCoverFailureFallsBackToGalleryImage(t *testing.T) {
	fx := newFixture(t)
	fake := &fakeNormalizer{failFor: func(req pipeline.Request) error {
		if req.Policy.Name == "optimized" {
			return fmt.Errorf("transform stage: %w", pipeline.ErrEncode)
		}
		return nil
	}}
	b := newTestBuilder(t, testConfig(), fake)

	report, err := b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(domain.ProjectStatusBuilt))

	listing := readFile(t, fx.listing)
	assert.Contains(t, listing, `src="portfolio/images/inventory/resized/resized_cover.jpg"`)
	assert.NotContains(t, listing, "optimized_")
	assert.Equal(t, 2.0, testutil.ToFloat64(b.metrics.imagesTotal.WithLabelValues("optimized", imageSkipped)))
}

func TestRunCoverWriteFailureFailsProject(t *testing.T) {
	fx := newFixture(t)
	fake := &fakeNormalizer{failFor: func(req pipeline.Request) error {
		if req.Policy.Name == "optimized" && strings.Contains(req.Source, "inventory") {
			return fmt.Errorf("emit stage: %w", pipeline.ErrEmit)
		}
		return nil
	}}
	b := newTestBuilder(t, testConfig(), fake)

	report, err := b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err)
	assert.True(t, Failed(report))
	assert.Equal(t, domain.ProjectStatusFailed, report.Projects[0].Status)
	assert.ErrorIs(t, report.Projects[0].Err, pipeline.ErrEmit)
	assert.Equal(t, domain.ProjectStatusBuilt, report.Projects[1].Status)

	assert.NoFileExists(t, filepath.Join(fx.root, "portfolio", "inventory.html"))
	assert.NotContains(t, readFile(t, fx.listing), "inventory.html")
	assert.NotContains(t, readFile(t, filepath.Join(fx.root, "portfolio", "clinic.html")), "inventory.html")
}

func TestRunDuplicateOutputNamesKeepFirst(t *testing.T) {
	fx := newFixture(t)
	clinic := filepath.Join(fx.root, "portfolio", "images", "clinic")
	require.NoError(t, os.WriteFile(filepath.Join(clinic, "1.jpg"), []byte("x"), 0o644))

	fake := &fakeNormalizer{}
	b := newTestBuilder(t, testConfig(), fake)

	report, err := b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Projects[1].ImagesNormalized)
	assert.Equal(t, 1, report.Projects[1].ImagesSkipped)

	var clinicSources []string
	for _, req := range fake.requests {
		if strings.Contains(req.Source, "clinic") && req.Policy.Name == "gallery" {
			clinicSources = append(clinicSources, filepath.Base(req.Source))
		}
	}
	assert.Equal(t, []string{"1.jpg"}, clinicSources)
}

func TestRunStrictValidationAborts(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.WriteFile(fx.projects, []byte(`[{"project_name": "Half"}]`), 0o644))

	fake := &fakeNormalizer{}
	b := newTestBuilder(t, testConfig(), fake)

	_, err := b.Run(context.Background(), fx.projects, fx.listing)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, fake.requests)
	assert.NoFileExists(t, fx.listing)
}

func TestRunLenientValidationDropsRecord(t *testing.T) {
	fx := newFixture(t)
	data := strings.Replace(fixtureProjects, "[", `[{"project_name": "Half"},`, 1)
	require.NoError(t, os.WriteFile(fx.projects, []byte(data), 0o644))

	cfg := testConfig()
	cfg.Build.Strict = false
	b := newTestBuilder(t, cfg, &fakeNormalizer{})

	report, err := b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 2, report.Count(domain.ProjectStatusBuilt))
}

func TestRunCancelledContext(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeNormalizer{}
	b := newTestBuilder(t, testConfig(), fake)

	_, err := b.Run(ctx, fx.projects, fx.listing)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.requests)
	assert.NoFileExists(t, fx.listing)
}

func TestRunWritesMetricsTextfile(t *testing.T) {
	fx := newFixture(t)
	cfg := testConfig()
	cfg.Metrics.File = filepath.Join(t.TempDir(), "pixelfolio.prom")
	b := newTestBuilder(t, cfg, &fakeNormalizer{})

	_, err := b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err)

	text := readFile(t, cfg.Metrics.File)
	assert.Contains(t, text, `pixelfolio_projects_total{status="built"} 2`)
	assert.Contains(t, text, "pixelfolio_build_duration_seconds_count 1")
}

func TestRunRootOverrideAndStylesheets(t *testing.T) {
	fx := newFixture(t)
	moved := filepath.Join(t.TempDir(), "projects.json")
	require.NoError(t, os.Rename(fx.projects, moved))

	cfg := testConfig()
	cfg.Build.Root = fx.root
	cfg.Site.Stylesheets = []string{"assets/css/main.css", "https://cdn.example.com/bootstrap.css"}
	b := newTestBuilder(t, cfg, &fakeNormalizer{})

	report, err := b.Run(context.Background(), moved, fx.listing)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(domain.ProjectStatusBuilt))

	page := readFile(t, filepath.Join(fx.root, "portfolio", "clinic.html"))
	assert.Contains(t, page, `href="../assets/css/main.css"`)
	assert.Contains(t, page, `href="https://cdn.example.com/bootstrap.css"`)
	assert.Contains(t, readFile(t, fx.listing), `href="assets/css/main.css"`)
}

func TestRunAbsoluteRootWithRelativeListingPath(t *testing.T) {
	fx := newFixture(t)
	t.Chdir(fx.root)

	cfg := testConfig()
	cfg.Build.Root = fx.root
	b := newTestBuilder(t, cfg, &fakeNormalizer{})

	report, err := b.Run(context.Background(), "projects.json", "portfolio.html")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(domain.ProjectStatusBuilt))

	listing := readFile(t, fx.listing)
	assert.Contains(t, listing, `href="portfolio/inventory.html"`)
	assert.Contains(t, listing, `src="portfolio/images/inventory/resized/optimized_cover.webp"`)
	assert.NotContains(t, listing, fx.root)

	page := readFile(t, filepath.Join(fx.root, "portfolio", "inventory.html"))
	assert.Contains(t, page, `href="../portfolio.html?filter=web-apps"`)
	assert.NotContains(t, page, fx.root)
}

type captureNotifier struct {
	events   []string
	payloads []any
	err      error
}

func (c *captureNotifier) Send(_ context.Context, event string, payload any) error {
	c.events = append(c.events, event)
	c.payloads = append(c.payloads, payload)
	return c.err
}

func TestRunNotifiesAfterBuild(t *testing.T) {
	fx := newFixture(t)
	b := newTestBuilder(t, testConfig(), &fakeNormalizer{})
	notifier := &captureNotifier{err: fmt.Errorf("connection refused")}
	b.SetNotifier(notifier)

	report, err := b.Run(context.Background(), fx.projects, fx.listing)
	require.NoError(t, err, "a failed delivery must not fail the build")

	require.Equal(t, []string{"build.completed"}, notifier.events)
	event, ok := notifier.payloads[0].(buildEvent)
	require.True(t, ok)
	assert.Equal(t, report.RunID, event.RunID)
	assert.Equal(t, 2, event.Built)
	assert.Equal(t, 1, event.Skipped)
	assert.Empty(t, event.Error)
	assert.False(t, event.FinishedAt.IsZero())
}
