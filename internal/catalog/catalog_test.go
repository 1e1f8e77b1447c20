package catalog

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelfolio/internal/domain"
)

const projectsJSON = `[
  {
    "project_name": "Inventory Tracker",
    "project_category": "Web Apps",
    "file_name": "portfolio/inventory.html",
    "image_folder": "portfolio/images/inventory",
    "description": "Stock levels across warehouses.",
    "pointers": ["Barcode scanning", "Low stock alerts"]
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
    "pointers": ["Live traffic"]
  }
]`

func TestParseValidProjects(t *testing.T) {
	res, err := Parse([]byte(projectsJSON), LoadOptions{Strict: true})
	require.NoError(t, err)
	require.Len(t, res.Projects, 3)
	assert.Empty(t, res.Invalid)

	assert.Equal(t, "Inventory Tracker", res.Projects[0].Name)
	assert.Equal(t, []string{"Barcode scanning", "Low stock alerts"}, res.Projects[0].Pointers)
	assert.Equal(t, "AI & ML", res.Projects[2].Category)
}

func TestParseStrictAbortsOnFirstInvalidRecord(t *testing.T) {
	data := `[
	  {"project_name": "Ok", "project_category": "A", "file_name": "a.html", "image_folder": "a", "description": "", "pointers": []},
	  {"project_name": "Broken", "project_category": "A", "file_name": "b.html"}
	]`

	_, err := Parse([]byte(data), LoadOptions{Strict: true})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Index)
	assert.Equal(t, "Broken", verr.Project)
	assert.Equal(t, []string{"image_folder", "description", "pointers"}, verr.Fields)
}

func TestParseLenientDropsInvalidRecords(t *testing.T) {
	data := `[
	  {"project_name": "", "project_category": "A", "file_name": "a.html", "image_folder": "a", "description": "", "pointers": []},
	  "not an object",
	  {"project_name": "Ok", "project_category": "A", "file_name": "b.html", "image_folder": "b", "description": "d", "pointers": ["x"]}
	]`

	var logs bytes.Buffer
	res, err := Parse([]byte(data), LoadOptions{Logger: log.New(&logs, "", 0)})
	require.NoError(t, err)
	require.Len(t, res.Projects, 1)
	assert.Equal(t, "Ok", res.Projects[0].Name)
	require.Len(t, res.Invalid, 2)
	assert.Equal(t, 0, res.Invalid[0].Index)
	assert.Equal(t, []string{"project_name"}, res.Invalid[0].Fields)
	assert.Equal(t, 1, res.Invalid[1].Index)
	assert.Contains(t, logs.String(), "skipping invalid project")
}

func TestParseRejectsNonArray(t *testing.T) {
	_, err := Parse([]byte(`{"project_name": "x"}`), LoadOptions{Strict: true})
	assert.ErrorIs(t, err, ErrNotArray)

	_, err = Parse([]byte(`[{`), LoadOptions{Strict: true})
	assert.Error(t, err)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	require.NoError(t, os.WriteFile(path, []byte(projectsJSON), 0o644))

	res, err := Load(path, LoadOptions{Strict: true})
	require.NoError(t, err)
	assert.Len(t, res.Projects, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"), LoadOptions{})
	assert.Error(t, err)
}

func TestIndexGroupsAndRelated(t *testing.T) {
	projects := []domain.Project{
		{Name: "a", Category: "Web"},
		{Name: "b", Category: "AI"},
		{Name: "c", Category: "Web"},
		{Name: "d", Category: "Web"},
		{Name: "e", Category: "Web"},
		{Name: "f", Category: "Web"},
	}
	idx := NewIndex(projects)

	assert.Equal(t, []string{"Web", "AI"}, idx.Categories())
	assert.Len(t, idx.InCategory("Web"), 5)
	assert.Empty(t, idx.InCategory("Mobile"))

	assert.Equal(t, []int{2, 3, 4}, idx.Related(0, 3))
	assert.Equal(t, []int{0, 3, 4}, idx.Related(2, 3))
	assert.Empty(t, idx.Related(1, 3))
	assert.Nil(t, idx.Related(0, 0))
	assert.Nil(t, idx.Related(42, 3))
}

func TestOrderImagesPutsCoverFirst(t *testing.T) {
	got := OrderImages([]string{"b.png", "a.jpg", "cover.webp", "z.jpeg"})
	assert.Equal(t, []string{"cover.webp", "a.jpg", "b.png", "z.jpeg"}, got)

	got = OrderImages([]string{"b.png", "a.jpg"})
	assert.Equal(t, []string{"a.jpg", "b.png"}, got)

	got = OrderImages([]string{"Cover.png", "cover.jpg", "a.png"})
	assert.Equal(t, "Cover.png", got[0], "lexically first cover wins")
}

func TestListImagesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2.PNG", "1.jpg", "notes.txt", ".hidden.png", "cover.jpeg", "x.webp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "resized"), 0o755))

	got, err := ListImages(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cover.jpeg", "1.jpg", "2.PNG", "x.webp"}, got)

	_, err = ListImages(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "web-apps", Slug("Web Apps"))
	assert.Equal(t, "ai-and-ml", Slug("AI & ML"))
	assert.Equal(t, "iot--edge", Slug("IoT / Edge"))
}
