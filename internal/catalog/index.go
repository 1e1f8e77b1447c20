package catalog

import "github.com/dunamismax/pixelfolio/internal/domain"

// Index groups projects by category. It is built once per run and shared
// read-only by every project's rendering.
type Index struct {
	categories []string
	byCategory map[string][]int
	projects   []domain.Project
}

func NewIndex(projects []domain.Project) *Index {
	idx := &Index{
		byCategory: make(map[string][]int),
		projects:   projects,
	}
	for i, p := range projects {
		if _, seen := idx.byCategory[p.Category]; !seen {
			idx.categories = append(idx.categories, p.Category)
		}
		idx.byCategory[p.Category] = append(idx.byCategory[p.Category], i)
	}
	return idx
}

// Categories returns category names in first-seen order.
func (idx *Index) Categories() []string {
	out := make([]string, len(idx.categories))
	copy(out, idx.categories)
	return out
}

func (idx *Index) InCategory(category string) []domain.Project {
	positions := idx.byCategory[category]
	out := make([]domain.Project, 0, len(positions))
	for _, i := range positions {
		out = append(out, idx.projects[i])
	}
	return out
}

// Related returns up to limit other projects sharing the category of the
// project at position self, in input order.
func (idx *Index) Related(self int, limit int) []int {
	if self < 0 || self >= len(idx.projects) || limit <= 0 {
		return nil
	}
	var out []int
	for _, i := range idx.byCategory[idx.projects[self].Category] {
		if i == self {
			continue
		}
		out = append(out, i)
		if len(out) == limit {
			break
		}
	}
	return out
}
