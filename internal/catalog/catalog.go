// Package catalog loads project records and answers the lookups the batch
// driver needs: category grouping, related projects and image ordering.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dunamismax/pixelfolio/internal/domain"
)

var ErrNotArray = errors.New("projects file must contain a JSON array of projects")

type LoadOptions struct {
	// Strict aborts on the first invalid record. Otherwise invalid records
	// are logged and dropped.
	Strict bool
	Logger *log.Logger
}

type LoadResult struct {
	Projects []domain.Project
	Invalid  []*domain.ValidationError
}

func Load(path string, opts LoadOptions) (LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("read projects file: %w", err)
	}
	return Parse(data, opts)
}

func Parse(data []byte, opts LoadOptions) (LoadResult, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return LoadResult{}, ErrNotArray
		}
		return LoadResult{}, fmt.Errorf("parse projects file: %w", err)
	}

	result := LoadResult{Projects: make([]domain.Project, 0, len(raw))}
	for i, msg := range raw {
		project, err := parseRecord(i, msg)
		if err != nil {
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || opts.Strict {
				return LoadResult{}, err
			}
			if opts.Logger != nil {
				opts.Logger.Printf("skipping invalid project err=%v", verr)
			}
			result.Invalid = append(result.Invalid, verr)
			continue
		}
		result.Projects = append(result.Projects, project)
	}
	return result, nil
}

func parseRecord(index int, msg json.RawMessage) (domain.Project, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil || fields == nil {
		return domain.Project{}, &domain.ValidationError{Index: index, Reason: "record is not a JSON object"}
	}

	var name string
	if rawName, ok := fields["project_name"]; ok {
		_ = json.Unmarshal(rawName, &name)
	}

	var missing []string
	for _, key := range domain.RequiredProjectFields {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return domain.Project{}, &domain.ValidationError{Index: index, Project: name, Fields: missing}
	}

	var project domain.Project
	if err := json.Unmarshal(msg, &project); err != nil {
		return domain.Project{}, &domain.ValidationError{Index: index, Project: name, Reason: err.Error()}
	}
	if err := project.Validate(); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			verr.Index = index
		}
		return domain.Project{}, err
	}
	return project, nil
}

// Slug turns a category into the token used for CSS classes and filters.
func Slug(category string) string {
	s := strings.ToLower(strings.TrimSpace(category))
	s = strings.ReplaceAll(s, "&", "and")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}
