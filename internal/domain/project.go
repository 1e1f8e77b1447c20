package domain

import (
	"fmt"
	"strings"
)

// RequiredProjectFields lists the keys every project record must carry.
var RequiredProjectFields = []string{
	"project_name",
	"project_category",
	"file_name",
	"image_folder",
	"description",
	"pointers",
}

type Project struct {
	Name        string   `json:"project_name"`
	Category    string   `json:"project_category"`
	FileName    string   `json:"file_name"`
	ImageFolder string   `json:"image_folder"`
	Description string   `json:"description"`
	Pointers    []string `json:"pointers"`
}

// ValidationError describes a project record that cannot be processed.
type ValidationError struct {
	Index   int
	Project string
	Fields  []string
	Reason  string
}

func (e *ValidationError) Error() string {
	name := e.Project
	if name == "" {
		name = "unknown"
	}
	msg := fmt.Sprintf("project[%d] %q", e.Index, name)
	if len(e.Fields) > 0 {
		msg += ": missing required fields: " + strings.Join(e.Fields, ", ")
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (p Project) Validate() error {
	var blank []string
	if strings.TrimSpace(p.Name) == "" {
		blank = append(blank, "project_name")
	}
	if strings.TrimSpace(p.Category) == "" {
		blank = append(blank, "project_category")
	}
	if strings.TrimSpace(p.FileName) == "" {
		blank = append(blank, "file_name")
	}
	if strings.TrimSpace(p.ImageFolder) == "" {
		blank = append(blank, "image_folder")
	}
	if len(blank) > 0 {
		return &ValidationError{Project: p.Name, Fields: blank}
	}
	return nil
}
