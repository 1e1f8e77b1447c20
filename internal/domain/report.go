package domain

import "time"

const (
	ProjectStatusBuilt   = "built"
	ProjectStatusSkipped = "skipped"
	ProjectStatusFailed  = "failed"
)

type ProjectResult struct {
	Name             string
	Status           string
	PagePath         string
	ImagesNormalized int
	ImagesSkipped    int
	Err              error
}

type BuildReport struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	ListingPath string
	Projects    []ProjectResult
	Invalid     int
}

func (r BuildReport) Count(status string) int {
	n := 0
	for _, p := range r.Projects {
		if p.Status == status {
			n++
		}
	}
	return n
}

func (r BuildReport) ImagesNormalized() int {
	n := 0
	for _, p := range r.Projects {
		n += p.ImagesNormalized
	}
	return n
}

func (r BuildReport) ImagesSkipped() int {
	n := 0
	for _, p := range r.Projects {
		n += p.ImagesSkipped
	}
	return n
}
