package task

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Task struct {
	ID          string    `yaml:"id" json:"id"`
	OwnerID     string    `yaml:"owner_id" json:"owner_id"`
	Code        string    `yaml:"code" json:"code"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description" json:"description"`
	State       State     `yaml:"state" json:"state"`
	Priority    Priority  `yaml:"priority" json:"priority"`
	ProjectID   string    `yaml:"project_id" json:"project_id"`
	AgentID     string    `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`
	Tags        []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	RemoteJobID string    `yaml:"remote_job_id,omitempty" json:"remote_job_id,omitempty"`
	BranchName  string    `yaml:"branch_name,omitempty" json:"branch_name,omitempty"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

// InFlight reports whether the task has a remote job the poller must watch.
func (t *Task) InFlight() bool {
	return t.RemoteJobID != "" && (t.State == StatePending || t.State == StateRunning)
}

// FormatCode builds the human-readable sequence code, e.g. ABC-001.
func FormatCode(projectKey string, n int) string {
	return fmt.Sprintf("%s-%03d", projectKey, n)
}

// NormalizeTags trims, deduplicates and sorts tags. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Filter selects tasks in List. Zero values match everything except OwnerID,
// which is always applied when non-empty.
type Filter struct {
	OwnerID   string
	ProjectID string
	State     State
	// Query is a case-insensitive substring matched against code, title and
	// description.
	Query string
	// InFlight restricts the result to tasks the poller must watch.
	InFlight bool
	Limit    int
	Offset   int
}

func (f Filter) Match(t *Task) bool {
	if f.OwnerID != "" && t.OwnerID != f.OwnerID {
		return false
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.State != "" && t.State != f.State {
		return false
	}
	if f.InFlight && !t.InFlight() {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(t.Code), q) &&
			!strings.Contains(strings.ToLower(t.Title), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

// GroupByState buckets tasks by lifecycle state, keeping list order inside
// each bucket.
func GroupByState(tasks []*Task) map[State][]*Task {
	groups := make(map[State][]*Task)
	for _, t := range tasks {
		groups[t.State] = append(groups[t.State], t)
	}
	return groups
}
