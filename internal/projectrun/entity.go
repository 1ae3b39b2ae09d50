package projectrun

import "time"

// Remote subtask statuses that end a subtask.
const (
	SubtaskStatusPending   = "pending"
	SubtaskStatusCompleted = "completed"
	SubtaskStatusFailed    = "failed"
)

// InitialSubtaskDescription is shown until the first status poll replaces it.
const InitialSubtaskDescription = "Initializing..."

type Subtask struct {
	RemoteID    string `yaml:"remote_id" json:"remote_id"`
	Status      string `yaml:"status" json:"status"`
	Description string `yaml:"description" json:"description"`
	BranchName  string `yaml:"branch_name" json:"branch_name"`
}

// Terminal reports whether the remote will not change this subtask again.
func (s Subtask) Terminal() bool {
	return s.Status == SubtaskStatusCompleted || s.Status == SubtaskStatusFailed
}

// ProjectRun is one remote project execution fanned out into per-file
// subtasks. Completion is always derived from Subtasks; Active only records
// whether the run is still watched.
type ProjectRun struct {
	ID              string     `yaml:"id" json:"id"`
	OwnerID         string     `yaml:"owner_id" json:"owner_id"`
	ProjectID       string     `yaml:"project_id" json:"project_id"`
	RemoteProjectID string     `yaml:"remote_project_id" json:"remote_project_id"`
	Subtasks        []Subtask  `yaml:"subtasks" json:"subtasks"`
	Active          bool       `yaml:"active" json:"active"`
	RemoteCreatedAt string     `yaml:"remote_created_at,omitempty" json:"remote_created_at,omitempty"`
	RemoteUpdatedAt string     `yaml:"remote_updated_at,omitempty" json:"remote_updated_at,omitempty"`
	CreatedAt       time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `yaml:"updated_at" json:"updated_at"`
	FinishedAt      *time.Time `yaml:"finished_at,omitempty" json:"finished_at,omitempty"`
}

// SeedSubtasks builds the initial subtask list for freshly submitted ids.
func SeedSubtasks(remoteIDs []string) []Subtask {
	subtasks := make([]Subtask, len(remoteIDs))
	for i, id := range remoteIDs {
		subtasks[i] = Subtask{
			RemoteID:    id,
			Status:      SubtaskStatusPending,
			Description: InitialSubtaskDescription,
		}
	}
	return subtasks
}

// Progress counts subtasks by remote status.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}

func (r *ProjectRun) Progress() Progress {
	p := Progress{Total: len(r.Subtasks)}
	for _, s := range r.Subtasks {
		switch s.Status {
		case SubtaskStatusCompleted:
			p.Completed++
		case SubtaskStatusFailed:
			p.Failed++
		default:
			p.Running++
		}
	}
	return p
}

type Filter struct {
	OwnerID    string
	ProjectID  string
	ActiveOnly bool
	Limit      int
	Offset     int
}

func (f Filter) Match(r *ProjectRun) bool {
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	if f.ProjectID != "" && r.ProjectID != f.ProjectID {
		return false
	}
	if f.ActiveOnly && !r.Active {
		return false
	}
	return true
}
