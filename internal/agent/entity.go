package agent

import "time"

// Agent is a named external worker that can be assigned to tasks. It carries
// no behavior of its own.
type Agent struct {
	ID          string    `yaml:"id" json:"id"`
	OwnerID     string    `yaml:"owner_id" json:"owner_id"`
	Name        string    `yaml:"name" json:"name"`
	URL         string    `yaml:"url" json:"url"`
	Description string    `yaml:"description" json:"description"`
	Archived    bool      `yaml:"archived" json:"archived"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

type Filter struct {
	OwnerID  string
	Archived bool
	Limit    int
	Offset   int
}

func (f Filter) Match(a *Agent) bool {
	if f.OwnerID != "" && a.OwnerID != f.OwnerID {
		return false
	}
	return a.Archived == f.Archived
}
