package project

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Project struct {
	ID            string `yaml:"id" json:"id"`
	OwnerID       string `yaml:"owner_id" json:"owner_id"`
	Name          string `yaml:"name" json:"name"`
	Key           string `yaml:"key" json:"key"`
	Description   string `yaml:"description" json:"description"`
	RepositoryURL string `yaml:"repository_url" json:"repository_url"`
	// KeyFiles is the raw manifest as entered; see ParseKeyFiles.
	KeyFiles    string    `yaml:"key_files" json:"key_files"`
	Archived    bool      `yaml:"archived" json:"archived"`
	TaskCounter int       `yaml:"task_counter" json:"task_counter"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

// RunDescription is the text sent to the execution API for a project run.
func (p *Project) RunDescription() string {
	if strings.TrimSpace(p.Description) != "" {
		return p.Description
	}
	return p.Name
}

var ErrInvalidKey = errors.New("invalid project key")

const (
	minKeyLen = 2
	maxKeyLen = 6
)

// ValidateKey checks that key is 2-6 uppercase ASCII letters.
func ValidateKey(key string) error {
	if len(key) < minKeyLen || len(key) > maxKeyLen {
		return fmt.Errorf("%w: %q must be %d-%d characters", ErrInvalidKey, key, minKeyLen, maxKeyLen)
	}
	for _, r := range key {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q must contain only uppercase letters", ErrInvalidKey, key)
		}
	}
	return nil
}

// DeriveKey builds a key from a project name: ASCII letters only, uppercased,
// first three.
func DeriveKey(name string) (string, error) {
	var b strings.Builder
	for _, r := range name {
		if b.Len() == 3 {
			break
		}
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		}
	}
	key := b.String()
	if err := ValidateKey(key); err != nil {
		return "", fmt.Errorf("cannot derive key from name %q: %w", name, err)
	}
	return key, nil
}

// Filter selects projects in List.
type Filter struct {
	OwnerID string
	// Archived selects archived projects instead of active ones.
	Archived bool
	Limit    int
	Offset   int
}

func (f Filter) Match(p *Project) bool {
	if f.OwnerID != "" && p.OwnerID != f.OwnerID {
		return false
	}
	return p.Archived == f.Archived
}
