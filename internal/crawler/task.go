package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TaskRequest is the descriptor accepted from the API and the CLI.
type TaskRequest struct {
	Name          string   `json:"name"`
	Platform      string   `json:"platform"`
	Kind          TaskKind `json:"task_type"`
	TargetURL     string   `json:"target_url"`
	SearchKeyword string   `json:"search_keyword"`
	MaxPages      int      `json:"max_pages"`
	DelaySeconds  *int     `json:"delay_seconds"`
}

// TaskDefaults fills tunables omitted by the caller.
type TaskDefaults struct {
	MaxPages     int
	DelaySeconds int
}

// Normalize trims input and applies defaults.
func (r TaskRequest) Normalize(defaults TaskDefaults) TaskRequest {
	r.Name = strings.TrimSpace(r.Name)
	r.Platform = strings.ToLower(strings.TrimSpace(r.Platform))
	r.Kind = TaskKind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	r.TargetURL = strings.TrimSpace(r.TargetURL)
	r.SearchKeyword = strings.TrimSpace(r.SearchKeyword)
	if r.MaxPages == 0 {
		r.MaxPages = defaults.MaxPages
	}
	if r.DelaySeconds == nil {
		r.DelaySeconds = IntPtr(defaults.DelaySeconds)
	}
	return r
}

// ValidateTask rejects descriptors that must never reach pending.
func ValidateTask(r TaskRequest) error {
	if r.Platform == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidTask)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, r.Kind)
	}
	if r.MaxPages < 1 {
		return fmt.Errorf("%w: max_pages must be >= 1", ErrInvalidTask)
	}
	if r.DelaySeconds != nil && *r.DelaySeconds < 0 {
		return fmt.Errorf("%w: delay_seconds must be >= 0", ErrInvalidTask)
	}
	if r.Kind == TaskKindSearch {
		if r.SearchKeyword == "" {
			return fmt.Errorf("%w: search_keyword is required for search tasks", ErrInvalidTask)
		}
		return nil
	}
	if r.TargetURL == "" {
		return fmt.Errorf("%w: target_url is required for %s tasks", ErrInvalidTask, r.Kind)
	}
	u, err := url.Parse(r.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: target_url %q is not an absolute URL", ErrInvalidTask, r.TargetURL)
	}
	return nil
}

// NewTask builds a pending task from a validated request.
func NewTask(id string, r TaskRequest, now time.Time) Task {
	delay := 0
	if r.DelaySeconds != nil {
		delay = *r.DelaySeconds
	}
	name := r.Name
	if name == "" {
		name = DefaultTaskName(r)
	}
	return Task{
		ID:            id,
		Name:          name,
		Platform:      r.Platform,
		Kind:          r.Kind,
		TargetURL:     r.TargetURL,
		SearchKeyword: r.SearchKeyword,
		MaxPages:      r.MaxPages,
		DelaySeconds:  delay,
		Status:        TaskStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// DefaultTaskName returns "<kind>-<keyword|url>-<platform>".
func DefaultTaskName(r TaskRequest) string {
	target := r.SearchKeyword
	if r.Kind != TaskKindSearch {
		target = r.TargetURL
	}
	return fmt.Sprintf("%s-%s-%s", r.Kind, target, r.Platform)
}
