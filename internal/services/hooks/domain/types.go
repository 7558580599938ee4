// Package domain declares hook events, actions, and their configuration
package domain

import "time"

// Event is one observation worth telling the outside world about.
// Data keys "owner" and "repo", when both present as strings, select
// repository overrides during action resolution
type Event struct {
	Name      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// ActionKind tags the two sink variants
type ActionKind string

// Action kinds
const (
	ActionCommand ActionKind = "command"
	ActionHTTP    ActionKind = "http"
)

// Header is one HTTP header to send with an http action
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Action is one configured reaction to an event
type Action struct {
	Kind ActionKind `json:"kind"`

	// command variant
	Command string `json:"command,omitempty"`

	// http variant
	Endpoint string   `json:"endpoint,omitempty"`
	Method   string   `json:"method,omitempty"`
	Headers  []Header `json:"headers,omitempty"`

	// Parameters ride along on both variants; "name=value" entries split,
	// anything else is passed through whole
	Parameters []string `json:"parameters,omitempty"`
}

// Override adjusts hook behaviour for repositories matching Pattern.
// Pattern is a literal owner/repo slug unless prefixed with "regex:"
type Override struct {
	Pattern        string              `json:"pattern"`
	Enabled        *bool               `json:"enabled,omitempty"`
	DefaultActions []Action            `json:"default_actions,omitempty"`
	EventActions   map[string][]Action `json:"event_actions,omitempty"`
}

// Settings is the dispatcher configuration
type Settings struct {
	Enabled         bool                `json:"enabled"`
	DefaultActions  []Action            `json:"default_actions,omitempty"`
	EventActions    map[string][]Action `json:"event_actions,omitempty"`
	Overrides       []Override          `json:"repository_overrides,omitempty"`
	PullThreshold   int                 `json:"pull_threshold" validate:"gte=0"`
	BranchThreshold int                 `json:"branch_threshold" validate:"gte=0"`
	QueueSize       int                 `json:"queue_size" validate:"gte=0"`
}

// Event names emitted by the poll orchestrator
const (
	EventPullThreshold   = "poll.pull_threshold"
	EventBranchThreshold = "poll.branch_threshold"
	EventPullMerged      = "pull.merged"
	EventPullClosed      = "pull.closed"
	EventBranchDeleted   = "branch.deleted"
)

// EmitterPort is the side the orchestrator talks to
type EmitterPort interface {
	Emit(ev Event)
}
