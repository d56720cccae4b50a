package models

// TaskKind identifies which registered automation script a pool worker runs
// for a task.
type TaskKind string

const (
	// TaskKindLogin drives an interactive login attempt
	TaskKindLogin TaskKind = "login"
	// TaskKindChallenge submits a challenge response for a pending login
	TaskKindChallenge TaskKind = "challenge"
	// TaskKindExtract fetches data from the target site as an authenticated session
	TaskKindExtract TaskKind = "extract"
	// TaskKindProbe performs a lightweight validity check against the target site
	TaskKindProbe TaskKind = "probe"
)

// ExtractRequest is the payload of a TaskKindExtract task: fetch one page as
// the user's authenticated session.
type ExtractRequest struct {
	UserID       string `json:"user_id"`
	URL          string `json:"url"`
	WaitSelector string `json:"wait_selector,omitempty"` // Element that must appear before the page counts as loaded
}

// Task is a unit of browser automation work submitted to the worker pool.
// Immutable once enqueued - it is owned by the submitter until a result or
// error comes back.
type Task struct {
	Kind    TaskKind `json:"kind"`
	Payload []byte   `json:"payload"`
}
