package models

import (
	"errors"
	"fmt"
	"time"
)

type Candidate struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Election is owned by the administrative side; this module only reads it.
type Election struct {
	ID         string      `json:"id" yaml:"id"`
	Title      string      `json:"title" yaml:"title"`
	Candidates []Candidate `json:"candidates" yaml:"candidates"`
	StartTime  time.Time   `json:"start_time" yaml:"start_time"`
	EndTime    time.Time   `json:"end_time" yaml:"end_time"`
	Active     bool        `json:"active" yaml:"active"`
}

// Validate checks the shape of an election record.
func (e *Election) Validate() error {
	if e.ID == "" {
		return errors.New("election id is required")
	}
	if len(e.Candidates) == 0 {
		return errors.New("election needs at least one candidate")
	}
	if !e.EndTime.After(e.StartTime) {
		return errors.New("election end time must be after start time")
	}

	seen := make(map[string]bool, len(e.Candidates))
	for _, c := range e.Candidates {
		if c.ID == "" {
			return errors.New("candidate id is required")
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate candidate id %q", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// IsOpenAt reports whether a vote committed at t may be accepted.
func (e *Election) IsOpenAt(t time.Time) bool {
	return e.Active && !t.Before(e.StartTime) && t.Before(e.EndTime)
}

// WithinWindow ignores the active flag. Records anchored while the election
// was open stay countable after it closes.
func (e *Election) WithinWindow(t time.Time) bool {
	return !t.Before(e.StartTime) && t.Before(e.EndTime)
}

func (e *Election) HasCandidate(id string) bool {
	for _, c := range e.Candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
