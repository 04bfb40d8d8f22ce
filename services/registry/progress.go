// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"time"

	"github.com/AleutianAI/wastehunter/services/scm"
)

// Step is one stage of a pipeline run. The enum is closed: a run moves
// strictly forward through the work steps and ends in done or error.
type Step string

const (
	StepSeeding    Step = "seeding"
	StepReading    Step = "reading"
	StepRewriting  Step = "rewriting"
	StepCommitting Step = "committing"
	StepDone       Step = "done"
	StepError      Step = "error"
)

// stepOrder positions the work steps for forward-only transition checks.
var stepOrder = map[Step]int{
	StepSeeding:    0,
	StepReading:    1,
	StepRewriting:  2,
	StepCommitting: 3,
	StepDone:       4,
}

// validStep reports whether a run may move from one step to the next. Any
// step may fail into StepError; work steps only ever advance by one.
func validStep(from, to Step) bool {
	if to == StepError {
		return from != StepDone && from != StepError
	}
	fromPos, ok := stepOrder[from]
	if !ok {
		return false
	}
	toPos, ok := stepOrder[to]
	if !ok {
		return false
	}
	return toPos == fromPos+1
}

// Progress is the observable state of one pipeline run. It is ephemeral:
// durability lives in Finding and DecisionMemory, not here.
type Progress struct {
	ResourceID string `json:"resource_id"`
	Step       Step   `json:"step"`
	Done       bool   `json:"done"`

	// Error is the human-readable cause when Step is error, empty
	// otherwise.
	Error string `json:"error,omitempty"`

	// ChangeRequest is populated when the run completes successfully.
	ChangeRequest *scm.ChangeRequest `json:"change_request,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// observed is set once a poller has read the entry after completion;
	// the janitor only collects observed entries.
	observed bool
}

func cloneProgress(p *Progress) Progress {
	c := *p
	if p.ChangeRequest != nil {
		cr := *p.ChangeRequest
		c.ChangeRequest = &cr
	}
	return c
}
