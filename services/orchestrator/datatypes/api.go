// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the request and response shapes of the HTTP API.
package datatypes

import (
	"github.com/AleutianAI/wastehunter/services/registry"
	"github.com/AleutianAI/wastehunter/services/scm"
)

// RejectRequest is the body of POST /findings/{resource_id}/reject.
type RejectRequest struct {
	Reason     string `json:"reason" binding:"required"`
	RejectedBy string `json:"rejected_by"`
}

// ScanResponse reports what a scan upsert changed.
type ScanResponse struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// FindingsResponse wraps the finding list.
type FindingsResponse struct {
	Findings []registry.Finding `json:"findings"`
	Count    int                `json:"count"`
}

// DecisionResponse reports the outcome of an approve or reject.
type DecisionResponse struct {
	ResourceID    string             `json:"resource_id"`
	Status        registry.Status    `json:"status"`
	ChangeRequest *scm.ChangeRequest `json:"change_request,omitempty"`
}

// ErrorResponse is the uniform error envelope. Code is the taxonomy tag,
// Error the human-readable cause.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
