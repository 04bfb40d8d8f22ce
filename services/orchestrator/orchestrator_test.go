// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/wastehunter/services/blast"
	"github.com/AleutianAI/wastehunter/services/graph"
	"github.com/AleutianAI/wastehunter/services/orchestrator/datatypes"
	"github.com/AleutianAI/wastehunter/services/pipeline"
	"github.com/AleutianAI/wastehunter/services/registry"
	"github.com/AleutianAI/wastehunter/services/rewrite"
	"github.com/AleutianAI/wastehunter/services/scanner"
	"github.com/AleutianAI/wastehunter/services/scm"
)

// downsizableResource is the one static-scanner fixture whose current spec
// matches the seeded terraform template, so its pipeline run can complete.
const downsizableResource = "i-0a1b2c3d4e5f67890"

type testEnv struct {
	svc   Service
	host  *scm.FakeHost
	store graph.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := graph.OpenBadger(graph.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	host := scm.NewFakeHost()
	reg := registry.New(registry.Config{Host: host, Graph: store})
	pipe := pipeline.New(pipeline.Config{
		Registry: reg,
		Assessor: blast.NewAssessor(store),
		Host:     host,
		Rewriter: rewrite.NewLocalRewriter(),
	})

	svc, err := New(Config{
		GinMode:         "test",
		JanitorInterval: time.Hour,
	}, Deps{
		Registry: reg,
		Pipeline: pipe,
		Scanner:  scanner.NewStaticScanner(),
		Graph:    store,
	})
	require.NoError(t, err)

	return &testEnv{svc: svc, host: host, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.svc.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func (e *testEnv) scan(t *testing.T) datatypes.ScanResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/findings/scan", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[datatypes.ScanResponse](t, w)
}

// runPipeline starts the pipeline and polls the progress endpoint until the
// run completes.
func (e *testEnv) runPipeline(t *testing.T, resourceID string) registry.Progress {
	t.Helper()
	w := e.do(t, http.MethodPost, "/findings/"+resourceID+"/pipeline", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var prog registry.Progress
	require.Eventually(t, func() bool {
		resp := e.do(t, http.MethodGet, "/findings/"+resourceID+"/pipeline", nil)
		if resp.Code != http.StatusOK {
			return false
		}
		prog = decode[registry.Progress](t, resp)
		return prog.Done
	}, 5*time.Second, 20*time.Millisecond)
	return prog
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]string](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["graph"])
}

func TestScanAndList(t *testing.T) {
	env := newTestEnv(t)

	scan := env.scan(t)
	assert.Equal(t, 3, scan.New)
	assert.Equal(t, 0, scan.Updated)
	assert.Equal(t, 3, scan.Total)

	// Second scan refreshes the same findings.
	scan = env.scan(t)
	assert.Equal(t, 0, scan.New)
	assert.Equal(t, 3, scan.Updated)

	w := env.do(t, http.MethodGet, "/findings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[datatypes.FindingsResponse](t, w)
	require.Equal(t, 3, list.Count)
	// Largest savings first.
	assert.Equal(t, downsizableResource, list.Findings[0].ResourceID)
	for _, f := range list.Findings {
		assert.Equal(t, registry.StatusDetected, f.Status)
	}
}

func TestGetFinding(t *testing.T) {
	env := newTestEnv(t)
	env.scan(t)

	w := env.do(t, http.MethodGet, "/findings/"+downsizableResource, nil)
	require.Equal(t, http.StatusOK, w.Code)
	f := decode[registry.Finding](t, w)
	assert.Equal(t, "m5.4xlarge", f.CurrentSpec)
	assert.Equal(t, "m5.xlarge", f.RecommendedSpec)

	t.Run("unknown resource is 404", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/findings/i-doesnotexist", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_found", decode[datatypes.ErrorResponse](t, w).Code)
	})

	t.Run("malformed resource id is 400", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/findings/%21%40%23", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_resource_id", decode[datatypes.ErrorResponse](t, w).Code)
	})
}

func TestPipelineAndApproveFlow(t *testing.T) {
	env := newTestEnv(t)
	env.scan(t)

	prog := env.runPipeline(t, downsizableResource)
	assert.Equal(t, registry.StepDone, prog.Step)
	assert.Empty(t, prog.Error)
	require.NotNil(t, prog.ChangeRequest)
	assert.Equal(t, pipeline.BranchName(downsizableResource), prog.ChangeRequest.Branch)

	w := env.do(t, http.MethodGet, "/findings/"+downsizableResource, nil)
	require.Equal(t, http.StatusOK, w.Code)
	f := decode[registry.Finding](t, w)
	assert.Equal(t, registry.StatusPRReady, f.Status)

	w = env.do(t, http.MethodPost, "/findings/"+downsizableResource+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decision := decode[datatypes.DecisionResponse](t, w)
	assert.Equal(t, registry.StatusApproved, decision.Status)
	require.NotNil(t, decision.ChangeRequest)
	assert.Equal(t, scm.ChangeRequestMerged, decision.ChangeRequest.State)

	t.Run("second approve is 409", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/findings/"+downsizableResource+"/approve", nil)
		require.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "invalid_transition", decode[datatypes.ErrorResponse](t, w).Code)
	})
}

func TestRejectFlowWritesDecisionMemory(t *testing.T) {
	env := newTestEnv(t)
	env.scan(t)
	env.runPipeline(t, downsizableResource)

	body := datatypes.RejectRequest{Reason: "peak season freeze", RejectedBy: "sre-oncall"}
	w := env.do(t, http.MethodPost, "/findings/"+downsizableResource+"/reject", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decision := decode[datatypes.DecisionResponse](t, w)
	assert.Equal(t, registry.StatusRejected, decision.Status)
	require.NotNil(t, decision.ChangeRequest)
	assert.Equal(t, scm.ChangeRequestClosed, decision.ChangeRequest.State)

	records, err := env.store.GetDecisionMemory(context.Background(), downsizableResource)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "peak season freeze", records[0].Reason)
	assert.Equal(t, "sre-oncall", records[0].RejectedBy)
}

func TestRejectWithoutReason(t *testing.T) {
	env := newTestEnv(t)
	env.scan(t)

	w := env.do(t, http.MethodPost, "/findings/"+downsizableResource+"/reject",
		map[string]string{"rejected_by": "someone"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode[datatypes.ErrorResponse](t, w).Code)
}

func TestPipelineProgressWithoutRun(t *testing.T) {
	env := newTestEnv(t)
	env.scan(t)

	w := env.do(t, http.MethodGet, "/findings/"+downsizableResource+"/pipeline", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[datatypes.ErrorResponse](t, w).Code)
}

func TestPipelineOnUnknownResource(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/findings/i-none/pipeline", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.scan(t)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wastehunter_api_requests_total")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{GinMode: "test"}, Deps{})
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})
	assert.Equal(t, 8780, cfg.Port)
	assert.True(t, *cfg.EnableMetrics)
	assert.Equal(t, 5*time.Minute, cfg.JanitorInterval)
	assert.Equal(t, scanner.DefaultThresholds(), cfg.ScanThresholds)
}
