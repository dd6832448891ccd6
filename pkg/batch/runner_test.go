// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	serrors "github.com/jllopis/stagehand/pkg/errors"
	"github.com/jllopis/stagehand/pkg/resilience"
	"github.com/jllopis/stagehand/pkg/schema"
	"github.com/jllopis/stagehand/pkg/studio"
)

// fakeInference pops one scripted error per call for each message; once the
// script is exhausted the call succeeds.
type fakeInference struct {
	script   map[string][]error
	requests []studio.InferenceRequest
}

func (f *fakeInference) RunInference(ctx context.Context, req studio.InferenceRequest) (*studio.InferenceResponse, error) {
	f.requests = append(f.requests, req)
	if queue := f.script[req.Message]; len(queue) > 0 {
		err := queue[0]
		f.script[req.Message] = queue[1:]
		return nil, err
	}
	return &studio.InferenceResponse{
		Response: "ok: " + req.Message,
		Raw:      []byte(`{"response": "ok"}`),
	}, nil
}

func fastRetry(maxAttempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		IsRecoverable: studio.IsTransient,
	}
}

func TestRunUseCasesAggregation(t *testing.T) {
	api := &fakeInference{script: map[string][]error{
		// Case A never recovers; B times out twice then succeeds.
		"do a": {
			&studio.APIError{Status: 500},
			&studio.APIError{Status: 500},
			&studio.APIError{Status: 500},
		},
		"do b": {
			&studio.APIError{Timeout: true},
			&studio.APIError{Timeout: true},
		},
	}}
	runner := NewRunner(api, "demo-user", WithRetry(fastRetry(3)))

	summary := runner.RunUseCases(context.Background(), "m1", "HR_MANAGER.1", []schema.UseCase{
		{Name: "A", Description: "do a"},
		{Name: "B", Description: "do b"},
		{Name: "C", Description: "do c"},
	})

	if summary.Total != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected aggregate: %+v", summary)
	}
	if len(summary.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(summary.Results))
	}

	a, b, c := summary.Results[0], summary.Results[1], summary.Results[2]
	if a.UseCase != "A" || b.UseCase != "B" || c.UseCase != "C" {
		t.Errorf("file order not preserved: %+v", summary.Results)
	}

	if a.Err == nil || a.Attempts != 3 {
		t.Errorf("case A should exhaust 3 attempts, got %+v", a)
	}
	var serr *serrors.StagehandError
	if !errors.As(a.Err, &serr) || serr.Code != serrors.CodeRetryExhausted {
		t.Errorf("case A should surface retry exhaustion, got %v", a.Err)
	}

	if b.Err != nil || b.Attempts != 3 || b.Response != "ok: do b" {
		t.Errorf("case B should succeed on the third attempt, got %+v", b)
	}
	if c.Err != nil || c.Attempts != 1 {
		t.Errorf("case C should succeed immediately, got %+v", c)
	}
}

func TestNonTransientFailsOnFirstAttempt(t *testing.T) {
	api := &fakeInference{script: map[string][]error{
		"do a": {
			&studio.APIError{Status: 400, Body: "bad request"},
			&studio.APIError{Status: 400, Body: "bad request"},
		},
	}}
	runner := NewRunner(api, "demo-user", WithRetry(fastRetry(3)))

	summary := runner.RunUseCases(context.Background(), "m1", "M", []schema.UseCase{
		{Name: "A", Description: "do a"},
	})

	result := summary.Results[0]
	if result.Attempts != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", result.Attempts)
	}
	var apiErr *studio.APIError
	if !errors.As(result.Err, &apiErr) || apiErr.Status != 400 {
		t.Errorf("expected the 400 surfaced, got %v", result.Err)
	}
	if len(api.requests) != 1 {
		t.Errorf("expected a single call, got %d", len(api.requests))
	}
}

func TestSessionPerCase(t *testing.T) {
	api := &fakeInference{}
	runner := NewRunner(api, "demo-user", WithRetry(fastRetry(1)))

	runner.RunUseCases(context.Background(), "m1", "M", []schema.UseCase{
		{Name: "A", Description: "do a"},
		{Name: "B", Description: "do b"},
	})

	if len(api.requests) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(api.requests))
	}
	s1, s2 := api.requests[0].SessionID, api.requests[1].SessionID
	if !strings.HasPrefix(s1, "m1-") || !strings.HasPrefix(s2, "m1-") {
		t.Errorf("session ids must derive from the agent id: %q, %q", s1, s2)
	}
	if s1 == s2 {
		t.Errorf("each case needs its own session, got %q twice", s1)
	}
	if api.requests[0].UserID != "demo-user" {
		t.Errorf("user id lost: %+v", api.requests[0])
	}
}

func TestSaveRaw(t *testing.T) {
	dir := t.TempDir()
	api := &fakeInference{}
	at := time.Date(2026, 8, 25, 14, 45, 0, 0, time.UTC)
	runner := NewRunner(api, "demo-user",
		WithRetry(fastRetry(1)),
		WithSaveDir(dir),
		WithRunnerClock(func() time.Time { return at }),
	)

	summary := runner.RunUseCases(context.Background(), "m1",
		"HR_MANAGER.1 [m1 | 2026-08-25 02:45 PM UTC]",
		[]schema.UseCase{{Name: "Case A", Description: "do a"}})
	if summary.Failed != 0 {
		t.Fatalf("unexpected failure: %+v", summary.Results)
	}

	// Colons from the stamped clock must not survive into directory names.
	path := filepath.Join(dir,
		"HR_MANAGER.1_m1_-_2026-08-25_02-45_PM_UTC",
		"Case_A",
		"inference_raw_20260825_144500.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected raw response at %s: %v", path, err)
	}
	if string(data) != `{"response": "ok"}` {
		t.Errorf("raw body altered: %s", data)
	}
}
