// Copyright 2026 © The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package batch executes generated agent folders end to end: it walks an
// output tree, links each folder's manager with its roles, and runs the
// folder's use cases against the created manager.
package batch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/stagehand/pkg/resilience"
	"github.com/jllopis/stagehand/pkg/schema"
	"github.com/jllopis/stagehand/pkg/studio"
	"github.com/jllopis/stagehand/pkg/telemetry"
)

// InferenceAPI is the slice of the studio client the runner depends on.
type InferenceAPI interface {
	RunInference(ctx context.Context, req studio.InferenceRequest) (*studio.InferenceResponse, error)
}

// RunResult is the outcome of a single use case. Exactly one of Response and
// Err is meaningful, selected by Err being nil.
type RunResult struct {
	UseCase  string
	Attempts int
	Response string
	Err      error
}

// RunSummary aggregates the use-case results of one manager.
type RunSummary struct {
	Manager   string
	Total     int
	Succeeded int
	Failed    int
	Results   []RunResult
}

// Runner drives use cases against created managers, one inference call per
// case, serially and in file order.
type Runner struct {
	api     InferenceAPI
	retry   resilience.RetryConfig
	metrics *telemetry.BatchMetrics
	user    string
	saveDir string
	now     func() time.Time
}

// RunnerOption configures the Runner.
type RunnerOption func(*Runner)

// WithRetry replaces the retry policy for inference calls.
func WithRetry(retry resilience.RetryConfig) RunnerOption {
	return func(r *Runner) {
		r.retry = retry
	}
}

// WithSaveDir enables persisting every raw inference response under dir.
func WithSaveDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.saveDir = dir
	}
}

// WithRunnerMetrics counts use-case outcomes and retries.
func WithRunnerMetrics(metrics *telemetry.BatchMetrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// WithRunnerClock overrides the output-file timestamp clock.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a use-case runner. Only transient failures (timeouts,
// 429, 5xx) are retried; everything else fails the case on the first attempt.
func NewRunner(api InferenceAPI, user string, opts ...RunnerOption) *Runner {
	r := &Runner{
		api:   api,
		user:  user,
		now:   time.Now,
		retry: resilience.DefaultRetryConfig().WithIsRecoverable(studio.IsTransient),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RunUseCases executes the cases strictly in slice order against the manager.
// Cases are independent: a failed or retry-exhausted case never stops the
// ones after it. The summary always carries one result per input case.
func (r *Runner) RunUseCases(ctx context.Context, agentID, managerName string, cases []schema.UseCase) *RunSummary {
	summary := &RunSummary{
		Manager: managerName,
		Total:   len(cases),
		Results: make([]RunResult, 0, len(cases)),
	}

	for _, uc := range cases {
		result := r.runOne(ctx, agentID, managerName, uc)
		summary.Results = append(summary.Results, result)
		if result.Err == nil {
			summary.Succeeded++
			r.metrics.RecordUseCase(ctx, "success")
		} else {
			summary.Failed++
			r.metrics.RecordUseCase(ctx, "failure")
			slog.WarnContext(ctx, "use case failed",
				"manager", managerName, "use_case", uc.Name,
				"attempts", result.Attempts, "error", result.Err)
		}
		r.metrics.RecordRetries(ctx, "inference", result.Attempts-1)
	}

	slog.InfoContext(ctx, "use cases finished",
		"manager", managerName, "total", summary.Total,
		"succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary
}

func (r *Runner) runOne(ctx context.Context, agentID, managerName string, uc schema.UseCase) RunResult {
	// A fresh session per case keeps conversations isolated on the remote
	// side while staying attributable to the agent.
	session := agentID + "-" + uuid.NewString()[:8]

	var response *studio.InferenceResponse
	attempts, err := r.retry.DoCounted(ctx, func() error {
		resp, callErr := r.api.RunInference(ctx, studio.InferenceRequest{
			UserID:    r.user,
			AgentID:   agentID,
			SessionID: session,
			Message:   uc.Description,
		})
		if callErr != nil {
			return callErr
		}
		response = resp
		return nil
	})

	result := RunResult{UseCase: uc.Name, Attempts: attempts, Err: err}
	if err != nil {
		return result
	}

	result.Response = response.Response
	if r.saveDir != "" {
		r.saveRaw(ctx, managerName, uc.Name, response.Raw)
	}
	return result
}

// saveRaw persists the untouched response body for later inspection. Saving
// is best effort: a filesystem problem is reported but never fails the case.
func (r *Runner) saveRaw(ctx context.Context, managerName, caseName string, raw []byte) {
	dir := filepath.Join(r.saveDir, sanitizeName(managerName), sanitizeName(caseName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.WarnContext(ctx, "output directory creation failed", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, "inference_raw_"+r.now().Format("20060102_150405")+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		slog.WarnContext(ctx, "saving raw response failed", "path", path, "error", err)
		return
	}
	slog.DebugContext(ctx, "saved raw response", "path", path)
}

// sanitizeName makes an agent or case name safe as a directory component.
// Stamped names carry spaces, brackets, pipes and clock colons.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		"[", "",
		"]", "",
		"|", "-",
		":", "-",
		"/", "-",
		string(os.PathSeparator), "-",
	)
	return replacer.Replace(name)
}
