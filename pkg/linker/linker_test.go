// SPDX-License-Identifier: Apache-2.0

package linker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	serrors "github.com/jllopis/stagehand/pkg/errors"
	"github.com/jllopis/stagehand/pkg/schema"
	"github.com/jllopis/stagehand/pkg/studio"
)

type fakeStudio struct {
	names     []string
	failAfter int // fail the create call with this 1-based index, 0 = never
	failErr   error

	creates []schema.AgentPayload
	updates map[string]schema.AgentPayload
}

func newFakeStudio(names ...string) *fakeStudio {
	return &fakeStudio{names: names, updates: map[string]schema.AgentPayload{}}
}

func (f *fakeStudio) CreateAgent(ctx context.Context, payload *schema.AgentPayload) (*studio.AgentRecord, error) {
	if f.failAfter > 0 && len(f.creates)+1 == f.failAfter {
		return nil, f.failErr
	}
	f.creates = append(f.creates, *payload)
	return &studio.AgentRecord{ID: fmt.Sprintf("id-%d", len(f.creates))}, nil
}

func (f *fakeStudio) UpdateAgent(ctx context.Context, agentID string, payload *schema.AgentPayload) error {
	f.updates[agentID] = *payload
	return nil
}

func (f *fakeStudio) ListAgents(ctx context.Context) ([]studio.AgentSummary, error) {
	out := make([]studio.AgentSummary, 0, len(f.names))
	for i, name := range f.names {
		out = append(out, studio.AgentSummary{ID: fmt.Sprintf("old-%d", i), Name: name})
	}
	return out, nil
}

func writeRole(t *testing.T, dir, file, name string) {
	t.Helper()
	doc := fmt.Sprintf(`name: %s
description: handles %s matters
agent_role: You are the %s specialist.
agent_goal: Answer %s questions.
agent_instructions: Be precise.
response_format:
  type: json
`, name, name, name, name)
	if err := os.WriteFile(filepath.Join(dir, file), []byte(doc), 0o644); err != nil {
		t.Fatalf("writing role fixture: %v", err)
	}
}

func managerRaw(refs ...map[string]any) map[string]any {
	anyRefs := make([]any, 0, len(refs))
	for _, r := range refs {
		anyRefs = append(anyRefs, r)
	}
	return map[string]any{
		"name":               "HR_MANAGER",
		"description":        "routes HR requests",
		"agent_role":         "You coordinate specialist agents.",
		"agent_goal":         "Route each request to the right specialist.",
		"agent_instructions": "Delegate, never answer directly.",
		"response_format":    map[string]any{"type": "json"},
		"managed_agents":     anyRefs,
	}
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 8, 25, 14, 45, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestCreateManagerWithRoles(t *testing.T) {
	dir := t.TempDir()
	writeRole(t, dir, "policy.yaml", "Policy")
	writeRole(t, dir, "escalation.yaml", "Escalation")

	api := newFakeStudio()
	l := New(api, WithClock(fixedClock()))

	raw := managerRaw(
		map[string]any{"file": "policy.yaml", "usage_description": "policy questions"},
		map[string]any{"file": "escalation.yaml", "usage_description": "escalations"},
	)
	result, err := l.CreateManagerWithRoles(context.Background(), raw, dir, "sub1")
	if err != nil {
		t.Fatalf("CreateManagerWithRoles failed: %v", err)
	}
	if result.Outcome != OutcomeComplete {
		t.Fatalf("expected complete outcome, got %s", result.Outcome)
	}

	// Every role create precedes the single manager create.
	if len(api.creates) != 3 {
		t.Fatalf("expected 3 creates, got %d", len(api.creates))
	}
	if api.creates[0].AgentRole != "You are the Policy specialist." {
		t.Errorf("first create is not the Policy role: %+v", api.creates[0])
	}
	if api.creates[1].AgentRole != "You are the Escalation specialist." {
		t.Errorf("second create is not the Escalation role: %+v", api.creates[1])
	}

	manager := api.creates[2]
	if !manager.IsManager() {
		t.Fatal("third create is not a manager payload")
	}
	if len(manager.ManagedAgents) != 2 {
		t.Fatalf("expected 2 resolved roles, got %d", len(manager.ManagedAgents))
	}
	// Declared order survives resolution, and every ref carries its remote id.
	if manager.ManagedAgents[0].ID != "id-1" || manager.ManagedAgents[1].ID != "id-2" {
		t.Errorf("resolved ids out of order: %+v", manager.ManagedAgents)
	}
	if manager.ManagedAgents[0].UsageDescription != "policy questions" {
		t.Errorf("usage description lost: %+v", manager.ManagedAgents[0])
	}

	if result.ManagerID != "id-3" {
		t.Errorf("expected manager id id-3, got %s", result.ManagerID)
	}
	want := "HR_MANAGER.1 [id-3 | 2026-08-25 02:45 PM UTC]"
	if result.ManagerName != want {
		t.Errorf("stamped manager name = %q, want %q", result.ManagerName, want)
	}
	if renamed, ok := api.updates["id-3"]; !ok || renamed.Name != want {
		t.Errorf("rename did not install the stamped name: %+v", renamed)
	}
}

func TestRoleFailureAbortsBeforeManager(t *testing.T) {
	dir := t.TempDir()
	writeRole(t, dir, "policy.yaml", "Policy")
	writeRole(t, dir, "escalation.yaml", "Escalation")

	api := newFakeStudio()
	api.failAfter = 2
	api.failErr = &studio.APIError{Status: 422, Body: "invalid role"}
	l := New(api, WithClock(fixedClock()))

	raw := managerRaw(
		map[string]any{"file": "policy.yaml"},
		map[string]any{"file": "escalation.yaml"},
	)
	result, err := l.CreateManagerWithRoles(context.Background(), raw, dir, "sub1")
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Outcome != OutcomePartiallyCreated {
		t.Errorf("expected partially_created, got %s", result.Outcome)
	}
	if len(result.Roles) != 1 || result.Roles[0].ID != "id-1" {
		t.Errorf("expected the first role surfaced, got %+v", result.Roles)
	}
	// No manager create happened: only the surviving role's call went through.
	if len(api.creates) != 1 {
		t.Fatalf("expected exactly 1 create, got %d", len(api.creates))
	}

	// The underlying API error stays reachable through the wrapper.
	var apiErr *studio.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 422 {
		t.Errorf("expected wrapped *APIError 422, got %v", err)
	}
	var serr *serrors.StagehandError
	if !errors.As(err, &serr) || serr.Context["step"] != "create_role" {
		t.Errorf("expected create_role step context, got %v", err)
	}
}

func TestFirstRoleFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	writeRole(t, dir, "policy.yaml", "Policy")

	api := newFakeStudio()
	api.failAfter = 1
	api.failErr = &studio.APIError{Status: 500, Body: "boom"}
	l := New(api)

	result, err := l.CreateManagerWithRoles(context.Background(),
		managerRaw(map[string]any{"file": "policy.yaml"}), dir, "sub1")
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", result.Outcome)
	}
	if len(result.Roles) != 0 || len(api.creates) != 0 {
		t.Errorf("expected nothing created, got result %+v creates %d", result.Roles, len(api.creates))
	}
}

func TestInvalidManagerMakesNoCalls(t *testing.T) {
	api := newFakeStudio()
	l := New(api)

	_, err := l.CreateManagerWithRoles(context.Background(), map[string]any{
		"name": "HR_MANAGER",
	}, "", "sub1")
	var verr *serrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(api.creates) != 0 {
		t.Errorf("expected no create calls for an invalid manager, got %d", len(api.creates))
	}
}

func TestVersioningCountsStampedNames(t *testing.T) {
	dir := t.TempDir()
	writeRole(t, dir, "policy.yaml", "Policy")

	api := newFakeStudio(
		"HR_MANAGER.2 [old | 2026-08-20 01:00 PM UTC]",
		"Policy.4",
	)
	l := New(api, WithClock(fixedClock()))

	result, err := l.CreateManagerWithRoles(context.Background(),
		managerRaw(map[string]any{"file": "policy.yaml"}), dir, "sub1")
	if err != nil {
		t.Fatalf("CreateManagerWithRoles failed: %v", err)
	}
	if api.creates[0].Name != "Policy.5" {
		t.Errorf("expected role versioned Policy.5, got %q", api.creates[0].Name)
	}
	if api.creates[1].Name != "HR_MANAGER.3" {
		t.Errorf("expected manager versioned HR_MANAGER.3, got %q", api.creates[1].Name)
	}
	if result.Outcome != OutcomeComplete {
		t.Errorf("expected complete, got %s", result.Outcome)
	}
}

func TestNameOnlyRoleResolvesInRoleDir(t *testing.T) {
	dir := t.TempDir()
	writeRole(t, dir, "Policy.yaml", "Policy")

	api := newFakeStudio()
	l := New(api, WithClock(fixedClock()))

	result, err := l.CreateManagerWithRoles(context.Background(),
		managerRaw(map[string]any{"name": "Policy", "usage_description": "policy questions"}),
		dir, "sub1")
	if err != nil {
		t.Fatalf("CreateManagerWithRoles failed: %v", err)
	}
	if result.Outcome != OutcomeComplete {
		t.Fatalf("expected complete outcome, got %s", result.Outcome)
	}
	if len(api.creates) != 2 {
		t.Fatalf("expected role + manager creates, got %d", len(api.creates))
	}
	if api.creates[0].AgentRole != "You are the Policy specialist." {
		t.Errorf("first create is not the Policy role: %+v", api.creates[0])
	}
	if len(result.Roles) != 1 || result.Roles[0].ID != "id-1" {
		t.Errorf("role not surfaced in result: %+v", result.Roles)
	}
	if got := api.creates[1].ManagedAgents[0].UsageDescription; got != "policy questions" {
		t.Errorf("usage description lost: %q", got)
	}
}

func TestPreResolvedRolesPassThrough(t *testing.T) {
	api := newFakeStudio()
	l := New(api, WithClock(fixedClock()))

	result, err := l.CreateManagerWithRoles(context.Background(),
		managerRaw(map[string]any{"id": "existing-1", "name": "Policy.1", "usage_description": "policy"}),
		"", "sub1")
	if err != nil {
		t.Fatalf("CreateManagerWithRoles failed: %v", err)
	}
	// Only the manager was created; the resolved ref went through untouched.
	if len(api.creates) != 1 {
		t.Fatalf("expected 1 create, got %d", len(api.creates))
	}
	if got := api.creates[0].ManagedAgents[0].ID; got != "existing-1" {
		t.Errorf("expected pass-through id, got %q", got)
	}
	if result.Outcome != OutcomeComplete || len(result.Roles) != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}
