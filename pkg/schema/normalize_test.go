// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/jllopis/stagehand/pkg/errors"
)

func validAgentDoc() map[string]any {
	return map[string]any{
		"name":               "Policy_Advisor",
		"description":        "Answers policy questions",
		"agent_role":         "You are a policy advisor.",
		"agent_goal":         "Answer accurately.",
		"agent_instructions": "Cite the handbook.",
		"response_format":    map[string]any{"type": "json"},
	}
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	p, err := Normalize(validAgentDoc())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if p.ProviderID != DefaultProviderID || p.Model != DefaultModel {
		t.Errorf("expected provider defaults, got %s/%s", p.ProviderID, p.Model)
	}
	if p.TopP != DefaultTopP || p.Temperature != DefaultTemperature {
		t.Errorf("expected generation defaults, got %v/%v", p.TopP, p.Temperature)
	}
	if p.Features == nil || len(p.Features) != 0 {
		t.Errorf("expected empty features slice, got %#v", p.Features)
	}
	if p.Tools == nil || len(p.Tools) != 0 {
		t.Errorf("expected empty tools slice, got %#v", p.Tools)
	}
	if !strings.Contains(p.SystemPrompt, "Goal:") || !strings.Contains(p.SystemPrompt, "Instructions:") {
		t.Errorf("expected synthesized system prompt, got %q", p.SystemPrompt)
	}
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	doc := validAgentDoc()
	doc["model"] = "gpt-4o"
	doc["temperature"] = 0.2
	doc["system_prompt"] = "custom prompt"
	doc["version"] = 3 // YAML hands bare numbers over as ints

	p, err := Normalize(doc)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if p.Model != "gpt-4o" || p.Temperature != 0.2 {
		t.Errorf("explicit values overwritten: %s/%v", p.Model, p.Temperature)
	}
	if p.SystemPrompt != "custom prompt" {
		t.Errorf("explicit system prompt overwritten: %q", p.SystemPrompt)
	}
	if p.Version != "3" {
		t.Errorf("expected version coerced to string, got %q", p.Version)
	}
}

func TestNormalizeReportsEveryMissingField(t *testing.T) {
	doc := validAgentDoc()
	delete(doc, "name")
	delete(doc, "description")
	delete(doc, "response_format")

	_, err := Normalize(doc)
	if err == nil {
		t.Fatal("expected validation error")
	}
	verr, ok := err.(*errors.ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Fields) != 3 {
		t.Fatalf("expected 3 defects, got %d: %v", len(verr.Fields), verr.Fields)
	}
	got := map[string]bool{}
	for _, f := range verr.Fields {
		got[f.Field] = true
	}
	for _, want := range []string{"name", "description", "response_format.type"} {
		if !got[want] {
			t.Errorf("missing defect for field %q in %v", want, verr.Fields)
		}
	}
}

func TestNormalizeAcceptsAlternateKeys(t *testing.T) {
	doc := map[string]any{
		"name":            "Alt",
		"description":     "alt keys",
		"role":            "r",
		"goal":            "g",
		"instructions":    "i",
		"response_format": map[string]any{"type": "text"},
	}
	p, err := Normalize(doc)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if p.AgentRole != "r" || p.AgentGoal != "g" || p.AgentInstructions != "i" {
		t.Errorf("alternate keys not honored: %+v", p)
	}
}

func TestNormalizeFeatures(t *testing.T) {
	doc := validAgentDoc()
	doc["features"] = []any{
		map[string]any{"name": "memory"},
		map[string]any{"type": "kb", "config": map[string]any{"source": "handbook"}, "priority": 9},
	}

	p, err := Normalize(doc)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(p.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(p.Features))
	}
	if p.Features[0].Type != "memory" || p.Features[0].Priority != 0 {
		t.Errorf("feature[0] not normalized: %+v", p.Features[0])
	}
	if p.Features[1].Type != "kb" || p.Features[1].Priority != 9 {
		t.Errorf("feature[1] not normalized: %+v", p.Features[1])
	}
	if p.Features[1].Config["source"] != "handbook" {
		t.Errorf("feature config dropped: %+v", p.Features[1].Config)
	}
}

func TestNormalizeManagerRoleRefs(t *testing.T) {
	doc := validAgentDoc()
	doc["managed_agents"] = []any{
		map[string]any{"file": "roles/policy.yaml", "usage_description": "policy questions"},
		map[string]any{"id": "r2", "name": "Escalation"},
	}

	p, err := Normalize(doc)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !p.IsManager() || len(p.ManagedAgents) != 2 {
		t.Fatalf("expected manager with 2 refs, got %+v", p.ManagedAgents)
	}
	if p.ManagedAgents[0].File != "roles/policy.yaml" || p.ManagedAgents[0].Resolved() {
		t.Errorf("ref[0] wrong: %+v", p.ManagedAgents[0])
	}
	if !p.ManagedAgents[1].Resolved() {
		t.Errorf("ref[1] should be resolved: %+v", p.ManagedAgents[1])
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	first, err := Normalize(validAgentDoc())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	// Round-trip the normalized payload through its wire form and
	// normalize again.
	data, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	second, err := Normalize(raw)
	if err != nil {
		t.Fatalf("re-normalize failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("normalization not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestDetectKind(t *testing.T) {
	cases := []struct {
		raw  map[string]any
		want Kind
	}{
		{map[string]any{"use_cases": []any{}}, KindUseCases},
		{map[string]any{"flow_name": "f", "flow_data": map[string]any{}}, KindWorkflow},
		{map[string]any{"name": "m", "managed_agents": []any{}}, KindManager},
		{map[string]any{"name": "a"}, KindAgent},
	}
	for _, tc := range cases {
		if got := DetectKind(tc.raw); got != tc.want {
			t.Errorf("DetectKind(%v) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeUseCases(t *testing.T) {
	doc := map[string]any{
		"use_cases": []any{
			map[string]any{"name": "A", "description": "first"},
			map[string]any{"name": "B", "description": "second"},
		},
	}
	parsed, err := NormalizeUseCases(doc)
	if err != nil {
		t.Fatalf("NormalizeUseCases failed: %v", err)
	}
	if len(parsed.UseCases) != 2 || parsed.UseCases[0].Name != "A" || parsed.UseCases[1].Name != "B" {
		t.Errorf("order not preserved: %+v", parsed.UseCases)
	}
}

func TestNormalizeUseCasesReportsAllDefects(t *testing.T) {
	doc := map[string]any{
		"use_cases": []any{
			map[string]any{"description": "no name"},
			map[string]any{"name": "no description"},
		},
	}
	_, err := NormalizeUseCases(doc)
	verr, ok := err.(*errors.ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Fields) != 2 {
		t.Errorf("expected 2 defects, got %v", verr.Fields)
	}
	if verr.Fields[0].Field != "use_cases[0].name" {
		t.Errorf("expected indexed field name, got %q", verr.Fields[0].Field)
	}
}

func TestNormalizeWorkflow(t *testing.T) {
	_, err := NormalizeWorkflow(map[string]any{"flow_name": "wf"})
	if err == nil {
		t.Fatal("expected missing flow_data defect")
	}

	doc, err := NormalizeWorkflow(map[string]any{
		"flow_name": "wf",
		"flow_data": map[string]any{"tasks": []any{}},
	})
	if err != nil {
		t.Fatalf("NormalizeWorkflow failed: %v", err)
	}
	if doc.FlowName != "wf" {
		t.Errorf("unexpected flow name %q", doc.FlowName)
	}
}
