// Copyright 2026 © The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"strings"

	"github.com/jllopis/stagehand/pkg/errors"
)

// Defaults applied to optional payload fields when the source omits them.
const (
	DefaultTemplateType    = "single_task"
	DefaultProviderID      = "OpenAI"
	DefaultModel           = "gpt-4o-mini"
	DefaultTopP            = 0.9
	DefaultTemperature     = 0.7
	DefaultModelVersion    = "3"
	DefaultLLMCredentialID = "lyzr_openai"
)

// Normalize converts a raw agent or manager definition into the exact schema
// the studio API requires. It is a pure function: the input mapping is not
// modified, and normalizing an already-normalized payload yields the same
// payload.
//
// Validation is exhaustive, not fail-fast: the returned *errors.ValidationError
// lists every missing or invalid field so a single pass surfaces the complete
// defect list.
func Normalize(raw map[string]any) (*AgentPayload, error) {
	verr := &errors.ValidationError{}

	p := &AgentPayload{
		TemplateType:         stringOr(raw, DefaultTemplateType, "template_type"),
		Name:                 stringValue(raw, "name"),
		Description:          stringValue(raw, "description"),
		AgentRole:            stringValue(raw, "agent_role", "role"),
		AgentGoal:            stringValue(raw, "agent_goal", "goal"),
		AgentInstructions:    stringValue(raw, "agent_instructions", "instructions"),
		SystemPrompt:         stringValue(raw, "system_prompt"),
		ToolUsageDescription: stringValue(raw, "tool_usage_description"),
		ProviderID:           stringOr(raw, DefaultProviderID, "provider_id"),
		Model:                stringOr(raw, DefaultModel, "model"),
		TopP:                 floatOr(raw, DefaultTopP, "top_p"),
		Temperature:          floatOr(raw, DefaultTemperature, "temperature"),
		Version:              stringOr(raw, DefaultModelVersion, "version"),
		LLMCredentialID:      stringOr(raw, DefaultLLMCredentialID, "llm_credential_id"),
		Features:             normalizeFeatures(raw["features"]),
		Tools:                normalizeTools(raw["tools"]),
	}

	// Required fields, one defect per missing field, API field names verbatim.
	requireNonEmpty(verr, "name", p.Name)
	requireNonEmpty(verr, "description", p.Description)
	requireNonEmpty(verr, "agent_role", p.AgentRole)
	requireNonEmpty(verr, "agent_goal", p.AgentGoal)
	requireNonEmpty(verr, "agent_instructions", p.AgentInstructions)

	p.ResponseFormat = normalizeResponseFormat(raw["response_format"], verr)

	if p.SystemPrompt == "" {
		p.SystemPrompt = BuildSystemPrompt(p.AgentRole, p.AgentGoal, p.AgentInstructions)
	}

	if rawRefs, ok := raw["managed_agents"]; ok {
		refs, refErrs := normalizeRoleRefs(rawRefs)
		verr.Fields = append(verr.Fields, refErrs...)
		p.ManagedAgents = refs
	}

	if verr.HasDefects() {
		return nil, verr
	}
	return p, nil
}

// BuildSystemPrompt collapses role, goal and instructions into the single
// system_prompt string the studio expects.
func BuildSystemPrompt(role, goal, instructions string) string {
	var parts []string
	if role = strings.TrimSpace(role); role != "" {
		parts = append(parts, role)
	}
	if goal = strings.TrimSpace(goal); goal != "" {
		parts = append(parts, "Goal:\n"+goal)
	}
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		parts = append(parts, "Instructions:\n"+instructions)
	}
	return strings.Join(parts, "\n\n")
}

// NormalizeUseCases validates a use-case document. Ordering of the cases is
// preserved: execution order equals file order.
func NormalizeUseCases(raw map[string]any) (*UseCaseDoc, error) {
	verr := &errors.ValidationError{}

	seq, ok := raw["use_cases"].([]any)
	if !ok {
		verr.Add("use_cases", "required sequence")
		return nil, verr
	}

	doc := &UseCaseDoc{UseCases: make([]UseCase, 0, len(seq))}
	for i, entry := range seq {
		m, ok := entry.(map[string]any)
		if !ok {
			verr.Add(fmt.Sprintf("use_cases[%d]", i), "must be a mapping")
			continue
		}
		uc := UseCase{
			Name:        stringValue(m, "name"),
			Description: stringValue(m, "description"),
		}
		if uc.Name == "" {
			verr.Add(fmt.Sprintf("use_cases[%d].name", i), "required")
		}
		if uc.Description == "" {
			verr.Add(fmt.Sprintf("use_cases[%d].description", i), "required")
		}
		doc.UseCases = append(doc.UseCases, uc)
	}

	if verr.HasDefects() {
		return nil, verr
	}
	return doc, nil
}

// NormalizeWorkflow validates a workflow definition.
func NormalizeWorkflow(raw map[string]any) (*WorkflowDoc, error) {
	verr := &errors.ValidationError{}

	doc := &WorkflowDoc{
		FlowName: stringValue(raw, "flow_name"),
	}
	if doc.FlowName == "" {
		verr.Add("flow_name", "required")
	}
	if data, ok := raw["flow_data"].(map[string]any); ok {
		doc.FlowData = data
	} else {
		verr.Add("flow_data", "required mapping")
	}

	if verr.HasDefects() {
		return nil, verr
	}
	return doc, nil
}

func requireNonEmpty(verr *errors.ValidationError, field, value string) {
	if strings.TrimSpace(value) == "" {
		verr.Add(field, "required")
	}
}

func normalizeResponseFormat(raw any, verr *errors.ValidationError) ResponseFormat {
	switch v := raw.(type) {
	case map[string]any:
		rf := ResponseFormat{Type: stringValue(v, "type")}
		if rf.Type == "" {
			verr.Add("response_format.type", "required")
		}
		return rf
	case nil:
		verr.Add("response_format.type", "required")
	default:
		verr.Add("response_format", "must be a mapping")
	}
	return ResponseFormat{}
}

// normalizeFeatures maps loose feature entries onto the strict structure,
// accepting either "type" or "name" as the discriminator and defaulting the
// priority to the list position.
func normalizeFeatures(raw any) []Feature {
	seq, ok := raw.([]any)
	if !ok {
		return []Feature{}
	}
	out := make([]Feature, 0, len(seq))
	for i, entry := range seq {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		feat := Feature{
			Type:     stringValue(m, "type", "name"),
			Config:   map[string]any{},
			Priority: intOr(m, i, "priority"),
		}
		if cfg, ok := m["config"].(map[string]any); ok {
			feat.Config = cfg
		}
		out = append(out, feat)
	}
	return out
}

func normalizeTools(raw any) []string {
	seq, ok := raw.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(seq))
	for _, entry := range seq {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func normalizeRoleRefs(raw any) ([]RoleRef, []errors.FieldError) {
	seq, ok := raw.([]any)
	if !ok {
		return nil, []errors.FieldError{{Field: "managed_agents", Reason: "must be a sequence"}}
	}
	var defects []errors.FieldError
	out := make([]RoleRef, 0, len(seq))
	for i, entry := range seq {
		m, ok := entry.(map[string]any)
		if !ok {
			defects = append(defects, errors.FieldError{
				Field:  fmt.Sprintf("managed_agents[%d]", i),
				Reason: "must be a mapping",
			})
			continue
		}
		ref := RoleRef{
			ID:               stringValue(m, "id"),
			Name:             stringValue(m, "name"),
			File:             stringValue(m, "file"),
			Description:      stringValue(m, "description"),
			UsageDescription: stringValue(m, "usage_description"),
		}
		if ref.File == "" && ref.ID == "" && ref.Name == "" {
			defects = append(defects, errors.FieldError{
				Field:  fmt.Sprintf("managed_agents[%d]", i),
				Reason: "needs file, id or name",
			})
			continue
		}
		out = append(out, ref)
	}
	return out, defects
}

// stringValue returns the first non-empty string among the given keys.
func stringValue(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case int:
			return fmt.Sprintf("%d", v)
		case float64:
			// YAML parses bare numbers like "version: 3" loosely.
			if v == float64(int64(v)) {
				return fmt.Sprintf("%d", int64(v))
			}
			return fmt.Sprintf("%g", v)
		}
	}
	return ""
}

func stringOr(raw map[string]any, fallback string, keys ...string) string {
	if v := stringValue(raw, keys...); v != "" {
		return v
	}
	return fallback
}

func floatOr(raw map[string]any, fallback float64, keys ...string) float64 {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return fallback
}

func intOr(raw map[string]any, fallback int, keys ...string) int {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return fallback
}
