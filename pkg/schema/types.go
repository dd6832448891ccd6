// Copyright 2026 © The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema maps heterogeneous YAML agent definitions onto the strict
// payload shapes the studio API requires.
package schema

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Kind identifies the structural signature of a parsed source document.
type Kind string

const (
	// KindAgent is a plain agent definition.
	KindAgent Kind = "agent"

	// KindManager is an agent definition carrying managed_agents.
	KindManager Kind = "manager"

	// KindUseCases is a document carrying a use_cases sequence.
	KindUseCases Kind = "use_cases"

	// KindWorkflow is a workflow definition (flow_name + flow_data).
	KindWorkflow Kind = "workflow"
)

// Feature is one normalized feature entry of an agent payload.
type Feature struct {
	Type     string         `json:"type" yaml:"type"`
	Config   map[string]any `json:"config" yaml:"config"`
	Priority int            `json:"priority" yaml:"priority"`
}

// ResponseFormat constrains the response shape the remote agent produces.
type ResponseFormat struct {
	Type string `json:"type" yaml:"type"`
}

// RoleRef names a subordinate role of a manager. Before linking it points at
// a local definition (File or Name); after linking ID carries the remote
// identifier assigned by the studio.
type RoleRef struct {
	ID               string `json:"id,omitempty" yaml:"id,omitempty"`
	Name             string `json:"name,omitempty" yaml:"name,omitempty"`
	File             string `json:"-" yaml:"file,omitempty"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
	UsageDescription string `json:"usage_description,omitempty" yaml:"usage_description,omitempty"`
}

// Resolved reports whether the reference carries a remote identifier.
func (r RoleRef) Resolved() bool {
	return r.ID != ""
}

// AgentPayload is the exact agent-create schema of the studio API.
// Constructed once by Normalize, submitted once, then immutable apart from
// the stamped name installed by the post-create rename.
type AgentPayload struct {
	TemplateType         string         `json:"template_type" yaml:"template_type"`
	Name                 string         `json:"name" yaml:"name"`
	Description          string         `json:"description" yaml:"description"`
	AgentRole            string         `json:"agent_role" yaml:"agent_role"`
	AgentGoal            string         `json:"agent_goal" yaml:"agent_goal"`
	AgentInstructions    string         `json:"agent_instructions" yaml:"agent_instructions"`
	SystemPrompt         string         `json:"system_prompt" yaml:"system_prompt"`
	Features             []Feature      `json:"features" yaml:"features"`
	Tools                []string       `json:"tools" yaml:"tools"`
	ToolUsageDescription string         `json:"tool_usage_description" yaml:"tool_usage_description"`
	ResponseFormat       ResponseFormat `json:"response_format" yaml:"response_format"`

	// Required LLM config, defaulted when the source omits it.
	ProviderID      string  `json:"provider_id" yaml:"provider_id"`
	Model           string  `json:"model" yaml:"model"`
	TopP            float64 `json:"top_p" yaml:"top_p"`
	Temperature     float64 `json:"temperature" yaml:"temperature"`
	Version         string  `json:"version" yaml:"version"`
	LLMCredentialID string  `json:"llm_credential_id" yaml:"llm_credential_id"`

	// ManagedAgents is present for manager payloads only.
	ManagedAgents []RoleRef `json:"managed_agents,omitempty" yaml:"managed_agents,omitempty"`
}

// IsManager reports whether the payload declares subordinate roles.
func (p *AgentPayload) IsManager() bool {
	return len(p.ManagedAgents) > 0
}

// UseCase is a named scenario run against a created manager. Ordering within
// a use-case file is significant; cases are otherwise independent.
type UseCase struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// UseCaseDoc is a parsed use-case document.
type UseCaseDoc struct {
	UseCases []UseCase `json:"use_cases" yaml:"use_cases"`
}

// WorkflowDoc is a parsed workflow definition, created after its manager.
type WorkflowDoc struct {
	FlowName string         `json:"flow_name" yaml:"flow_name"`
	FlowData map[string]any `json:"flow_data" yaml:"flow_data"`
}

// LoadDocument reads and parses a YAML source file into a raw mapping.
func LoadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DetectKind classifies a raw document by structural signature: a use_cases
// sequence selects a use-case document, flow_name selects a workflow, and
// managed_agents distinguishes managers from plain agents.
func DetectKind(raw map[string]any) Kind {
	if _, ok := raw["use_cases"]; ok {
		return KindUseCases
	}
	if _, ok := raw["flow_name"]; ok {
		return KindWorkflow
	}
	if _, ok := raw["managed_agents"]; ok {
		return KindManager
	}
	return KindAgent
}
