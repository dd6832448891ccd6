// Copyright 2026 © The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package studio wraps the remote agent-studio HTTP API. The client holds no
// mutable state across calls; every call carries the bearer credential
// supplied at construction and blocks until its response or timeout.
package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/stagehand/pkg/schema"
)

const tracerName = "github.com/jllopis/stagehand/pkg/studio"

// Studio API endpoints.
const (
	agentsPath    = "/v3/agents/"
	inferencePath = "/v3/inference/chat/"
	workflowsPath = "/v3/workflows/"
)

// Client is the HTTP contract wrapper for the studio API.
type Client struct {
	baseURL    string
	credential string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout bounds every individual call. There is no cross-call
// cancellation: a call in flight runs to completion or timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// New creates a studio client for the given base URL and bearer credential.
func New(baseURL, credential string, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		timeout:    60 * time.Second,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// AgentRecord is the studio's view of a created agent.
type AgentRecord struct {
	ID  string
	Raw json.RawMessage
}

// AgentSummary is one entry of the agent listing.
type AgentSummary struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	TemplateType string `json:"template_type"`
}

// InferenceRequest is the run-endpoint body.
type InferenceRequest struct {
	UserID                string         `json:"user_id"`
	SystemPromptVariables map[string]any `json:"system_prompt_variables"`
	AgentID               string         `json:"agent_id"`
	SessionID             string         `json:"session_id"`
	Message               string         `json:"message"`
	FilterVariables       map[string]any `json:"filter_variables"`
	Features              []any          `json:"features"`
	Assets                []string       `json:"assets"`
}

// InferenceResponse carries the agent's reply plus the raw body for
// persistence.
type InferenceResponse struct {
	Response string
	Raw      json.RawMessage
}

// WorkflowRecord is the studio's view of a created workflow.
type WorkflowRecord struct {
	FlowID   string `json:"flow_id"`
	FlowName string `json:"flow_name"`
}

// CreateAgent submits a normalized payload and returns the assigned id.
func (c *Client) CreateAgent(ctx context.Context, payload *schema.AgentPayload) (*AgentRecord, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, agentsPath, payload, &raw); err != nil {
		return nil, err
	}
	id := extractAgentID(raw)
	if id == "" {
		return nil, &APIError{Status: http.StatusOK, Body: "create response carries no agent id: " + string(raw)}
	}
	slog.DebugContext(ctx, "created agent", "agent_id", id, "name", payload.Name)
	return &AgentRecord{ID: id, Raw: raw}, nil
}

// UpdateAgent replaces an existing agent's payload, used by the post-create
// rename that installs the stamped name and resolved role list.
func (c *Client) UpdateAgent(ctx context.Context, agentID string, payload *schema.AgentPayload) error {
	return c.doJSON(ctx, http.MethodPut, agentsPath+agentID, payload, nil)
}

// ListAgents returns the remote agent listing.
func (c *Client) ListAgents(ctx context.Context) ([]AgentSummary, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, agentsPath, nil, &raw); err != nil {
		return nil, err
	}
	return decodeAgentList(raw)
}

// DeleteAgent removes a remote agent by id.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	return c.doJSON(ctx, http.MethodDelete, agentsPath+agentID, nil, nil)
}

// RunInference executes one message against an agent and returns its reply.
func (c *Client) RunInference(ctx context.Context, req InferenceRequest) (*InferenceResponse, error) {
	if req.SystemPromptVariables == nil {
		req.SystemPromptVariables = map[string]any{}
	}
	if req.FilterVariables == nil {
		req.FilterVariables = map[string]any{}
	}
	if req.Features == nil {
		req.Features = []any{}
	}
	if req.Assets == nil {
		req.Assets = []string{}
	}

	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, inferencePath, req, &raw); err != nil {
		return nil, err
	}

	var decoded struct {
		Response string `json:"response"`
	}
	_ = json.Unmarshal(raw, &decoded)
	return &InferenceResponse{Response: decoded.Response, Raw: raw}, nil
}

// CreateWorkflow creates a workflow referencing an already-created manager.
func (c *Client) CreateWorkflow(ctx context.Context, doc *schema.WorkflowDoc) (*WorkflowRecord, error) {
	record := &WorkflowRecord{}
	if err := c.doJSON(ctx, http.MethodPost, workflowsPath, doc, record); err != nil {
		return nil, err
	}
	return record, nil
}

// doJSON wraps every call in a client span so the propagated headers and the
// trace ids in log records belong to a live trace.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any, resp any) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	err := c.roundTrip(ctx, method, path, payload, resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload any, resp any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(ctx, request)

	slog.DebugContext(ctx, "studio request", "method", method, "path", path)
	response, err := c.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &APIError{Timeout: true, Err: err}
		}
		return &APIError{Err: err}
	}
	defer response.Body.Close()

	bodyBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return &APIError{Status: response.StatusCode, Err: err}
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		slog.DebugContext(ctx, "studio error response",
			"method", method, "path", path,
			"status", response.StatusCode, "body", truncateBody(string(bodyBytes)))
		return &APIError{Status: response.StatusCode, Body: string(bodyBytes)}
	}
	if resp == nil {
		return nil
	}
	return json.Unmarshal(bodyBytes, resp)
}

func (c *Client) applyHeaders(ctx context.Context, request *http.Request) {
	if c.credential != "" {
		request.Header.Set("Authorization", "Bearer "+c.credential)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(request.Header))
}

// extractAgentID digs the assigned id out of a create response, tolerating
// the two shapes the studio returns (_id or agent_id, optionally nested
// under data).
func extractAgentID(raw json.RawMessage) string {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ""
	}
	if id := idFromMap(decoded); id != "" {
		return id
	}
	if data, ok := decoded["data"].(map[string]any); ok {
		return idFromMap(data)
	}
	return ""
}

func idFromMap(m map[string]any) string {
	for _, key := range []string{"_id", "agent_id", "id"} {
		if id, ok := m[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

func decodeAgentList(raw json.RawMessage) ([]AgentSummary, error) {
	var list []AgentSummary
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	// Some deployments wrap the listing in a data envelope.
	var envelope struct {
		Data []AgentSummary `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}
