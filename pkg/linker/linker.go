// Copyright 2026 © The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package linker creates a manager agent together with its subordinate role
// agents and wires the assigned identifiers together.
//
// The remote API offers no transaction primitive, so the operation is
// best-effort atomic: role creation failures abort the chain before any
// manager exists, but roles created up to that point are left in place. The
// tagged LinkResult keeps that partial state visible instead of losing it in
// an error; `stagehand agents prune` is the compensating action.
package linker

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	serrors "github.com/jllopis/stagehand/pkg/errors"
	"github.com/jllopis/stagehand/pkg/ledger"
	"github.com/jllopis/stagehand/pkg/naming"
	"github.com/jllopis/stagehand/pkg/schema"
	"github.com/jllopis/stagehand/pkg/studio"
	"github.com/jllopis/stagehand/pkg/telemetry"
)

// Outcome tags the result of a link operation.
type Outcome string

const (
	// OutcomeComplete means the manager and every role exist remotely.
	OutcomeComplete Outcome = "complete"

	// OutcomePartiallyCreated means some roles exist remotely but the chain
	// aborted before the manager was linked.
	OutcomePartiallyCreated Outcome = "partially_created"

	// OutcomeFailed means nothing was created.
	OutcomeFailed Outcome = "failed"
)

// CreatedRole is one role agent created during linking, in declared order.
type CreatedRole struct {
	Name string
	ID   string
}

// LinkResult reports what a link operation left behind remotely.
type LinkResult struct {
	Outcome     Outcome
	ManagerID   string
	ManagerName string
	RoleIDs     map[string]string
	Roles       []CreatedRole
}

// StudioAPI is the slice of the studio client the linker depends on.
type StudioAPI interface {
	CreateAgent(ctx context.Context, payload *schema.AgentPayload) (*studio.AgentRecord, error)
	UpdateAgent(ctx context.Context, agentID string, payload *schema.AgentPayload) error
	ListAgents(ctx context.Context) ([]studio.AgentSummary, error)
}

// Linker creates managers with their roles.
type Linker struct {
	api     StudioAPI
	ledger  *ledger.Store
	metrics *telemetry.BatchMetrics
	now     func() time.Time
}

// Option configures the Linker.
type Option func(*Linker)

// WithLedger records every created entity in the local ledger.
func WithLedger(store *ledger.Store) Option {
	return func(l *Linker) {
		l.ledger = store
	}
}

// WithMetrics counts created agents.
func WithMetrics(metrics *telemetry.BatchMetrics) Option {
	return func(l *Linker) {
		l.metrics = metrics
	}
}

// WithClock overrides the stamping clock.
func WithClock(now func() time.Time) Option {
	return func(l *Linker) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Linker on the given studio API.
func New(api StudioAPI, opts ...Option) *Linker {
	l := &Linker{
		api: api,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// CreateManagerWithRoles normalizes and creates every role referenced by the
// raw manager definition, strictly in declared order, then creates the
// manager with the resolved identifiers substituted in. Role files are
// resolved against roleDir. The folder label goes into ledger entries.
//
// The manager payload is never submitted with a partially-resolved role
// list: any role failure aborts before the manager-create call.
func (l *Linker) CreateManagerWithRoles(ctx context.Context, managerRaw map[string]any, roleDir, folder string) (*LinkResult, error) {
	result := &LinkResult{
		Outcome: OutcomeFailed,
		RoleIDs: map[string]string{},
	}

	managerPayload, err := schema.Normalize(managerRaw)
	if err != nil {
		return result, err
	}

	// One listing up front feeds every versioning decision of this
	// invocation. A failed listing only costs version accuracy.
	existing := l.existingNames(ctx)

	resolved := make([]schema.RoleRef, 0, len(managerPayload.ManagedAgents))
	for i, ref := range managerPayload.ManagedAgents {
		if ref.Resolved() {
			resolved = append(resolved, ref)
			continue
		}

		role, err := l.createRole(ctx, ref, roleDir, folder, &existing)
		if err != nil {
			if len(result.Roles) > 0 {
				result.Outcome = OutcomePartiallyCreated
			}
			return result, serrors.New(serrors.CodeAPI, "role creation failed", err).
				WithContext("step", "create_role").
				WithContext("role_index", i).
				WithContext("role", roleLabel(ref))
		}

		result.Roles = append(result.Roles, CreatedRole{Name: role.Name, ID: role.ID})
		result.RoleIDs[role.Name] = role.ID
		resolved = append(resolved, role)
	}

	// Declared order is semantically meaningful to the remote routing.
	managerPayload.ManagedAgents = resolved

	managerBase := naming.Versioned(existing, managerPayload.Name)
	managerPayload.Name = managerBase

	record, err := l.api.CreateAgent(ctx, managerPayload)
	if err != nil {
		if len(result.Roles) > 0 {
			result.Outcome = OutcomePartiallyCreated
		}
		return result, serrors.New(serrors.CodeAPI, "manager creation failed", err).
			WithContext("step", "create_manager").
			WithContext("manager", managerBase)
	}

	stamped := l.rename(ctx, record.ID, managerPayload, managerBase)
	// Plain agent definitions take the same create-then-rename path; only
	// the ledger kind differs.
	kind := ledger.KindManager
	if !managerPayload.IsManager() {
		kind = ledger.KindAgent
	}
	l.record(ctx, kind, managerBase, stamped, record.ID, folder)

	result.Outcome = OutcomeComplete
	result.ManagerID = record.ID
	result.ManagerName = stamped
	slog.InfoContext(ctx, "created manager with linked roles",
		"manager", stamped, "manager_id", record.ID, "roles", len(result.Roles))
	return result, nil
}

// createRole loads, normalizes, creates and renames a single role agent.
func (l *Linker) createRole(ctx context.Context, ref schema.RoleRef, roleDir, folder string, existing *[]string) (schema.RoleRef, error) {
	path := ref.File
	if path == "" {
		// Name-only references follow the <name>.yaml convention.
		path = ref.Name + ".yaml"
	}
	if !filepath.IsAbs(path) && roleDir != "" {
		path = filepath.Join(roleDir, path)
	}
	raw, err := schema.LoadDocument(path)
	if err != nil {
		return schema.RoleRef{}, err
	}
	payload, err := schema.Normalize(raw)
	if err != nil {
		if verr, ok := err.(*serrors.ValidationError); ok {
			verr.Doc = path
		}
		return schema.RoleRef{}, err
	}

	base := naming.Versioned(*existing, payload.Name)
	payload.Name = base

	record, err := l.api.CreateAgent(ctx, payload)
	if err != nil {
		return schema.RoleRef{}, err
	}

	stamped := l.rename(ctx, record.ID, payload, base)
	*existing = append(*existing, stamped)
	l.record(ctx, ledger.KindRole, base, stamped, record.ID, folder)
	slog.InfoContext(ctx, "created role agent", "role", stamped, "role_id", record.ID)

	return schema.RoleRef{
		ID:               record.ID,
		Name:             stamped,
		Description:      payload.Description,
		UsageDescription: ref.UsageDescription,
	}, nil
}

// rename installs the stamped name in a second phase, once the remote id
// exists. A failed rename leaves the agent usable under its base name, so it
// is reported but never fails the chain.
func (l *Linker) rename(ctx context.Context, agentID string, payload *schema.AgentPayload, base string) string {
	stamped := naming.Stamped(base, agentID, l.now())
	renamed := *payload
	renamed.Name = stamped
	if err := l.api.UpdateAgent(ctx, agentID, &renamed); err != nil {
		slog.WarnContext(ctx, "rename after create failed", "agent_id", agentID, "name", base, "error", err)
		return base
	}
	payload.Name = stamped
	return stamped
}

func (l *Linker) existingNames(ctx context.Context) []string {
	summaries, err := l.api.ListAgents(ctx)
	if err != nil {
		slog.WarnContext(ctx, "agent listing failed, versioning starts fresh", "error", err)
		return nil
	}
	names := make([]string, 0, len(summaries))
	for _, s := range summaries {
		names = append(names, s.Name)
	}
	return names
}

func (l *Linker) record(ctx context.Context, kind, base, stamped, remoteID, folder string) {
	if l.metrics != nil {
		l.metrics.RecordAgentCreated(ctx, kind)
	}
	if l.ledger == nil {
		return
	}
	err := l.ledger.Record(ctx, ledger.Entry{
		Kind:        kind,
		BaseName:    base,
		StampedName: stamped,
		RemoteID:    remoteID,
		Folder:      folder,
	})
	if err != nil {
		slog.WarnContext(ctx, "ledger record failed", "kind", kind, "remote_id", remoteID, "error", err)
	}
}

func roleLabel(ref schema.RoleRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return ref.File
}
