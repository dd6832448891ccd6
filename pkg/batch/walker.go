// Copyright 2026 © The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	serrors "github.com/jllopis/stagehand/pkg/errors"
	"github.com/jllopis/stagehand/pkg/ledger"
	"github.com/jllopis/stagehand/pkg/linker"
	"github.com/jllopis/stagehand/pkg/schema"
	"github.com/jllopis/stagehand/pkg/studio"
)

// Folder is the classified content of one output subfolder: exactly one
// manager definition, plus any use-case documents and workflow snapshots.
type Folder struct {
	Name string
	Path string

	// ManagerFile is the single *Manager*.yaml of the folder.
	ManagerFile string

	// UseCaseFiles are the folder's use-case documents, sorted by name.
	UseCaseFiles []string

	// WorkflowFile is the most recent workflow snapshot, empty when the
	// folder carries none.
	WorkflowFile string
}

// FolderResult is the outcome of processing one subfolder. Failures stay
// inside their result: a walk over K subfolders always yields K results.
type FolderResult struct {
	Folder      string
	ManagerFile string
	Link        *linker.LinkResult
	Workflow    *studio.WorkflowRecord
	Runs        []*RunSummary
	Err         error
}

// ManagerCreator links one manager definition with its roles.
type ManagerCreator interface {
	CreateManagerWithRoles(ctx context.Context, managerRaw map[string]any, roleDir, folder string) (*linker.LinkResult, error)
}

// UseCaseRunner executes a use-case document against a created manager.
type UseCaseRunner interface {
	RunUseCases(ctx context.Context, agentID, managerName string, cases []schema.UseCase) *RunSummary
}

// WorkflowCreator registers a workflow snapshot remotely.
type WorkflowCreator interface {
	CreateWorkflow(ctx context.Context, doc *schema.WorkflowDoc) (*studio.WorkflowRecord, error)
}

// Walker processes a generated output tree one subfolder at a time.
type Walker struct {
	creator   ManagerCreator
	runner    UseCaseRunner
	workflows WorkflowCreator
	ledger    *ledger.Store
}

// WalkerOption configures the Walker.
type WalkerOption func(*Walker)

// WithWorkflows enables creating each folder's latest workflow snapshot after
// its manager.
func WithWorkflows(creator WorkflowCreator) WalkerOption {
	return func(w *Walker) {
		w.workflows = creator
	}
}

// WithWalkerLedger records created workflows in the local ledger.
func WithWalkerLedger(store *ledger.Store) WalkerOption {
	return func(w *Walker) {
		w.ledger = store
	}
}

// NewWalker creates a walker that links managers with creator and runs use
// cases with runner. A nil runner skips use-case execution.
func NewWalker(creator ManagerCreator, runner UseCaseRunner, opts ...WalkerOption) *Walker {
	w := &Walker{creator: creator, runner: runner}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// ProcessRoot walks the immediate subfolders of root in name order and
// processes each one. Per-folder failures land in that folder's result and
// never stop the walk.
func (w *Walker) ProcessRoot(ctx context.Context, root string) ([]FolderResult, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, serrors.New(serrors.CodeDiscovery, "output root unreadable", err).
			WithContext("root", root)
	}

	var results []FolderResult
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		results = append(results, w.processFolder(ctx, filepath.Join(root, entry.Name()), entry.Name()))
	}
	return results, nil
}

func (w *Walker) processFolder(ctx context.Context, path, name string) FolderResult {
	result := FolderResult{Folder: name}

	folder, err := ScanFolder(path)
	if err != nil {
		result.Err = err
		return result
	}
	result.ManagerFile = folder.ManagerFile

	// Workflow discovery happens before any remote call: a folder that
	// cannot yield its workflow is skipped whole instead of creating a
	// manager the workflow will never reference.
	if w.workflows != nil && folder.WorkflowFile == "" {
		result.Err = serrors.New(serrors.CodeDiscovery, "missing workflow snapshot", nil).
			WithContext("folder", path)
		return result
	}

	managerRaw, err := schema.LoadDocument(folder.ManagerFile)
	if err != nil {
		result.Err = serrors.New(serrors.CodeDiscovery, "manager file unreadable", err).
			WithContext("file", folder.ManagerFile)
		return result
	}

	link, err := w.creator.CreateManagerWithRoles(ctx, managerRaw, path, name)
	result.Link = link
	if err != nil {
		result.Err = err
		return result
	}

	if w.workflows != nil && folder.WorkflowFile != "" {
		result.Workflow, err = w.createWorkflow(ctx, folder.WorkflowFile, name)
		if err != nil {
			result.Err = err
			return result
		}
	}

	if w.runner != nil {
		result.Runs, result.Err = w.runUseCases(ctx, folder, link)
	}
	return result
}

// runUseCases executes the folder's use-case files in name order. A file that
// fails to parse aborts the folder; execution failures inside a file stay in
// its summary.
func (w *Walker) runUseCases(ctx context.Context, folder *Folder, link *linker.LinkResult) ([]*RunSummary, error) {
	var summaries []*RunSummary
	for _, file := range folder.UseCaseFiles {
		raw, err := schema.LoadDocument(file)
		if err != nil {
			return summaries, serrors.New(serrors.CodeDiscovery, "use-case file unreadable", err).
				WithContext("file", file)
		}
		doc, err := schema.NormalizeUseCases(raw)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, w.runner.RunUseCases(ctx, link.ManagerID, link.ManagerName, doc.UseCases))
	}
	return summaries, nil
}

func (w *Walker) createWorkflow(ctx context.Context, file, folder string) (*studio.WorkflowRecord, error) {
	raw, err := schema.LoadDocument(file)
	if err != nil {
		return nil, serrors.New(serrors.CodeDiscovery, "workflow file unreadable", err).
			WithContext("file", file)
	}
	doc, err := schema.NormalizeWorkflow(raw)
	if err != nil {
		return nil, err
	}
	record, err := w.workflows.CreateWorkflow(ctx, doc)
	if err != nil {
		return nil, serrors.New(serrors.CodeAPI, "workflow creation failed", err).
			WithContext("step", "create_workflow").
			WithContext("flow_name", doc.FlowName)
	}
	slog.InfoContext(ctx, "created workflow", "flow_id", record.FlowID, "flow_name", record.FlowName)
	if w.ledger != nil {
		err := w.ledger.Record(ctx, ledger.Entry{
			Kind:     ledger.KindWorkflow,
			BaseName: doc.FlowName,
			RemoteID: record.FlowID,
			Folder:   folder,
		})
		if err != nil {
			slog.WarnContext(ctx, "ledger record failed", "kind", ledger.KindWorkflow, "error", err)
		}
	}
	return record, nil
}

// ScanFolder classifies the YAML files of one subfolder. Workflow snapshots
// match by name prefix; the manager matches by the *Manager* convention;
// everything else is classified structurally, so role definitions referenced
// from the manager are recognized and left alone.
func ScanFolder(path string) (*Folder, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, serrors.New(serrors.CodeDiscovery, "folder unreadable", err).
			WithContext("folder", path)
	}

	folder := &Folder{Name: filepath.Base(path), Path: path}
	var managers, workflows []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isYAML(name) {
			continue
		}
		switch {
		case isWorkflowFile(name):
			workflows = append(workflows, name)
		case strings.Contains(name, "Manager"):
			managers = append(managers, name)
		default:
			raw, err := schema.LoadDocument(filepath.Join(path, name))
			if err != nil {
				slog.Warn("skipping unparseable file", "file", name, "error", err)
				continue
			}
			if schema.DetectKind(raw) == schema.KindUseCases {
				folder.UseCaseFiles = append(folder.UseCaseFiles, filepath.Join(path, name))
			}
		}
	}

	switch len(managers) {
	case 0:
		return nil, serrors.New(serrors.CodeDiscovery, "no manager definition in folder", nil).
			WithContext("folder", path)
	case 1:
		folder.ManagerFile = filepath.Join(path, managers[0])
	default:
		sort.Strings(managers)
		return nil, serrors.New(serrors.CodeDiscovery, "ambiguous manager definition, multiple *Manager*.yaml files", nil).
			WithContext("folder", path).
			WithContext("candidates", strings.Join(managers, ", "))
	}

	sort.Strings(folder.UseCaseFiles)
	if latest := SelectLatestWorkflow(workflows); latest != "" {
		folder.WorkflowFile = filepath.Join(path, latest)
	}
	return folder, nil
}

// SelectLatestWorkflow picks the most recent workflow snapshot among the
// given file names. Snapshot names embed a sortable timestamp
// (workflow_20260825_144500.yaml), so the lexicographic maximum is the
// latest. Returns "" when no name qualifies.
func SelectLatestWorkflow(names []string) string {
	latest := ""
	for _, name := range names {
		if !isWorkflowFile(name) {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	return latest
}

func isWorkflowFile(name string) bool {
	return strings.HasPrefix(name, "workflow_") && isYAML(name)
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
