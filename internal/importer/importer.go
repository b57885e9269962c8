package importer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/pkg/schema"
)

// GraphStore is the slice of store.Store the importer writes through.
type GraphStore interface {
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	SaveGraph(ctx context.Context, workflowID string, nodes []schema.Node, conns []schema.Connection) error
	LoadGraph(ctx context.Context, workflowID string) (*schema.Graph, error)
}

// Options tune one import.
type Options struct {
	// UserID owns the workflow. It overrides workflow.user_id of the document.
	UserID string
	// DryRun validates without writing.
	DryRun bool
}

// Result describes an import.
type Result struct {
	Workflow    schema.Workflow          `json:"workflow"`
	Nodes       int                      `json:"nodes"`
	Connections int                      `json:"connections"`
	Created     bool                     `json:"created"`
	Warnings    []schema.ValidationIssue `json:"warnings,omitempty"`
}

// Importer loads workflow graph documents into the store.
type Importer struct {
	store     GraphStore
	validator *validation.GraphValidator
	logger    *slog.Logger
}

// New creates an importer. logger may be nil.
func New(s GraphStore, v *validation.GraphValidator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: s, validator: v, logger: logger}
}

// Import parses, validates and stores a document. A document naming an
// existing workflow replaces its graph; the owner must match.
func (im *Importer) Import(ctx context.Context, data []byte, opts Options) (*Result, error) {
	raw, doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	wf := doc.Workflow
	if opts.UserID != "" {
		wf.UserID = opts.UserID
	}
	if wf.UserID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow owner is required").
			WithDetails(map[string]any{"field": "workflow.user_id"})
	}

	vr := im.validator.Validate(raw, doc.Graph())
	if err := vr.Err(); err != nil {
		return nil, err
	}

	conns := make([]schema.Connection, len(doc.Connections))
	for i, c := range doc.Connections {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		conns[i] = c
	}

	res := &Result{Nodes: len(doc.Nodes), Connections: len(conns), Warnings: vr.Warnings}

	created := true
	if wf.ID != "" {
		existing, err := im.store.GetWorkflow(ctx, wf.ID)
		switch {
		case err == nil:
			if existing.UserID != wf.UserID {
				return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %s belongs to another user", wf.ID)
			}
			created = false
			wf = *existing
		case !schema.HasCode(err, schema.ErrCodeNotFound):
			return nil, err
		}
	} else {
		wf.ID = uuid.NewString()
	}
	res.Created = created
	res.Workflow = wf

	if opts.DryRun {
		return res, nil
	}

	if created {
		if err := im.store.CreateWorkflow(ctx, &wf); err != nil {
			return nil, err
		}
		res.Workflow = wf
	}
	if err := im.store.SaveGraph(ctx, wf.ID, doc.Nodes, conns); err != nil {
		return nil, err
	}

	im.logger.InfoContext(ctx, "workflow imported",
		"workflow_id", wf.ID, "nodes", res.Nodes, "connections", res.Connections,
		"created", created, "warnings", len(vr.Warnings))
	return res, nil
}

// Export returns the stored graph of workflowID as a YAML document.
func (im *Importer) Export(ctx context.Context, workflowID string) ([]byte, error) {
	g, err := im.store.LoadGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return Marshal(g)
}
