// Package provision runs the resumable pipeline that takes a construct
// from a template to an active workspace: cell record, worktree,
// services, agent session, ready.
package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/construct-dev/construct/internal/agent"
	"github.com/construct-dev/construct/internal/git"
	"github.com/construct-dev/construct/internal/ports"
	"github.com/construct-dev/construct/internal/services"
	"github.com/construct-dev/construct/internal/store"
	"github.com/construct-dev/construct/internal/template"
)

// ErrRunInProgress is returned when a provisioning run is already
// active for the same construct.
var ErrRunInProgress = errors.New("provisioning run already in progress")

// StepError wraps a step failure with the step that produced it.
type StepError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	CreateConstruct(id, templateID, name string) (*store.Construct, error)
	GetConstruct(id string) (*store.Construct, error)
	UpdateConstruct(id string, update store.ConstructUpdate) (*store.Construct, error)
	AppendTimingStep(step store.TimingStep) error
	SaveSessionRecord(rec store.SessionRecord) error
	SessionRecordForConstruct(constructID string) (*store.SessionRecord, error)
}

// VCS creates the isolated workspace copy for a construct.
type VCS interface {
	CreateWorkspaceCopy(projectRoot, wtPath, cellID string) (*git.WorkspaceCopy, error)
}

// GitVCS is the production VCS backed by git worktrees.
type GitVCS struct{}

// CreateWorkspaceCopy delegates to the git package.
func (GitVCS) CreateWorkspaceCopy(projectRoot, wtPath, cellID string) (*git.WorkspaceCopy, error) {
	return git.CreateWorkspaceCopy(projectRoot, wtPath, cellID)
}

// ServiceSupervisor starts and inspects a construct's services.
// *services.Supervisor satisfies it.
type ServiceSupervisor interface {
	EnsureServices(tpl *template.Template, cellDir, workDir string, extra map[string]string, allocations []ports.Allocation) error
	Running(cellDir string) ([]services.ServiceState, error)
}

// SessionOpener opens the remote agent session for a construct.
// *agent.Orchestrator satisfies it.
type SessionOpener interface {
	CreateSession(ctx context.Context, req agent.CreateSessionRequest) (*agent.Session, error)
}

// TemplateSource resolves a template by ID, used when retrying a
// construct whose template is known only by reference.
type TemplateSource interface {
	ByID(id string) (*template.Template, error)
}

// DirTemplates resolves templates from a directory of YAML documents.
type DirTemplates struct {
	Dir string
}

// ByID loads the directory and returns the template with the given ID.
func (d DirTemplates) ByID(id string) (*template.Template, error) {
	tpls, err := template.LoadDir(d.Dir)
	if err != nil {
		return nil, err
	}
	for _, tpl := range tpls {
		if tpl.ID == id {
			return tpl, nil
		}
	}
	return nil, fmt.Errorf("template %q not found in %s", id, d.Dir)
}
