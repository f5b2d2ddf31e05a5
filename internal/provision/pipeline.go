// pipeline.go implements the five-step provisioning state machine with
// timing capture and resume-from-failure.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/construct-dev/construct/internal/agent"
	"github.com/construct-dev/construct/internal/config"
	"github.com/construct-dev/construct/internal/log"
	"github.com/construct-dev/construct/internal/ports"
	"github.com/construct-dev/construct/internal/prompt"
	"github.com/construct-dev/construct/internal/store"
	"github.com/construct-dev/construct/internal/template"
)

// Step names, in execution order.
const (
	StepCreateCellRecord   = "create_cell_record"
	StepCreateWorktree     = "create_worktree"
	StepEnsureServices     = "ensure_services"
	StepEnsureAgentSession = "ensure_agent_session"
	StepMarkReady          = "mark_ready"
)

// promptFile is where the assembled agent prompt lands inside a cell
// directory. Writing it to disk is what lets a retried run reuse the
// assembly from the last successful ensure_services.
const promptFile = "prompt.md"

// Deps collects the pipeline's collaborators.
type Deps struct {
	Store       Store
	VCS         VCS
	Services    ServiceSupervisor
	Sessions    SessionOpener
	Templates   TemplateSource
	Allocator   *ports.Allocator
	Logger      *log.Logger
	Provider    string
	ProjectRoot string
}

// Pipeline provisions constructs. Safe for concurrent use; runs for
// the same construct are mutually exclusive, runs for different
// constructs proceed independently.
type Pipeline struct {
	deps Deps
	runs *keyedMutex
}

// NewPipeline creates a Pipeline with the given collaborators.
func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{deps: deps, runs: newKeyedMutex()}
}

// Provision creates a new construct from the template and runs the
// full pipeline. On step failure the construct is left in error status
// with the cause in its metadata, and partial artifacts stay in place
// for Retry to build on.
func (p *Pipeline) Provision(ctx context.Context, tpl *template.Template, name string) (*store.Construct, error) {
	id := uuid.New().String()
	p.logEvent(log.LogEvent{Event: log.EventProvisionStarted, ConstructID: id, Template: tpl.ID})
	return p.run(ctx, id, tpl, name)
}

// Retry resumes provisioning of a failed construct from the first
// incomplete step. Steps whose artifacts already exist are skipped, so
// a retry never duplicates the record, worktree, or session.
func (p *Pipeline) Retry(ctx context.Context, constructID string) (*store.Construct, error) {
	c, err := p.deps.Store.GetConstruct(constructID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("construct %s not found", constructID)
	}

	tpl, err := p.deps.Templates.ByID(c.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("resolving template for retry: %w", err)
	}

	p.logEvent(log.LogEvent{Event: log.EventProvisionRetry, ConstructID: constructID, Template: tpl.ID})
	return p.run(ctx, constructID, tpl, c.Name)
}

// runState carries the per-run values steps hand to each other.
type runState struct {
	runID   string
	id      string
	tpl     *template.Template
	name    string
	cellDir string
	wtPath  string
}

// stepSpec is one pipeline step: done probes whether a previous run
// already completed it, run performs it.
type stepSpec struct {
	name string
	done func(st *runState) (bool, error)
	run  func(ctx context.Context, st *runState) error
}

func (p *Pipeline) steps() []stepSpec {
	return []stepSpec{
		{StepCreateCellRecord, p.cellRecordDone, p.createCellRecord},
		{StepCreateWorktree, p.worktreeDone, p.createWorktree},
		{StepEnsureServices, p.servicesDone, p.ensureServices},
		{StepEnsureAgentSession, p.sessionDone, p.ensureAgentSession},
		{StepMarkReady, func(*runState) (bool, error) { return false, nil }, p.markReady},
	}
}

func (p *Pipeline) run(ctx context.Context, id string, tpl *template.Template, name string) (*store.Construct, error) {
	if !p.runs.tryLock(id) {
		return nil, fmt.Errorf("construct %s: %w", id, ErrRunInProgress)
	}
	defer p.runs.unlock(id)

	st := &runState{
		runID:   uuid.New().String(),
		id:      id,
		tpl:     tpl,
		name:    name,
		cellDir: config.CellDir(p.deps.ProjectRoot, id),
	}
	st.wtPath = filepath.Join(st.cellDir, "workspace")

	for _, step := range p.steps() {
		if err := p.runStep(ctx, st, step); err != nil {
			p.markFailed(st, err)
			return nil, err
		}
	}

	p.logEvent(log.LogEvent{Event: log.EventProvisionComplete, ConstructID: id, RunID: st.runID, Template: tpl.ID})
	return p.deps.Store.GetConstruct(id)
}

// runStep executes one step unless its artifacts already exist,
// recording a timing row and a log event either way the step runs.
func (p *Pipeline) runStep(ctx context.Context, st *runState, step stepSpec) error {
	done, err := step.done(st)
	if err != nil {
		return &StepError{Step: step.name, Err: err}
	}
	if done {
		return nil
	}

	start := time.Now()
	err = step.run(ctx, st)
	elapsed := time.Since(start)

	outcome := store.OutcomeOK
	event := log.EventStepCompleted
	errText := ""
	if err != nil {
		outcome = store.OutcomeError
		event = log.EventStepFailed
		errText = err.Error()
	}

	if terr := p.deps.Store.AppendTimingStep(store.TimingStep{
		RunID:       st.runID,
		ConstructID: st.id,
		Step:        step.name,
		Outcome:     outcome,
		Duration:    elapsed,
	}); terr != nil && err == nil {
		err = terr
	}

	p.logEvent(log.LogEvent{
		Event:       event,
		ConstructID: st.id,
		RunID:       st.runID,
		Step:        step.name,
		DurationMs:  elapsed.Milliseconds(),
		Error:       errText,
	})

	if err != nil {
		return &StepError{Step: step.name, Err: err}
	}
	return nil
}

// markFailed transitions the construct to error status and records the
// cause. Skipped when the record was never created.
func (p *Pipeline) markFailed(st *runState, cause error) {
	c, err := p.deps.Store.GetConstruct(st.id)
	if err != nil || c == nil {
		return
	}
	status := store.StatusError
	_, _ = p.deps.Store.UpdateConstruct(st.id, store.ConstructUpdate{
		Status:   &status,
		Metadata: map[string]string{store.MetaLastError: cause.Error()},
	})
}

// --- create_cell_record ---

func (p *Pipeline) cellRecordDone(st *runState) (bool, error) {
	c, err := p.deps.Store.GetConstruct(st.id)
	if err != nil {
		return false, err
	}
	return c != nil && c.Status == store.StatusProvisioning, nil
}

func (p *Pipeline) createCellRecord(_ context.Context, st *runState) error {
	c, err := p.deps.Store.GetConstruct(st.id)
	if err != nil {
		return err
	}
	if c == nil {
		if _, err := p.deps.Store.CreateConstruct(st.id, st.tpl.ID, st.name); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(st.cellDir, 0755); err != nil {
		return fmt.Errorf("creating cell directory: %w", err)
	}

	status := store.StatusProvisioning
	_, err = p.deps.Store.UpdateConstruct(st.id, store.ConstructUpdate{
		Status:        &status,
		ConstructPath: &st.cellDir,
	})
	return err
}

// --- create_worktree ---

func (p *Pipeline) worktreeDone(st *runState) (bool, error) {
	_, err := os.Stat(filepath.Join(st.wtPath, ".git"))
	return err == nil, nil
}

func (p *Pipeline) createWorktree(_ context.Context, st *runState) error {
	wc, err := p.deps.VCS.CreateWorkspaceCopy(p.deps.ProjectRoot, st.wtPath, st.id)
	if err != nil {
		return err
	}
	_, err = p.deps.Store.UpdateConstruct(st.id, store.ConstructUpdate{
		WorkspacePath: &st.wtPath,
		Metadata: map[string]string{
			"branch":        wc.BranchName,
			"base_revision": wc.BaseRevision,
		},
	})
	return err
}

// --- ensure_services ---

func (p *Pipeline) servicesDone(st *runState) (bool, error) {
	if _, err := os.Stat(filepath.Join(st.cellDir, promptFile)); err != nil {
		return false, nil
	}
	running, err := p.deps.Services.Running(st.cellDir)
	if err != nil {
		return false, err
	}
	alive := make(map[string]bool, len(running))
	for _, svc := range running {
		alive[svc.Name] = true
	}
	for _, svc := range st.tpl.Services {
		if !alive[svc.Name] {
			return false, nil
		}
	}
	return true, nil
}

// ensureServices allocates ports, assembles the agent prompt with the
// service table, and starts the template's services with the port
// bindings in their environment.
func (p *Pipeline) ensureServices(_ context.Context, st *runState) error {
	var requests []ports.Request
	for _, port := range st.tpl.PortRequests() {
		requests = append(requests, ports.Request{
			Name:      port.Name,
			Preferred: port.Preferred,
			EnvVar:    port.Env,
		})
	}

	allocations, err := p.deps.Allocator.Allocate(requests)
	if err != nil {
		return err
	}

	if err := p.assemblePrompt(st, allocations); err != nil {
		return err
	}

	return p.deps.Services.EnsureServices(st.tpl, st.cellDir, st.wtPath, nil, allocations)
}

// assemblePrompt builds the prompt bundle from the template's sources,
// interpolates template env plus port bindings, appends the service
// table, and writes the result into the cell directory.
func (p *Pipeline) assemblePrompt(st *runState, allocations []ports.Allocation) error {
	var sources []prompt.Source
	for _, src := range st.tpl.PromptSources {
		sources = append(sources, prompt.Source{Path: src.Path, Order: src.Order})
	}

	bundle, err := prompt.Build(sources, p.deps.ProjectRoot)
	if err != nil {
		return err
	}

	vars := map[string]string{}
	for k, v := range st.tpl.Env {
		vars[k] = v
	}
	for _, a := range allocations {
		key := a.EnvVar
		if key == "" {
			key = "PORT_" + strings.ToUpper(strings.ReplaceAll(a.Name, "-", "_"))
		}
		vars[key] = fmt.Sprintf("%d", a.Port)
	}
	bundle.Content = prompt.Interpolate(bundle.Content, vars)

	allocByName := make(map[string]ports.Allocation, len(allocations))
	for _, a := range allocations {
		allocByName[a.Name] = a
	}
	var infos []prompt.ServiceInfo
	for _, svc := range st.tpl.Services {
		info := prompt.ServiceInfo{Name: svc.Name, ID: svc.ID}
		for _, port := range svc.Ports {
			if a, ok := allocByName[port.Name]; ok {
				info.Allocations = append(info.Allocations, a)
			}
		}
		infos = append(infos, info)
	}
	prompt.AppendServiceTable(bundle, infos)

	if err := os.WriteFile(filepath.Join(st.cellDir, promptFile), []byte(bundle.Content), 0644); err != nil {
		return fmt.Errorf("writing assembled prompt: %w", err)
	}
	return nil
}

// --- ensure_agent_session ---

func (p *Pipeline) sessionDone(st *runState) (bool, error) {
	rec, err := p.deps.Store.SessionRecordForConstruct(st.id)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

func (p *Pipeline) ensureAgentSession(ctx context.Context, st *runState) error {
	promptText, err := os.ReadFile(filepath.Join(st.cellDir, promptFile))
	if err != nil {
		return fmt.Errorf("reading assembled prompt: %w", err)
	}

	sess, err := p.deps.Sessions.CreateSession(ctx, agent.CreateSessionRequest{
		ConstructID: st.id,
		ProviderID:  p.deps.Provider,
		Prompt:      string(promptText),
		WorkingDir:  st.wtPath,
	})
	if err != nil {
		return err
	}

	if err := p.deps.Store.SaveSessionRecord(store.SessionRecord{
		ID:          sess.ID,
		ConstructID: st.id,
		ProviderID:  p.deps.Provider,
		Status:      string(sess.Status),
	}); err != nil {
		return err
	}

	p.logEvent(log.LogEvent{Event: log.EventSessionOpened, ConstructID: st.id, RunID: st.runID, SessionID: sess.ID})
	return nil
}

// --- mark_ready ---

func (p *Pipeline) markReady(_ context.Context, st *runState) error {
	status := store.StatusActive
	_, err := p.deps.Store.UpdateConstruct(st.id, store.ConstructUpdate{Status: &status})
	return err
}

func (p *Pipeline) logEvent(ev log.LogEvent) {
	if p.deps.Logger == nil {
		return
	}
	_ = p.deps.Logger.Append(ev)
}
