// Package services starts and supervises the processes declared by a
// construct template, wiring allocated ports into their environment.
package services

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/construct-dev/construct/internal/ports"
	"github.com/construct-dev/construct/internal/template"
)

// stateFile records running service PIDs inside a cell directory.
const stateFile = "services.json"

// ServiceState is the persisted record of one started service.
type ServiceState struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Ports     []int     `json:"ports"`
	StartedAt time.Time `json:"started_at"`
}

// Supervisor starts template services as child processes. One
// Supervisor instance serves all constructs in the process; state is
// kept per cell directory.
type Supervisor struct {
	mu sync.Mutex
}

// NewSupervisor creates a Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// EnsureServices starts every service in the template that is not
// already running, with env merged from the template, the extra map,
// and the allocated port bindings. Started PIDs are recorded in
// cellDir/services.json. A service that fails to start (including a
// port that probed free but no longer binds) fails the call; services
// started earlier in the same call are left running for diagnosis.
func (s *Supervisor) EnsureServices(tpl *template.Template, cellDir, workDir string, extra map[string]string, allocations []ports.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := readState(cellDir)
	if err != nil {
		return err
	}

	running := make(map[string]bool)
	for _, st := range states {
		if processAlive(st.PID) {
			running[st.Name] = true
		}
	}

	env := mergedEnv(tpl.Env, extra, allocations)
	allocByName := make(map[string]ports.Allocation, len(allocations))
	for _, a := range allocations {
		allocByName[a.Name] = a
	}

	for _, svc := range tpl.Services {
		if running[svc.Name] {
			continue
		}

		cmd := exec.Command(svc.Command, svc.Args...)
		cmd.Dir = workDir
		cmd.Env = env
		// Detach from our process group so construct's own signals
		// don't tear services down.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting service %q: %w", svc.Name, err)
		}

		svcPorts := make([]int, 0, len(svc.Ports))
		for _, p := range svc.Ports {
			if a, ok := allocByName[p.Name]; ok {
				svcPorts = append(svcPorts, a.Port)
			}
		}
		states = append(states, ServiceState{
			Name:      svc.Name,
			PID:       cmd.Process.Pid,
			Command:   svc.Command,
			Ports:     svcPorts,
			StartedAt: time.Now().UTC(),
		})

		// Reap the child in the background so it doesn't linger as a zombie.
		go func() { _ = cmd.Wait() }()
	}

	return writeState(cellDir, states)
}

// Running reports which of the cell's recorded services are still alive.
func (s *Supervisor) Running(cellDir string) ([]ServiceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := readState(cellDir)
	if err != nil {
		return nil, err
	}

	var alive []ServiceState
	for _, st := range states {
		if processAlive(st.PID) {
			alive = append(alive, st)
		}
	}
	return alive, nil
}

// Stop terminates every recorded service for the cell and clears the
// state file. Kill failures for already-dead processes are ignored.
func (s *Supervisor) Stop(cellDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := readState(cellDir)
	if err != nil {
		return err
	}

	for _, st := range states {
		if processAlive(st.PID) {
			_ = syscall.Kill(-st.PID, syscall.SIGTERM)
		}
	}

	return writeState(cellDir, nil)
}

// mergedEnv layers the process environment, template env, extra env,
// and port bindings, later layers winning. Port bindings use the
// request's declared env var, falling back to PORT_<NAME>.
func mergedEnv(templateEnv, extra map[string]string, allocations []ports.Allocation) []string {
	merged := map[string]string{}
	for k, v := range templateEnv {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	for _, a := range allocations {
		key := a.EnvVar
		if key == "" {
			key = "PORT_" + strings.ToUpper(strings.ReplaceAll(a.Name, "-", "_"))
		}
		merged[key] = fmt.Sprintf("%d", a.Port)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// processAlive reports whether the PID refers to a live process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func readState(cellDir string) ([]ServiceState, error) {
	data, err := os.ReadFile(filepath.Join(cellDir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading service state: %w", err)
	}

	var states []ServiceState
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("parsing service state: %w", err)
	}
	return states, nil
}

func writeState(cellDir string, states []ServiceState) error {
	if err := os.MkdirAll(cellDir, 0755); err != nil {
		return fmt.Errorf("creating cell directory: %w", err)
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal service state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cellDir, stateFile), data, 0644); err != nil {
		return fmt.Errorf("writing service state: %w", err)
	}
	return nil
}
