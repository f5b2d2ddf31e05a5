package services

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/construct-dev/construct/internal/ports"
	"github.com/construct-dev/construct/internal/template"
)

func sleepTemplate() *template.Template {
	return &template.Template{
		ID:   "tmpl-sleep",
		Name: "sleep",
		Services: []template.Service{
			{
				Name:    "web",
				Command: "sleep",
				Args:    []string{"30"},
				Ports:   []template.Port{{Name: "http", Env: "HTTP_PORT"}},
			},
		},
	}
}

func TestEnsureServicesStartsAndRecords(t *testing.T) {
	cellDir := t.TempDir()
	sup := NewSupervisor()
	t.Cleanup(func() { _ = sup.Stop(cellDir) })

	allocations := []ports.Allocation{{Name: "http", Port: 50100, EnvVar: "HTTP_PORT"}}
	err := sup.EnsureServices(sleepTemplate(), cellDir, t.TempDir(), nil, allocations)
	if err != nil {
		t.Fatalf("EnsureServices failed: %v", err)
	}

	alive, err := sup.Running(cellDir)
	if err != nil {
		t.Fatalf("Running failed: %v", err)
	}
	if len(alive) != 1 {
		t.Fatalf("got %d running services, want 1", len(alive))
	}
	if alive[0].Name != "web" || alive[0].PID <= 0 {
		t.Errorf("service state = %+v", alive[0])
	}
	if len(alive[0].Ports) != 1 || alive[0].Ports[0] != 50100 {
		t.Errorf("recorded ports = %v, want [50100]", alive[0].Ports)
	}
}

func TestEnsureServicesIdempotent(t *testing.T) {
	cellDir := t.TempDir()
	workDir := t.TempDir()
	sup := NewSupervisor()
	t.Cleanup(func() { _ = sup.Stop(cellDir) })

	tpl := sleepTemplate()
	if err := sup.EnsureServices(tpl, cellDir, workDir, nil, nil); err != nil {
		t.Fatalf("first EnsureServices failed: %v", err)
	}
	first, _ := sup.Running(cellDir)

	// A retried ensure_services step must not start a second copy.
	if err := sup.EnsureServices(tpl, cellDir, workDir, nil, nil); err != nil {
		t.Fatalf("second EnsureServices failed: %v", err)
	}
	second, _ := sup.Running(cellDir)

	if len(second) != len(first) {
		t.Fatalf("service count changed: %d -> %d", len(first), len(second))
	}
	if second[0].PID != first[0].PID {
		t.Errorf("service restarted on retry: pid %d -> %d", first[0].PID, second[0].PID)
	}
}

func TestEnsureServicesStartFailure(t *testing.T) {
	cellDir := t.TempDir()
	sup := NewSupervisor()

	tpl := &template.Template{
		ID:   "tmpl-broken",
		Name: "broken",
		Services: []template.Service{
			{Name: "ghost", Command: filepath.Join(t.TempDir(), "no-such-binary")},
		},
	}

	err := sup.EnsureServices(tpl, cellDir, t.TempDir(), nil, nil)
	if err == nil {
		t.Fatal("EnsureServices succeeded with a nonexistent command")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error does not name the failed service: %v", err)
	}
}

func TestMergedEnvPortBindings(t *testing.T) {
	env := mergedEnv(
		map[string]string{"NODE_ENV": "development"},
		map[string]string{"NODE_ENV": "test"},
		[]ports.Allocation{
			{Name: "http", Port: 3000, EnvVar: "HTTP_PORT"},
			{Name: "admin-api", Port: 3001},
		},
	)

	want := map[string]bool{
		"NODE_ENV=test":        false, // extra layer wins over template
		"HTTP_PORT=3000":       false,
		"PORT_ADMIN_API=3001":  false, // fallback naming for unbound env vars
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, found := range want {
		if !found {
			t.Errorf("merged env missing %q", kv)
		}
	}
}

func TestStopClearsState(t *testing.T) {
	cellDir := t.TempDir()
	sup := NewSupervisor()

	if err := sup.EnsureServices(sleepTemplate(), cellDir, t.TempDir(), nil, nil); err != nil {
		t.Fatalf("EnsureServices failed: %v", err)
	}
	if err := sup.Stop(cellDir); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	alive, err := sup.Running(cellDir)
	if err != nil {
		t.Fatalf("Running failed: %v", err)
	}
	if len(alive) != 0 {
		t.Errorf("%d services still recorded after Stop", len(alive))
	}
}
