package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/construct-dev/construct/internal/store"
)

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "constructs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func setStatus(t *testing.T, st *store.Store, id string, path ...store.Status) {
	t.Helper()
	for _, status := range path {
		s := status
		if _, err := st.UpdateConstruct(id, store.ConstructUpdate{Status: &s}); err != nil {
			t.Fatalf("update %s -> %s: %v", id, status, err)
		}
	}
}

func TestGenerateCountsAndTimings(t *testing.T) {
	st := seedStore(t)

	a, _ := st.CreateConstruct("", "web", "alpha")
	setStatus(t, st, a.ID, store.StatusProvisioning, store.StatusActive)

	b, _ := st.CreateConstruct("", "web", "beta")
	setStatus(t, st, b.ID, store.StatusProvisioning, store.StatusError)
	if _, err := st.UpdateConstruct(b.ID, store.ConstructUpdate{
		Metadata: map[string]string{store.MetaLastError: "step ensure_services: port range exhausted"},
	}); err != nil {
		t.Fatalf("set last error: %v", err)
	}

	for _, step := range []store.TimingStep{
		{RunID: "r1", ConstructID: a.ID, Step: "create_worktree", Outcome: store.OutcomeOK, Duration: 100 * time.Millisecond},
		{RunID: "r1", ConstructID: a.ID, Step: "ensure_services", Outcome: store.OutcomeOK, Duration: 2 * time.Second},
		{RunID: "r2", ConstructID: b.ID, Step: "create_worktree", Outcome: store.OutcomeOK, Duration: 300 * time.Millisecond},
		{RunID: "r2", ConstructID: b.ID, Step: "ensure_services", Outcome: store.OutcomeError, Duration: time.Second},
	} {
		if err := st.AppendTimingStep(step); err != nil {
			t.Fatalf("append timing: %v", err)
		}
	}

	r, err := Generate(st, nil, "demo")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if r.Total != 2 || r.Active != 1 || r.Errored != 1 {
		t.Errorf("counts = total %d active %d errored %d", r.Total, r.Active, r.Errored)
	}

	var worktree, ensure StepStat
	for _, s := range r.Steps {
		switch s.Step {
		case "create_worktree":
			worktree = s
		case "ensure_services":
			ensure = s
		}
	}
	if worktree.Runs != 2 || worktree.Average() != 200*time.Millisecond {
		t.Errorf("create_worktree stat = %+v", worktree)
	}
	if ensure.Failures != 1 {
		t.Errorf("ensure_services failures = %d", ensure.Failures)
	}
}

func TestFormatReportNamesFailures(t *testing.T) {
	r := &Report{
		Project: "demo",
		Total:   1,
		Errored: 1,
		Constructs: []ConstructLine{
			{ID: "0123456789abcdef", Name: "beta", Status: store.StatusError, LastError: "step ensure_services: boom"},
		},
	}

	out := FormatReport(r)
	if !strings.Contains(out, "01234567 (beta): step ensure_services: boom") {
		t.Errorf("failure line missing:\n%s", out)
	}
	if !strings.Contains(out, "Error:        1") {
		t.Errorf("error count missing:\n%s", out)
	}
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	if err := WriteReport(dir, &Report{Project: "demo"}); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	data, err := filepath.Glob(filepath.Join(dir, "report.md"))
	if err != nil || len(data) != 1 {
		t.Fatalf("report.md not written: %v %v", data, err)
	}
}
