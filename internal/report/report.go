// Package report generates summaries of construct provisioning
// activity from the store and the event log.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/construct-dev/construct/internal/log"
	"github.com/construct-dev/construct/internal/store"
)

// Report aggregates construct state and provisioning timings.
type Report struct {
	Project      string
	Total        int
	Active       int
	Provisioning int
	Errored      int
	Archived     int
	Draft        int
	Constructs   []ConstructLine
	Steps        []StepStat
	Duration     time.Duration
}

// ConstructLine is one construct's row in the report.
type ConstructLine struct {
	ID        string
	Name      string
	Status    store.Status
	LastError string
}

// StepStat aggregates the timing rows recorded for one pipeline step.
type StepStat struct {
	Step     string
	Runs     int
	Failures int
	Total    time.Duration
}

// Average returns the mean duration per run, zero when no runs exist.
func (s StepStat) Average() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Runs)
}

// Generate builds a Report from the store and the event log.
// Non-critical failures (an unreadable log, for example) degrade to
// empty values rather than errors.
func Generate(st *store.Store, logger *log.Logger, project string) (*Report, error) {
	r := &Report{Project: project}

	constructs, err := st.ListConstructs()
	if err != nil {
		return nil, fmt.Errorf("listing constructs: %w", err)
	}
	r.Total = len(constructs)

	stats := map[string]*StepStat{}
	for _, c := range constructs {
		switch c.Status {
		case store.StatusActive:
			r.Active++
		case store.StatusProvisioning:
			r.Provisioning++
		case store.StatusError:
			r.Errored++
		case store.StatusArchived:
			r.Archived++
		case store.StatusDraft:
			r.Draft++
		}

		r.Constructs = append(r.Constructs, ConstructLine{
			ID:        c.ID,
			Name:      c.Name,
			Status:    c.Status,
			LastError: c.Metadata[store.MetaLastError],
		})

		steps, stepErr := st.TimingSteps(c.ID)
		if stepErr != nil {
			continue
		}
		for _, step := range steps {
			stat, ok := stats[step.Step]
			if !ok {
				stat = &StepStat{Step: step.Step}
				stats[step.Step] = stat
			}
			stat.Runs++
			stat.Total += step.Duration
			if step.Outcome == store.OutcomeError {
				stat.Failures++
			}
		}
	}

	for _, stat := range stats {
		r.Steps = append(r.Steps, *stat)
	}
	sort.Slice(r.Steps, func(i, j int) bool { return r.Steps[i].Step < r.Steps[j].Step })

	if logger != nil {
		if events, readErr := logger.ReadAll(); readErr == nil {
			r.Duration = computeDuration(events)
		}
	}

	return r, nil
}

// FormatReport produces a terminal-friendly summary string.
func FormatReport(r *Report) string {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString("  Construct Report\n")
	b.WriteString("========================================\n")
	b.WriteString("\n")

	if r.Project != "" {
		fmt.Fprintf(&b, "Project:      %s\n", r.Project)
	}
	fmt.Fprintf(&b, "Constructs:   %d total\n", r.Total)
	fmt.Fprintf(&b, "  Active:       %d\n", r.Active)
	fmt.Fprintf(&b, "  Provisioning: %d\n", r.Provisioning)
	fmt.Fprintf(&b, "  Error:        %d\n", r.Errored)
	fmt.Fprintf(&b, "  Archived:     %d\n", r.Archived)
	if r.Draft > 0 {
		fmt.Fprintf(&b, "  Draft:        %d\n", r.Draft)
	}
	b.WriteString("\n")

	errored := false
	for _, c := range r.Constructs {
		if c.Status == store.StatusError && c.LastError != "" {
			if !errored {
				b.WriteString("Failures:\n")
				errored = true
			}
			fmt.Fprintf(&b, "  %s (%s): %s\n", shortID(c.ID), c.Name, c.LastError)
		}
	}
	if errored {
		b.WriteString("\n")
	}

	if len(r.Steps) > 0 {
		b.WriteString("Step timings:\n")
		for _, s := range r.Steps {
			line := fmt.Sprintf("  %-22s %3d runs  avg %s", s.Step, s.Runs, formatDuration(s.Average()))
			if s.Failures > 0 {
				line += fmt.Sprintf("  (%d failed)", s.Failures)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	if r.Duration > 0 {
		fmt.Fprintf(&b, "Span:         %s\n", formatDuration(r.Duration))
	}

	b.WriteString("========================================\n")
	return b.String()
}

// WriteReport writes the formatted report to {dir}/report.md.
func WriteReport(dir string, r *Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	path := filepath.Join(dir, "report.md")
	if err := os.WriteFile(path, []byte(FormatReport(r)), 0644); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	return nil
}

// computeDuration spans from the first provision_started event to the
// last provision_complete, falling back to the last event seen.
func computeDuration(events []log.LogEvent) time.Duration {
	var start, end time.Time
	for _, e := range events {
		if e.Event == log.EventProvisionStarted && start.IsZero() {
			start = e.Time
		}
		if !e.Time.IsZero() {
			end = e.Time
		}
		if e.Event == log.EventProvisionComplete {
			end = e.Time
		}
	}
	if start.IsZero() || end.IsZero() {
		return 0
	}
	if d := end.Sub(start); d > 0 {
		return d
	}
	return 0
}

// formatDuration renders durations like "5m 32s" or "210ms".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// shortID abbreviates a UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
