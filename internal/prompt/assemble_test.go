package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/construct-dev/construct/internal/ports"
	"github.com/construct-dev/construct/internal/testutil"
)

func intPtr(v int) *int { return &v }

func TestBuildOrdersFragments(t *testing.T) {
	dir := testutil.TempProject(t, map[string]string{
		"second.md": "second body",
		"first.md":  "first body",
	})

	bundle, err := Build([]Source{
		{Path: "second.md", Order: intPtr(1)},
		{Path: "first.md", Order: intPtr(0)},
	}, dir)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	first := strings.Index(bundle.Content, "first body")
	second := strings.Index(bundle.Content, "second body")
	if first < 0 || second < 0 {
		t.Fatalf("bundle missing fragment bodies: %q", bundle.Content)
	}
	if first > second {
		t.Errorf("order-0 fragment appears after order-1 fragment")
	}
}

func TestBuildUnorderedSortsAfterOrdered(t *testing.T) {
	dir := testutil.TempProject(t, map[string]string{
		"a-unordered.md": "unordered body",
		"z-ordered.md":   "ordered body",
	})

	bundle, err := Build([]Source{
		{Path: "a-unordered.md"},
		{Path: "z-ordered.md", Order: intPtr(5)},
	}, dir)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if strings.Index(bundle.Content, "ordered body") > strings.Index(bundle.Content, "unordered body") {
		t.Errorf("unordered fragment sorted before ordered one: %q", bundle.Content)
	}
}

func TestBuildDeduplicatesHeadings(t *testing.T) {
	dir := testutil.TempProject(t, map[string]string{
		"a.md": "# Setup\nline one\nshared line",
		"b.md": "# Setup\nline two\nshared line",
	})

	bundle, err := Build([]Source{
		{Path: "a.md", Order: intPtr(0)},
		{Path: "b.md", Order: intPtr(1)},
	}, dir)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if got := strings.Count(bundle.Content, "# Setup"); got != 1 {
		t.Errorf("heading retained %d times, want 1:\n%s", got, bundle.Content)
	}
	// Duplicate non-heading lines are never dropped.
	if got := strings.Count(bundle.Content, "shared line"); got != 2 {
		t.Errorf("non-heading line retained %d times, want 2:\n%s", got, bundle.Content)
	}
}

func TestBuildMissingLiteralFileIsFatal(t *testing.T) {
	dir := testutil.TempProject(t, map[string]string{"exists.md": "text"})

	_, err := Build([]Source{
		{Path: "exists.md"},
		{Path: "missing.md"},
	}, dir)
	if !errors.Is(err, ErrPromptFileMissing) {
		t.Fatalf("err = %v, want ErrPromptFileMissing", err)
	}
	if !strings.Contains(err.Error(), "missing.md") {
		t.Errorf("error does not name the missing file: %v", err)
	}
}

func TestBuildGlobWithNoMatchesIsEmpty(t *testing.T) {
	dir := testutil.TempProject(t, map[string]string{"readme.md": "hello"})

	bundle, err := Build([]Source{
		{Path: "readme.md"},
		{Path: "docs/*.md"},
	}, dir)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if bundle.Content != "hello" {
		t.Errorf("Content = %q, want %q", bundle.Content, "hello")
	}
}

func TestBuildGlobResolvesRelativeToBaseDir(t *testing.T) {
	dir := testutil.TempProject(t, map[string]string{
		"docs/one.md": "one",
		"docs/two.md": "two",
	})

	bundle, err := Build([]Source{{Path: "docs/*.md"}}, dir)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(bundle.Fragments) != 2 {
		t.Fatalf("got %d fragments, want 2", len(bundle.Fragments))
	}
}

func TestTokenEstimate(t *testing.T) {
	cases := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.content); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.content, got, tc.want)
		}
	}
}

func TestInterpolate(t *testing.T) {
	content := "cell ${name} on port ${port}, leave ${unknown} alone"
	got := Interpolate(content, map[string]string{
		"name": "alpha",
		"port": "3000",
	})
	want := "cell alpha on port 3000, leave ${unknown} alone"
	if got != want {
		t.Errorf("Interpolate = %q, want %q", got, want)
	}
}

func TestAppendServiceTable(t *testing.T) {
	bundle := &Bundle{Content: "context"}
	AppendServiceTable(bundle, []ServiceInfo{
		{
			Name: "web",
			ID:   "svc-1",
			Allocations: []ports.Allocation{
				{Name: "http", Port: 3000, EnvVar: "HTTP_PORT"},
			},
		},
		{
			Name: "api",
			ID:   "svc-2",
			Allocations: []ports.Allocation{
				{Name: "grpc", Port: 50051},
			},
		},
	})

	if !strings.Contains(bundle.Content, "| web | svc-1 | http=3000 | HTTP_PORT |") {
		t.Errorf("missing web row:\n%s", bundle.Content)
	}
	// Deterministic ordering: api sorts before web.
	if strings.Index(bundle.Content, "| api |") > strings.Index(bundle.Content, "| web |") {
		t.Errorf("service rows not sorted by name:\n%s", bundle.Content)
	}
	if bundle.TokenEstimate != EstimateTokens(bundle.Content) {
		t.Errorf("token estimate not recomputed after append")
	}
}
