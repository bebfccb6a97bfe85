package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/agatticelli/grounded-answers/internal/answer"
	"github.com/agatticelli/grounded-answers/internal/retrieval"
)

func TestVersionCmd_JSON(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--json"})

	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}

	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if info["version"] != Version {
		t.Errorf("expected version %q, got %q", Version, info["version"])
	}

	t.Log("✓ version --json prints build info")
}

func TestAskCmd_RequiresQuestion(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ask"})

	if err := root.Execute(); err == nil {
		t.Fatal("expected an error without a question")
	}

	t.Log("✓ ask rejects an empty invocation")
}

func TestPrintAnswer(t *testing.T) {
	var out bytes.Buffer
	err := printAnswer(&out, &answer.Response{
		Answer:   "Paris [Source 1].",
		ModeUsed: retrieval.ModeWeb,
		Backend:  "fast-model",
		Degraded: false,
		Sources: []retrieval.Source{
			{Type: retrieval.SourceWeb, Title: "Paris", Reference: "https://en.wikipedia.org/wiki/Paris"},
		},
		FromCache: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	got := out.String()
	for _, want := range []string{"Paris [Source 1].", "[1] Paris", "https://en.wikipedia.org/wiki/Paris", "backend=fast-model", "cached"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	t.Log("✓ Answers print with numbered sources")
}
