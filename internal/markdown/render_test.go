package markdown

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{
			name:   "heading with anchor id",
			source: "# Getting Started",
			want:   []string{"<h1 id=\"getting-started\">Getting Started</h1>"},
		},
		{
			name:   "gfm table",
			source: "| a | b |\n|---|---|\n| 1 | 2 |",
			want:   []string{"<table>", "<td>1</td>"},
		},
		{
			name:   "gfm strikethrough",
			source: "~~old plan~~",
			want:   []string{"<del>old plan</del>"},
		},
		{
			name:   "task list",
			source: "- [x] shipped\n- [ ] pending",
			want:   []string{"checkbox", "checked"},
		},
		{
			name:   "autolink",
			source: "see https://example.com/docs",
			want:   []string{`<a href="https://example.com/docs"`},
		},
		{
			name:   "fenced code block",
			source: "```\nfmt.Println(\"hi\")\n```",
			want:   []string{"<pre><code>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render([]byte(tt.source))
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("Render(%q) = %q, missing %q", tt.source, got, want)
				}
			}
		})
	}
}

func TestRender_EscapesRawHTML(t *testing.T) {
	got, err := Render([]byte(`<script>alert("x")</script>`))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("raw script tag passed through: %q", got)
	}
}

func TestRender_EmptySource(t *testing.T) {
	got, err := Render(nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.TrimSpace(got) != "" {
		t.Errorf("Render(nil) = %q, want empty", got)
	}
}
