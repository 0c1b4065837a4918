package validate

import (
	"strings"
	"testing"
)

func TestExtractBlocksNamedFiles(t *testing.T) {
	blob := "Here is the implementation.\n" +
		"# File: greeter.go\n" +
		"```go\n" +
		"package greeter\n\nfunc Hello() string { return \"hi\" }\n" +
		"```\n" +
		"And the test.\n" +
		"# File: greeter_test.go\n" +
		"```go\n" +
		"package greeter\n" +
		"```\n"

	blocks := ExtractBlocks(blob, "main.go")
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Filename != "greeter.go" || blocks[1].Filename != "greeter_test.go" {
		t.Fatalf("unexpected filenames: %q, %q", blocks[0].Filename, blocks[1].Filename)
	}
	if !strings.Contains(blocks[0].Source, "func Hello()") {
		t.Fatalf("source lost: %q", blocks[0].Source)
	}
	if strings.Contains(blocks[0].Source, "```") {
		t.Fatalf("fence leaked into source: %q", blocks[0].Source)
	}
}

func TestExtractBlocksCommentStyleMarker(t *testing.T) {
	blob := "// File: util.go\n```\npackage util\n```\n"
	blocks := ExtractBlocks(blob, "main.go")
	if len(blocks) != 1 || blocks[0].Filename != "util.go" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}

func TestExtractBlocksUnnamedFenceUsesDefault(t *testing.T) {
	blob := "```go\npackage main\n\nfunc main() {}\n```\n"
	blocks := ExtractBlocks(blob, "app.go")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Filename != "app.go" {
		t.Fatalf("expected default filename, got %q", blocks[0].Filename)
	}
	if blocks[0].Source != "package main\n\nfunc main() {}" {
		t.Fatalf("language tag not stripped cleanly: %q", blocks[0].Source)
	}
}

func TestExtractBlocksConcatenatesSameFilename(t *testing.T) {
	blob := "# File: a.go\n```\nline one\n```\n# File: a.go\n```\nline two\n```\n"
	blocks := ExtractBlocks(blob, "main.go")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 merged block, got %d", len(blocks))
	}
	if blocks[0].Source != "line one\nline two" {
		t.Fatalf("unexpected merged source: %q", blocks[0].Source)
	}
}

func TestExtractBlocksUnterminatedFenceKept(t *testing.T) {
	blob := "# File: partial.go\n```\npackage partial\n"
	blocks := ExtractBlocks(blob, "main.go")
	if len(blocks) != 1 || blocks[0].Filename != "partial.go" {
		t.Fatalf("unterminated fence dropped: %+v", blocks)
	}
	if !strings.Contains(blocks[0].Source, "package partial") {
		t.Fatalf("payload lost: %q", blocks[0].Source)
	}
}

func TestExtractBlocksNoFencesWholeBlobIsDefaultFile(t *testing.T) {
	blob := "package main\n\nfunc main() {}\n"
	blocks := ExtractBlocks(blob, "main.go")
	if len(blocks) != 1 || blocks[0].Filename != "main.go" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}

func TestExtractBlocksEmptyInput(t *testing.T) {
	if blocks := ExtractBlocks("", "main.go"); len(blocks) != 0 {
		t.Fatalf("expected no blocks for empty input, got %+v", blocks)
	}
	if blocks := ExtractBlocks("   \n\t\n", "main.go"); len(blocks) != 0 {
		t.Fatalf("expected no blocks for whitespace input, got %+v", blocks)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	in := []Block{
		{Filename: "pkg/a.go", Source: "package pkg\n\nvar A = 1"},
		{Filename: "pkg/a_test.go", Source: "package pkg"},
	}
	out := ExtractBlocks(Render(in), "main.go")
	if len(out) != len(in) {
		t.Fatalf("round trip changed block count: %d != %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Filename != in[i].Filename {
			t.Errorf("block %d filename %q != %q", i, out[i].Filename, in[i].Filename)
		}
		if out[i].Source != in[i].Source {
			t.Errorf("block %d source changed:\n%q\n%q", i, out[i].Source, in[i].Source)
		}
	}
}
