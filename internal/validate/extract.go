// Package validate turns raw model output into named source files, checks
// them syntactically, and runs the project test command in a throwaway
// workspace. It never touches a repository working tree.
package validate

import (
	"regexp"
	"strings"
)

// Block is one extracted virtual file.
type Block struct {
	Filename string
	Source   string
}

var fileMarkerRE = regexp.MustCompile(`^\s*(?:#|//)\s*File:\s*(\S.*?)\s*$`)

// languageTags are fence info strings stripped when they appear as the first
// payload line of a block.
var languageTags = map[string]struct{}{
	"go": {}, "golang": {}, "python": {}, "py": {}, "javascript": {}, "js": {},
	"typescript": {}, "ts": {}, "java": {}, "c": {}, "cpp": {}, "c++": {},
	"rust": {}, "ruby": {}, "sh": {}, "bash": {}, "shell": {}, "json": {},
	"yaml": {}, "yml": {}, "toml": {}, "sql": {}, "html": {}, "css": {},
	"text": {}, "plaintext": {},
}

// ExtractBlocks parses a generated text blob into an ordered list of named
// files. Rules:
//   - "# File: X" (or "// File: X") lines outside a fence start a new named file.
//   - Fenced blocks delimit payload; a leading language tag line is stripped.
//   - Payload with no preceding marker lands in defaultName.
//   - Multiple blocks for the same filename are concatenated in order.
//
// The function is total: any input, including garbage, yields a (possibly
// empty) result. It is also idempotent over its own rendered output.
func ExtractBlocks(blob, defaultName string) []Block {
	if defaultName == "" {
		defaultName = "main.go"
	}

	var (
		order   []string
		sources = map[string]*strings.Builder{}
		pending string
		inFence bool
		payload []string
	)

	appendBlock := func(name string, lines []string) {
		if len(lines) == 0 {
			return
		}
		if name == "" {
			name = defaultName
		}
		b, ok := sources[name]
		if !ok {
			b = &strings.Builder{}
			sources[name] = b
			order = append(order, name)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.Join(lines, "\n"))
	}

	lines := strings.Split(blob, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				appendBlock(pending, stripLanguageTag(payload))
				payload = nil
				pending = ""
				inFence = false
			} else {
				inFence = true
				payload = nil
			}
			continue
		}

		if inFence {
			payload = append(payload, line)
			continue
		}

		if m := fileMarkerRE.FindStringSubmatch(line); m != nil {
			pending = m[1]
		}
	}

	// Unterminated fence: keep what was collected rather than dropping it.
	if inFence {
		appendBlock(pending, stripLanguageTag(payload))
	}

	// No fences at all: treat the whole blob as one default file.
	if len(order) == 0 && strings.TrimSpace(blob) != "" {
		appendBlock(defaultName, lines)
	}

	out := make([]Block, 0, len(order))
	for _, name := range order {
		out = append(out, Block{Filename: name, Source: sources[name].String()})
	}
	return out
}

// Render rebuilds a blob from blocks in the marker+fence convention. Feeding
// the result back through ExtractBlocks yields the same blocks.
func Render(blocks []Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		b.WriteString("# File: " + blk.Filename + "\n```\n")
		b.WriteString(blk.Source)
		b.WriteString("\n```\n")
	}
	return b.String()
}

func stripLanguageTag(payload []string) []string {
	if len(payload) == 0 {
		return payload
	}
	first := strings.ToLower(strings.TrimSpace(payload[0]))
	if _, ok := languageTags[first]; ok {
		return payload[1:]
	}
	return payload
}
