package repos

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/CosmoTheDev/codeloop-agent/models"
)

var todoMarkerRE = regexp.MustCompile(`\b(TODO|FIXME|HACK|BUG)\b[:\s]*(.*)`)

// Directories never descended into during a scan or tree walk.
var skippedDirs = map[string]struct{}{
	"vendor": {}, "node_modules": {}, "dist": {}, "build": {},
	"target": {}, "__pycache__": {}, "bin": {},
}

var sourceExtensions = map[string]struct{}{
	".go": {}, ".py": {}, ".js": {}, ".ts": {}, ".java": {}, ".c": {},
	".cpp": {}, ".h": {}, ".rs": {}, ".rb": {}, ".sh": {},
}

const maxScanFileSize = 1 << 20 // files larger than 1 MiB are skipped

// Scan walks the alias's working tree read-only, collecting TODO-style
// markers as candidate tasks plus heuristic repository issues. Hidden
// directories and common vendor/build trees are skipped.
func (r *Registry) Scan(alias string) (models.ScanResult, error) {
	dir, err := r.WorkingDir(alias)
	if err != nil {
		return models.ScanResult{}, err
	}

	result := models.ScanResult{Alias: alias, Tasks: []models.ScanTask{}, Issues: []string{}}

	var (
		sourceFiles int
		hasReadme   bool
		hasManifest bool
	)

	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir {
				if strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				if _, skip := skippedDirs[name]; skip {
					return filepath.SkipDir
				}
			}
			return nil
		}

		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "readme") {
			hasReadme = true
		}
		switch lower {
		case "go.mod", "package.json", "requirements.txt", "pyproject.toml", "cargo.toml", "gemfile":
			hasManifest = true
		}

		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := sourceExtensions[ext]; !ok {
			return nil
		}
		sourceFiles++

		info, err := d.Info()
		if err != nil || info.Size() > maxScanFileSize {
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		result.Tasks = append(result.Tasks, scanFileMarkers(path, rel)...)
		return nil
	})
	if walkErr != nil {
		return result, fmt.Errorf("scanning %s: %w", alias, walkErr)
	}

	if !hasReadme {
		result.Issues = append(result.Issues, "no README found")
	}
	if sourceFiles > 0 && !hasManifest {
		result.Issues = append(result.Issues, "source files present but no dependency manifest found")
	}
	return result, nil
}

func scanFileMarkers(path, rel string) []models.ScanTask {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var tasks []models.ScanTask
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if m := todoMarkerRE.FindStringSubmatch(line); m != nil {
			tasks = append(tasks, models.ScanTask{
				File:   rel,
				Line:   lineNo,
				Marker: m[1],
				Text:   strings.TrimSpace(m[2]),
			})
		}
	}
	return tasks
}

// Tree returns a nested listing of the alias's working tree down to maxDepth
// levels (1 = the top level only).
func (r *Registry) Tree(alias string, maxDepth int) ([]models.TreeNode, error) {
	dir, err := r.WorkingDir(alias)
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return listTree(dir, "", maxDepth)
}

func listTree(dir, relBase string, depth int) ([]models.TreeNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var nodes []models.TreeNode
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, skip := skippedDirs[name]; skip && e.IsDir() {
			continue
		}
		rel := filepath.Join(relBase, name)
		node := models.TreeNode{Name: name, Path: rel, Dir: e.IsDir()}
		if e.IsDir() {
			if depth > 1 {
				children, err := listTree(filepath.Join(dir, name), rel, depth-1)
				if err == nil {
					node.Children = children
				}
			}
		} else if info, err := e.Info(); err == nil {
			node.Size = info.Size()
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
