package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/codeloop-agent/models"
)

// Changes to the task file settle for this long before a reload, so editors
// that write in several steps trigger one load, not five.
const taskFileDebounce = 2 * time.Second

// ParsedTask pairs a task parsed from a task file with whether its ID came
// from the file. Explicit IDs make repeated loads idempotent.
type ParsedTask struct {
	Task       models.Task
	ExplicitID bool
}

// LoadTaskFile parses path as a JSON or YAML task list and enqueues every
// entry not already known to the store. Returns the number enqueued.
func (s *Supervisor) LoadTaskFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading task file: %w", err)
	}

	parsed, err := ParseTaskList(raw, s.cfg.Workers.MaxRetries)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, p := range parsed {
		if p.ExplicitID {
			existing, err := s.store.TaskByID(ctx, p.Task.ID)
			if err != nil {
				return added, err
			}
			if existing != nil {
				continue
			}
		}
		if err := s.queue.Put(ctx, p.Task); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// ParseTaskList decodes a task list document, trying JSON first and YAML
// second.
//
// Accepted shapes: a top-level list, or a mapping with a "tasks" list.
// Entries are either plain strings (the description) or mappings with
// description/prompt, priority, task_id, target_repo and metadata keys.
// Malformed entries are skipped with a warning.
func ParseTaskList(raw []byte, defaultMaxRetries int) ([]ParsedTask, error) {
	var doc interface{}
	if jerr := json.Unmarshal(raw, &doc); jerr != nil {
		if yerr := yaml.Unmarshal(raw, &doc); yerr != nil {
			return nil, fmt.Errorf("task file is neither JSON (%v) nor YAML (%v)", jerr, yerr)
		}
	}

	entries, err := taskListOf(doc)
	if err != nil {
		return nil, err
	}

	var out []ParsedTask
	for i, entry := range entries {
		task, explicitID, err := taskFromEntry(entry, defaultMaxRetries)
		if err != nil {
			slog.Warn("supervisor: skipping task file entry", "index", i, "error", err)
			continue
		}
		out = append(out, ParsedTask{Task: task, ExplicitID: explicitID})
	}
	return out, nil
}

// taskListOf unwraps the two accepted top-level shapes.
func taskListOf(doc interface{}) ([]interface{}, error) {
	switch v := doc.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		if tasks, ok := v["tasks"].([]interface{}); ok {
			return tasks, nil
		}
		return nil, fmt.Errorf("task file mapping has no \"tasks\" list")
	default:
		return nil, fmt.Errorf("task file must be a list or a mapping with a \"tasks\" list")
	}
}

// taskFromEntry builds a pending task from one list element. explicitID is
// true when the entry carried its own task_id.
func taskFromEntry(entry interface{}, maxRetries int) (models.Task, bool, error) {
	switch v := entry.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return models.Task{}, false, fmt.Errorf("empty description")
		}
		return models.NewTask(v, 0, maxRetries), false, nil

	case map[string]interface{}:
		desc, _ := v["description"].(string)
		if desc == "" {
			desc, _ = v["prompt"].(string)
		}
		if strings.TrimSpace(desc) == "" {
			return models.Task{}, false, fmt.Errorf("entry has no description or prompt")
		}
		task := models.NewTask(desc, asInt(v["priority"]), maxRetries)
		explicitID := false
		if id, ok := v["task_id"].(string); ok && id != "" {
			task.ID = id
			explicitID = true
		}
		if repo, ok := v["target_repo"].(string); ok {
			task.TargetRepo = repo
		}
		if meta, ok := v["metadata"]; ok && meta != nil {
			raw, err := json.Marshal(meta)
			if err != nil {
				return models.Task{}, false, fmt.Errorf("metadata not serializable: %w", err)
			}
			task.Metadata = string(raw)
		}
		return task, explicitID, nil

	default:
		return models.Task{}, false, fmt.Errorf("unsupported entry type %T", entry)
	}
}

// asInt tolerates the numeric types the two decoders produce.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// taskFileWatcher reloads the task file after edits settle.
type taskFileWatcher struct {
	watcher *fsnotify.Watcher
}

// watchTaskFile watches the file's directory (editors replace files via
// rename, which drops a watch on the file itself) and calls reload after
// the debounce window.
func watchTaskFile(ctx context.Context, path string, reload func()) (*taskFileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(taskFileDebounce, reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("supervisor: task file watcher error", "error", err)
			}
		}
	}()

	slog.Info("supervisor: watching task file", "path", abs)
	return &taskFileWatcher{watcher: w}, nil
}

func (t *taskFileWatcher) close() {
	if t.watcher != nil {
		t.watcher.Close()
	}
}
