// Package repos implements the repository registry: durable alias → working
// directory bindings, version-control primitives over go-git, and the
// read-only scan that surfaces candidate follow-up tasks.
package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

const sidecarName = "connected_repos.json"

// sidecar is the JSON file mirroring the bindings, kept human-readable next
// to the cloned repositories.
type sidecar struct {
	Repositories map[string]models.RepositoryBinding `json:"repositories"`
	LastUpdated  string                              `json:"last_updated"`
}

// Registry owns the alias → binding map. All mutations are serialized
// through one mutex; per-alias write locks (LockAlias) serialize working-tree
// mutations so two workers never write the same repository concurrently.
type Registry struct {
	mu       sync.Mutex
	bindings map[string]models.RepositoryBinding
	reserved map[string]struct{} // aliases mid-connect, not yet bound

	lockMu     sync.Mutex
	aliasLocks map[string]*sync.Mutex

	baseDir    string
	defaultDir string
	maxRepos   int
	gitCfg     config.GitConfig
	forge      *forgeClient
	store      *store.Store
}

// New loads the sidecar (if present) and prepares the base directory.
// defaultDir is the implicit repository used by tasks without a target.
func New(reposCfg config.ReposConfig, gitCfg config.GitConfig, st *store.Store, defaultDir string) (*Registry, error) {
	if err := os.MkdirAll(reposCfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating repos base directory: %w", err)
	}

	r := &Registry{
		bindings:   map[string]models.RepositoryBinding{},
		reserved:   map[string]struct{}{},
		aliasLocks: map[string]*sync.Mutex{},
		baseDir:    reposCfg.BaseDir,
		defaultDir: defaultDir,
		maxRepos:   reposCfg.MaxConnected,
		gitCfg:     gitCfg,
		forge:      &forgeClient{cfg: gitCfg},
		store:      st,
	}

	if err := r.loadSidecar(); err != nil {
		return nil, err
	}
	return r, nil
}

// ConnectRemote clones url into {base}/{alias} and records the binding.
// When branch is empty the forge's default branch is used if resolvable,
// otherwise the configured branch.
func (r *Registry) ConnectRemote(ctx context.Context, repoURL, alias, branch string) (models.RepositoryBinding, error) {
	if alias == "" {
		derived, err := aliasFromURL(repoURL)
		if err != nil {
			return models.RepositoryBinding{}, err
		}
		alias = derived
	}

	if err := r.reserveAlias(alias); err != nil {
		return models.RepositoryBinding{}, err
	}
	defer r.releaseAlias(alias)

	if branch == "" {
		branch = r.forge.defaultBranch(ctx, repoURL)
	}
	if branch == "" {
		branch = branchOrMain(r.gitCfg.Branch)
	}

	dest := filepath.Join(r.baseDir, alias)
	if err := r.clone(ctx, repoURL, branch, dest); err != nil {
		return models.RepositoryBinding{}, err
	}

	binding := models.RepositoryBinding{
		Alias:       alias,
		Kind:        models.RepoCloned,
		WorkingDir:  dest,
		RemoteURL:   repoURL,
		Branch:      branch,
		Tracked:     true,
		Active:      true,
		ConnectedAt: models.NowRFC3339(),
	}
	if err := r.saveBinding(ctx, binding); err != nil {
		return models.RepositoryBinding{}, err
	}

	slog.Info("repos: connected remote", "alias", alias, "url", repoURL, "branch", branch)
	return binding, nil
}

// ConnectLocal binds an existing directory, optionally initializing version
// control in it.
func (r *Registry) ConnectLocal(ctx context.Context, path, alias string, initGit bool) (models.RepositoryBinding, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.RepositoryBinding{}, fmt.Errorf("resolving %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return models.RepositoryBinding{}, fmt.Errorf("directory %q does not exist", abs)
	}
	if alias == "" {
		alias = filepath.Base(abs)
	}

	if err := r.reserveAlias(alias); err != nil {
		return models.RepositoryBinding{}, err
	}
	defer r.releaseAlias(alias)

	tracked := isTracked(abs)
	if !tracked && initGit {
		if err := r.initRepo(abs, r.gitCfg.Branch); err != nil {
			return models.RepositoryBinding{}, err
		}
		tracked = true
	}

	binding := models.RepositoryBinding{
		Alias:       alias,
		Kind:        models.RepoLocal,
		WorkingDir:  abs,
		Branch:      r.gitCfg.Branch,
		Tracked:     tracked,
		Active:      true,
		ConnectedAt: models.NowRFC3339(),
	}
	if err := r.saveBinding(ctx, binding); err != nil {
		return models.RepositoryBinding{}, err
	}

	slog.Info("repos: connected local", "alias", alias, "path", abs, "tracked", tracked)
	return binding, nil
}

// Disconnect removes the binding; cloned working trees are deleted only when
// removeFiles is set.
func (r *Registry) Disconnect(ctx context.Context, alias string, removeFiles bool) error {
	r.mu.Lock()
	binding, ok := r.bindings[alias]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown repository %q", alias)
	}
	delete(r.bindings, alias)
	err := r.writeSidecarLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if dbErr := r.store.DB().Exec(ctx, `DELETE FROM repo_bindings WHERE alias = ?`, alias); dbErr != nil {
		slog.Warn("repos: failed to remove binding row", "alias", alias, "error", dbErr)
	}

	if removeFiles && binding.Kind == models.RepoCloned {
		if rmErr := os.RemoveAll(binding.WorkingDir); rmErr != nil {
			return fmt.Errorf("removing %s: %w", binding.WorkingDir, rmErr)
		}
	}

	slog.Info("repos: disconnected", "alias", alias, "removed_files", removeFiles && binding.Kind == models.RepoCloned)
	return nil
}

// Pull updates the working tree from its remote and stamps last_pull.
func (r *Registry) Pull(ctx context.Context, alias string) error {
	binding, err := r.Get(alias)
	if err != nil {
		return err
	}
	if !binding.Tracked {
		return fmt.Errorf("repository %q is not version-controlled", alias)
	}
	if binding.RemoteURL == "" && binding.Kind == models.RepoLocal {
		return fmt.Errorf("repository %q has no remote", alias)
	}

	unlock := r.LockAlias(alias)
	defer unlock()

	if err := r.pull(ctx, binding); err != nil {
		return err
	}

	binding.LastPull = models.NowRFC3339()
	return r.saveBinding(ctx, binding)
}

// CommitAndPush stages all changes in the alias's working tree, commits iff
// dirty, and pushes when configured and a remote exists.
func (r *Registry) CommitAndPush(ctx context.Context, alias, message string) CommitOutcome {
	binding, err := r.Get(alias)
	if err != nil {
		return CommitOutcome{Error: err.Error()}
	}
	if !binding.Tracked {
		return CommitOutcome{Error: fmt.Sprintf("repository %q is not version-controlled", alias)}
	}
	if message == "" {
		message = "codeloop: automated commit"
	}

	unlock := r.LockAlias(alias)
	defer unlock()
	return r.commitAndPush(ctx, binding.WorkingDir, message, r.gitCfg.AutoPush)
}

// CommitDir commits the default (alias-less) repository. The caller must
// already hold the default alias lock.
func (r *Registry) CommitDir(ctx context.Context, dir, message string) CommitOutcome {
	if !isTracked(dir) {
		return CommitOutcome{Error: fmt.Sprintf("directory %q is not version-controlled", dir)}
	}
	return r.commitAndPush(ctx, dir, message, r.gitCfg.AutoPush)
}

// RecentCommits lists the newest commits for alias ("" = default repository).
func (r *Registry) RecentCommits(alias string, limit int) ([]models.CommitRecord, error) {
	dir, err := r.WorkingDir(alias)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	return recentCommits(dir, limit)
}

// SetActive toggles the binding's active flag.
func (r *Registry) SetActive(ctx context.Context, alias string, active bool) error {
	binding, err := r.Get(alias)
	if err != nil {
		return err
	}
	binding.Active = active
	return r.saveBinding(ctx, binding)
}

// Get returns the binding for alias.
func (r *Registry) Get(alias string) (models.RepositoryBinding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	binding, ok := r.bindings[alias]
	if !ok {
		return models.RepositoryBinding{}, fmt.Errorf("unknown repository %q", alias)
	}
	return binding, nil
}

// List returns all bindings, stable by alias.
func (r *Registry) List() []models.RepositoryBinding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.RepositoryBinding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	sortBindings(out)
	return out
}

// WorkingDir resolves alias to its working directory. The empty alias means
// the implicit default repository.
func (r *Registry) WorkingDir(alias string) (string, error) {
	if alias == "" {
		return r.defaultDir, nil
	}
	binding, err := r.Get(alias)
	if err != nil {
		return "", err
	}
	return binding.WorkingDir, nil
}

// LockAlias acquires the per-alias write lock and returns the unlock func.
// The empty alias locks the implicit default repository.
func (r *Registry) LockAlias(alias string) func() {
	r.lockMu.Lock()
	l, ok := r.aliasLocks[alias]
	if !ok {
		l = &sync.Mutex{}
		r.aliasLocks[alias] = l
	}
	r.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}

// reserveAlias claims alias for an in-flight connect so two concurrent
// connects cannot both pass the exists/limit check. The reservation counts
// toward the connection limit and is released once the binding is saved or
// the connect fails.
func (r *Registry) reserveAlias(alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[alias]; exists {
		return fmt.Errorf("alias %q already connected", alias)
	}
	if _, exists := r.reserved[alias]; exists {
		return fmt.Errorf("alias %q already connected", alias)
	}
	if r.maxRepos > 0 && len(r.bindings)+len(r.reserved) >= r.maxRepos {
		return fmt.Errorf("repository limit reached (%d)", r.maxRepos)
	}
	r.reserved[alias] = struct{}{}
	return nil
}

func (r *Registry) releaseAlias(alias string) {
	r.mu.Lock()
	delete(r.reserved, alias)
	r.mu.Unlock()
}

// Stats summarises the registry for the status API.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := 0
	cloned := 0
	for _, b := range r.bindings {
		if b.Active {
			active++
		}
		if b.Kind == models.RepoCloned {
			cloned++
		}
	}
	return map[string]interface{}{
		"connected": len(r.bindings),
		"active":    active,
		"cloned":    cloned,
		"base_dir":  r.baseDir,
	}
}

// --- persistence ---

func (r *Registry) saveBinding(ctx context.Context, binding models.RepositoryBinding) error {
	r.mu.Lock()
	r.bindings[binding.Alias] = binding
	err := r.writeSidecarLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if dbErr := r.store.DB().Upsert(ctx, "repo_bindings", binding, []string{"alias"}); dbErr != nil {
		slog.Warn("repos: failed to mirror binding", "alias", binding.Alias, "error", dbErr)
	}
	return nil
}

func (r *Registry) loadSidecar() error {
	path := filepath.Join(r.baseDir, sidecarName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", sidecarName, err)
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("parsing %s: %w", sidecarName, err)
	}
	for alias, b := range sc.Repositories {
		b.Alias = alias
		r.bindings[alias] = b
	}
	return nil
}

func (r *Registry) writeSidecarLocked() error {
	sc := sidecar{Repositories: r.bindings, LastUpdated: models.NowRFC3339()}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling sidecar: %w", err)
	}
	path := filepath.Join(r.baseDir, sidecarName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", sidecarName, err)
	}
	return nil
}

func sortBindings(list []models.RepositoryBinding) {
	sort.Slice(list, func(i, j int) bool { return list[i].Alias < list[j].Alias })
}
