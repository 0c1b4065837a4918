package repos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/CosmoTheDev/codeloop-agent/models"
)

// CommitOutcome describes one commit-and-push attempt. Git-level failures
// land in Error with OK=false; a clean tree is OK with Noop=true; a missing
// remote is OK with Remoteless=true.
type CommitOutcome struct {
	OK         bool   `json:"ok"`
	Commit     string `json:"commit,omitempty"`
	Noop       bool   `json:"noop,omitempty"`
	Remoteless bool   `json:"remoteless,omitempty"`
	Pushed     bool   `json:"pushed,omitempty"`
	Error      string `json:"error,omitempty"`
}

const defaultGitignore = `# Build artifacts
bin/
dist/
*.test

# Agent state
state.json
*.db
.env
`

// clone shallow-clones url into dest on the given branch.
func (r *Registry) clone(ctx context.Context, repoURL, branch, dest string) error {
	opts := &gogit.CloneOptions{
		URL:   repoURL,
		Depth: 1, // shallow clone for speed
	}
	if token := r.forge.token(repoURL); token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "codeloop", Password: token}
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}

	slog.Debug("repos: cloning", "url", repoURL, "branch", branch, "dest", dest)
	if _, err := gogit.PlainCloneContext(ctx, dest, false, opts); err != nil {
		os.RemoveAll(dest)
		return fmt.Errorf("cloning %s: %w", repoURL, err)
	}
	return nil
}

// initRepo initializes version control in dir and lays down an initial
// commit so the branch reference exists.
func (r *Registry) initRepo(dir, branch string) error {
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(branchOrMain(branch)),
		},
	})
	if err != nil {
		return fmt.Errorf("initializing repository: %w", err)
	}

	gitignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		if err := os.WriteFile(gitignore, []byte(defaultGitignore), 0o644); err != nil {
			return fmt.Errorf("writing .gitignore: %w", err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if _, err := wt.Add(".gitignore"); err != nil {
		return fmt.Errorf("staging .gitignore: %w", err)
	}
	if _, err := wt.Commit("Initial commit", &gogit.CommitOptions{Author: r.signature()}); err != nil {
		return fmt.Errorf("creating initial commit: %w", err)
	}
	return nil
}

// isTracked reports whether dir is a git working tree.
func isTracked(dir string) bool {
	_, err := gogit.PlainOpen(dir)
	return err == nil
}

// pull fast-forwards the working tree from origin.
func (r *Registry) pull(ctx context.Context, binding models.RepositoryBinding) error {
	repo, err := gogit.PlainOpen(binding.WorkingDir)
	if err != nil {
		return fmt.Errorf("opening %s: %w", binding.Alias, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	opts := &gogit.PullOptions{RemoteName: "origin"}
	if token := r.forge.token(binding.RemoteURL); token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "codeloop", Password: token}
	}
	if err := wt.PullContext(ctx, opts); err != nil {
		if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("pulling %s: %w", binding.Alias, err)
	}
	return nil
}

// commitAndPush stages everything, commits iff the tree is dirty, and pushes
// when a remote exists. Errors are folded into the outcome; this never
// returns a Go error because callers treat every result as data.
func (r *Registry) commitAndPush(ctx context.Context, dir, message string, autoPush bool) CommitOutcome {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return CommitOutcome{Error: fmt.Sprintf("opening repository: %v", err)}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return CommitOutcome{Error: fmt.Sprintf("opening worktree: %v", err)}
	}

	status, err := wt.Status()
	if err != nil {
		return CommitOutcome{Error: fmt.Sprintf("reading status: %v", err)}
	}
	if status.IsClean() {
		return CommitOutcome{OK: true, Noop: true}
	}

	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return CommitOutcome{Error: fmt.Sprintf("staging changes: %v", err)}
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: r.signature()})
	if err != nil {
		return CommitOutcome{Error: fmt.Sprintf("committing: %v", err)}
	}

	out := CommitOutcome{OK: true, Commit: hash.String()}
	if !autoPush {
		return out
	}

	remotes, err := repo.Remotes()
	if err != nil || len(remotes) == 0 {
		out.Remoteless = true
		return out
	}

	pushOpts := &gogit.PushOptions{RemoteName: "origin"}
	urls := remotes[0].Config().URLs
	if len(urls) > 0 {
		if token := r.forge.token(urls[0]); token != "" {
			pushOpts.Auth = &githttp.BasicAuth{Username: "codeloop", Password: token}
		}
	}
	if err := repo.PushContext(ctx, pushOpts); err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		// The commit exists locally; a failed push degrades, not fails.
		out.Error = fmt.Sprintf("pushing: %v", err)
		return out
	}
	out.Pushed = true
	return out
}

// recentCommits walks the log from HEAD.
func recentCommits(dir string, limit int) ([]models.CommitRecord, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	iter, err := repo.Log(&gogit.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	var out []models.CommitRecord
	err = iter.ForEach(func(c *object.Commit) error {
		out = append(out, models.CommitRecord{
			CommitHash: c.Hash.String(),
			Message:    c.Message,
			CreatedAt:  c.Author.When.UTC().Format(time.RFC3339),
		})
		if len(out) >= limit {
			return errStopIteration
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("walking log: %w", err)
	}
	return out, nil
}

var errStopIteration = errors.New("stop iteration")

func (r *Registry) signature() *object.Signature {
	return &object.Signature{
		Name:  r.gitCfg.AuthorName,
		Email: r.gitCfg.AuthorEmail,
		When:  time.Now(),
	}
}

func branchOrMain(branch string) string {
	if branch == "" {
		return "main"
	}
	return branch
}
