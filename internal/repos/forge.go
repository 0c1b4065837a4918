package repos

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/oauth2"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
)

// forgeClient resolves repository metadata (currently just the default
// branch) from the hosting forge when a connect call leaves it unspecified.
type forgeClient struct {
	cfg config.GitConfig
}

// defaultBranch asks the forge for the repository's default branch. Returns
// "" when the host is not a known forge, no token is configured, or the
// lookup fails; callers fall back to the configured branch.
func (f *forgeClient) defaultBranch(ctx context.Context, repoURL string) string {
	owner, name := parseOwnerRepo(repoURL)
	if owner == "" || name == "" {
		return ""
	}

	host := urlHost(repoURL)
	switch {
	case host == "github.com" && f.cfg.GitHubToken != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: f.cfg.GitHubToken})
		client := gogithub.NewClient(oauth2.NewClient(ctx, ts))
		r, _, err := client.Repositories.Get(ctx, owner, name)
		if err != nil || r.DefaultBranch == nil {
			return ""
		}
		return r.GetDefaultBranch()

	case host == "gitlab.com" && f.cfg.GitLabToken != "":
		client, err := gitlab.NewClient(f.cfg.GitLabToken)
		if err != nil {
			return ""
		}
		proj, _, err := client.Projects.GetProject(owner+"/"+name, nil)
		if err != nil {
			return ""
		}
		return proj.DefaultBranch
	}
	return ""
}

// token returns the credential matching the URL's host, if any.
func (f *forgeClient) token(repoURL string) string {
	switch urlHost(repoURL) {
	case "github.com":
		return f.cfg.GitHubToken
	case "gitlab.com":
		return f.cfg.GitLabToken
	}
	return ""
}

func urlHost(repoURL string) string {
	u, err := url.Parse(repoURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// parseOwnerRepo extracts "owner" and "repo" from an HTTPS clone URL.
func parseOwnerRepo(repoURL string) (owner, repo string) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", ""
	}
	owner = parts[0]
	repo = strings.TrimSuffix(parts[len(parts)-1], ".git")
	return owner, repo
}

// aliasFromURL derives a default alias from the repository name.
func aliasFromURL(repoURL string) (string, error) {
	_, repo := parseOwnerRepo(repoURL)
	if repo == "" {
		return "", fmt.Errorf("cannot derive alias from %q", repoURL)
	}
	return repo, nil
}
