package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
)

func (gw *Gateway) handleListRepos(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"repositories": gw.repos.List(),
		"stats":        gw.repos.Stats(),
	})
}

type connectRepoRequest struct {
	URL    string `json:"url"`
	Path   string `json:"path"`
	Alias  string `json:"alias"`
	Branch string `json:"branch"`
	Init   bool   `json:"init"`
}

// handleConnectRepo connects a remote (url) or local (path) repository.
// Exactly one of url and path must be set.
func (gw *Gateway) handleConnectRepo(w http.ResponseWriter, r *http.Request) {
	var req connectRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	switch {
	case req.URL != "" && req.Path != "":
		writeError(w, http.StatusBadRequest, "set either url or path, not both")
		return
	case req.URL == "" && req.Path == "":
		writeError(w, http.StatusBadRequest, "url or path is required")
		return
	}

	if req.URL != "" {
		binding, err := gw.repos.ConnectRemote(r.Context(), req.URL, req.Alias, req.Branch)
		if err != nil {
			writeError(w, statusForRepoError(err), err.Error())
			return
		}
		gw.broadcaster.send(SSEEvent{Type: "repo.connected", Payload: binding})
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "repository": binding})
		return
	}

	binding, err := gw.repos.ConnectLocal(r.Context(), req.Path, req.Alias, req.Init)
	if err != nil {
		writeError(w, statusForRepoError(err), err.Error())
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "repo.connected", Payload: binding})
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "repository": binding})
}

func (gw *Gateway) handleDisconnectRepo(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	removeFiles := r.URL.Query().Get("remove_files") == "true"
	if err := gw.repos.Disconnect(r.Context(), alias, removeFiles); err != nil {
		writeError(w, statusForRepoError(err), err.Error())
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "repo.disconnected", Payload: map[string]string{"alias": alias}})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (gw *Gateway) handlePullRepo(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	if err := gw.repos.Pull(r.Context(), alias); err != nil {
		writeError(w, statusForRepoError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (gw *Gateway) handlePushRepo(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	var req struct {
		Message string `json:"message"`
	}
	// An empty body means "use the default commit message".
	_ = json.NewDecoder(r.Body).Decode(&req)

	outcome := gw.repos.CommitAndPush(r.Context(), alias, req.Message)
	if !outcome.OK {
		writeError(w, http.StatusConflict, outcome.Error)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "outcome": outcome})
}

func (gw *Gateway) handleScanRepo(w http.ResponseWriter, r *http.Request) {
	result, err := gw.repos.Scan(r.PathValue("alias"))
	if err != nil {
		writeError(w, statusForRepoError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "scan": result})
}

func (gw *Gateway) handleTreeRepo(w http.ResponseWriter, r *http.Request) {
	depth := queryInt(r, "depth", "3")
	tree, err := gw.repos.Tree(r.PathValue("alias"), depth)
	if err != nil {
		writeError(w, statusForRepoError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tree": tree})
}

func statusForRepoError(err error) int {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unknown repository"), strings.Contains(msg, "no repository"):
		return http.StatusNotFound
	case strings.Contains(msg, "already connected"), strings.Contains(msg, "limit"):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
