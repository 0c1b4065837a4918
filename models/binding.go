package models

// Repository binding kinds.
const (
	RepoCloned = "cloned"
	RepoLocal  = "local"
)

// RepositoryBinding maps a user-facing alias to a working directory.
type RepositoryBinding struct {
	Alias       string `json:"alias"                db:"alias"`
	Kind        string `json:"kind"                 db:"kind"` // cloned | local
	WorkingDir  string `json:"working_dir"          db:"working_dir"`
	RemoteURL   string `json:"remote_url,omitempty" db:"remote_url"`
	Branch      string `json:"branch,omitempty"     db:"branch"`
	Tracked     bool   `json:"tracked"              db:"tracked"`
	Active      bool   `json:"active"               db:"active"`
	ConnectedAt string `json:"connected_at"         db:"connected_at"`
	LastPull    string `json:"last_pull,omitempty"  db:"last_pull"`
}

// TreeNode is one entry in a repository file-tree listing.
type TreeNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Dir      bool       `json:"dir"`
	Size     int64      `json:"size,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// ScanTask is a candidate follow-up surfaced by a repository scan
// (a TODO/FIXME/HACK/BUG comment with its location).
type ScanTask struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Marker string `json:"marker"`
	Text   string `json:"text"`
}

// ScanResult is the outcome of a read-only repository scan.
type ScanResult struct {
	Alias  string     `json:"alias"`
	Tasks  []ScanTask `json:"tasks"`
	Issues []string   `json:"issues"`
}
