package server

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ProjectInfo describes one project in listings.
type ProjectInfo struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	ReadDirs   []string          `json:"read_dirs"`
	WriteDir   string            `json:"write_dir"`
	StagingDir string            `json:"staging_dir"`
	Aliases    map[string]string `json:"aliases,omitempty"`
}

// AskRequest is the body of POST /ask and /ask/stream.
type AskRequest struct {
	Prompt string `json:"prompt"`
}

// PromoteRequest is the body of POST /promote.
type PromoteRequest struct {
	Path      string `json:"path"`
	Overwrite bool   `json:"overwrite"`
}

// DiffResponse carries a unified diff for one staged file.
type DiffResponse struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}
