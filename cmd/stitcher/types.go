package main

// CLIResult is the top-level JSON envelope for every command.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLISymbol is a JSON-friendly symbol representation. Lines are 1-based,
// columns 0-based.
type CLISymbol struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Kind             string `json:"kind"`
	FQN              string `json:"fqn"`
	AliasTarget      string `json:"alias_target,omitempty"`
	File             string `json:"file,omitempty"`
	StartLine        int    `json:"start_line"`
	StartCol         int    `json:"start_col"`
	EndLine          int    `json:"end_line"`
	EndCol           int    `json:"end_col"`
	RefCount         int    `json:"ref_count"`
	ExternalRefCount int    `json:"external_ref_count"`
	InternalRefCount int    `json:"internal_ref_count"`
}

// CLIFile is a JSON-friendly indexed file.
type CLIFile struct {
	ID     int64  `json:"id"`
	Path   string `json:"path"`
	Hash   string `json:"content_hash"`
	Status string `json:"status"`
}

// CLICycle is one import cycle, first element repeated at the end.
type CLICycle struct {
	Nodes []string `json:"nodes"`
}

// CLIApply reports a planned or committed refactor.
type CLIApply struct {
	TxID    string   `json:"tx"`
	DryRun  bool     `json:"dry_run"`
	Ops     []CLIOp  `json:"ops"`
	Indexed *CLIStat `json:"reindexed,omitempty"`
}

// CLIOp is one file operation of a transaction.
type CLIOp struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Dest    string `json:"dest,omitempty"`
	Content string `json:"content,omitempty"`
}

// CLIStat is the short form of an indexing pass reported after a commit.
type CLIStat struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// CLILocation is a declaration site.
type CLILocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}
