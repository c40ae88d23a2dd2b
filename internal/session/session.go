// Package session holds the external-collaborator Session struct named in
// the core's data model: the id/work-dir/history-path triple the core is
// constructed with but never itself derives.
package session

import "github.com/google/uuid"

// Session identifies one running conversation and the filesystem context
// its tools and history operate within.
type Session struct {
	ID              string
	WorkDir         string
	HistoryFilePath string
}

// New constructs a Session with a fresh random ID.
func New(workDir, historyFilePath string) Session {
	return Session{
		ID:              uuid.NewString(),
		WorkDir:         workDir,
		HistoryFilePath: historyFilePath,
	}
}
