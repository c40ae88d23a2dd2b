// Package dmail implements the one-slot "D-Mail" mailbox: a deferred
// request to revert to a prior checkpoint and inject a replacement user
// message, named after and grounded on the revert-and-inject device in the
// original Java DenwaRenji type this core's lineage carries forward.
package dmail

import "sync"

// DMail is a pending revert-and-inject request.
type DMail struct {
	CheckpointID int
	Message      string
}

// Box is the single-slot, single-writer/single-reader mailbox the Loop
// Driver polls between steps.
type Box struct {
	mu      sync.Mutex
	pending *DMail
}

// New constructs an empty mailbox.
func New() *Box {
	return &Box{}
}

// Send validates 0 <= checkpointID < checkpointCount and stores the
// request, overwriting any prior pending mail. Returns false (and stores
// nothing) when checkpointID is out of range.
func (b *Box) Send(checkpointID int, message string, checkpointCount int) bool {
	if checkpointID < 0 || checkpointID >= checkpointCount {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = &DMail{CheckpointID: checkpointID, Message: message}
	return true
}

// Fetch atomically removes and returns any pending mail. ok is false when
// the box is empty.
func (b *Box) Fetch() (mail DMail, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return DMail{}, false
	}
	mail = *b.pending
	b.pending = nil
	return mail, true
}

// Clear drops any pending mail.
func (b *Box) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
}
