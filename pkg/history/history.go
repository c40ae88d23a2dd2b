// Package history implements the durable, append-only conversation
// context: a JSONL history file, in-memory replay, checkpointing and
// revert-with-rotation. Grounded on the teacher's pkg/agent/state package
// (which held history in memory only) generalized to the crash-safe,
// file-backed Context Store this core requires.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/message"
)

// Record role tags beyond ordinary message roles.
const (
	recordUsage      = "_usage"
	recordCheckpoint = "_checkpoint"
)

type roleProbe struct {
	Role string `json:"role"`
}

type usageRecord struct {
	Role       string `json:"role"`
	TokenCount int    `json:"token_count"`
}

type checkpointRecord struct {
	Role string `json:"role"`
	ID   int    `json:"id"`
}

// Store is the single-writer, file-backed Context Store for one session.
// Concurrent callers must serialize through the Loop Driver.
type Store struct {
	mu sync.Mutex
	p  string
	f  *os.File

	messages          []message.Message
	checkpointBounds  []int // messages len at the moment checkpoint i was created
	checkpointCount   int
	tokenCount        int
	lastRecordIsCheck bool
}

// New constructs a Store bound to path; it does not create parent
// directories.
func New(path string) *Store {
	return &Store{p: path}
}

// Path returns the current history file path.
func (s *Store) Path() string { return s.p }

// History returns a read-only snapshot of the in-memory message sequence.
func (s *Store) History() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// CheckpointCount returns the number of checkpoints created so far.
func (s *Store) CheckpointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointCount
}

// TokenCount returns the current in-memory token count.
func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCount
}

// PrefixBeforeLastCheckpoint returns the messages preceding the boundary
// of the most recently created checkpoint, i.e. the slice Compact would
// summarize. Returns nil if no checkpoint exists yet.
func (s *Store) PrefixBeforeLastCheckpoint() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpointCount == 0 {
		return nil
	}
	boundary := s.checkpointBounds[s.checkpointCount-1]
	out := make([]message.Message, boundary)
	copy(out, s.messages[:boundary])
	return out
}

func (s *Store) openAppendLocked() error {
	if s.f != nil {
		return nil
	}
	f, err := os.OpenFile(s.p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open history file %s", s.p)
	}
	s.f = f
	return nil
}

func (s *Store) writeLineLocked(line []byte) error {
	if err := s.openAppendLocked(); err != nil {
		return err
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "write history record")
	}
	return nil
}

// Append writes one message record: the durable line first, then the
// in-memory history. If the write fails, the in-memory history is left
// unchanged; a crash can only lose the tail line, per the best-effort
// line-oriented write contract.
func (s *Store) Append(m message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := message.MarshalMessage(m)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	if err := s.writeLineLocked(raw); err != nil {
		return err
	}
	s.messages = append(s.messages, m)
	s.lastRecordIsCheck = false
	return nil
}

// UpdateTokenCount sets the in-memory token count and appends a _usage
// record.
func (s *Store) UpdateTokenCount(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(usageRecord{Role: recordUsage, TokenCount: n})
	if err != nil {
		return errors.Wrap(err, "marshal usage record")
	}
	if err := s.writeLineLocked(raw); err != nil {
		return err
	}
	s.tokenCount = n
	s.lastRecordIsCheck = false
	return nil
}

// Checkpoint appends a _checkpoint record and returns its id. When
// ensureProgress is true and the most recently written record is already a
// checkpoint, no new record is written and the prior id is returned.
func (s *Store) Checkpoint(ensureProgress bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ensureProgress && s.lastRecordIsCheck && s.checkpointCount > 0 {
		return s.checkpointCount - 1, nil
	}
	id := s.checkpointCount
	raw, err := json.Marshal(checkpointRecord{Role: recordCheckpoint, ID: id})
	if err != nil {
		return 0, errors.Wrap(err, "marshal checkpoint record")
	}
	if err := s.writeLineLocked(raw); err != nil {
		return 0, err
	}
	s.checkpointBounds = append(s.checkpointBounds, len(s.messages))
	s.checkpointCount++
	s.lastRecordIsCheck = true
	return id, nil
}

// RevertTo rewinds the store to the boundary of checkpoint k. Per
// invariant I4, the pre-revert file is rotated (renamed) before the new
// current file is written; no data is destroyed. If k equals the current
// checkpoint count this is a content no-op that still rotates, per §4.5.
func (s *Store) RevertTo(k int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k < 0 || k > s.checkpointCount {
		return errors.Errorf("revert_to(%d): out of range [0,%d]", k, s.checkpointCount)
	}

	boundaryMsgs := len(s.messages)
	if k < len(s.checkpointBounds) {
		boundaryMsgs = s.checkpointBounds[k]
	}

	newMessages := append([]message.Message(nil), s.messages[:boundaryMsgs]...)
	newBounds := append([]int(nil), s.checkpointBounds[:k]...)

	if err := s.rotateLocked(); err != nil {
		return err
	}

	s.messages = newMessages
	s.checkpointBounds = newBounds
	s.checkpointCount = k
	s.tokenCount = 0
	s.lastRecordIsCheck = false

	return s.rewriteCurrentLocked()
}

// Compact replaces the history prefix preceding the most recent checkpoint
// with a single summary Message, rotating the old file and rewriting a new
// one with {summary, tail} per §4.7. It never splits a tool-call/tool-result
// pair because the boundary it collapses to is always a checkpoint
// boundary, and checkpoints are only created between steps (§4.7 rule 5),
// never mid-dispatch.
func (s *Store) Compact(summary message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpointCount == 0 {
		return errors.New("compact: no checkpoint to compact before")
	}
	boundary := s.checkpointBounds[s.checkpointCount-1]

	tail := append([]message.Message(nil), s.messages[boundary:]...)
	newMessages := append([]message.Message{summary}, tail...)

	newBounds := make([]int, len(s.checkpointBounds))
	for i, b := range s.checkpointBounds {
		if b <= boundary {
			newBounds[i] = 1
		} else {
			newBounds[i] = b - boundary + 1
		}
	}

	if err := s.rotateLocked(); err != nil {
		return err
	}

	s.messages = newMessages
	s.checkpointBounds = newBounds
	s.tokenCount = 0
	s.lastRecordIsCheck = false

	return s.rewriteCurrentLocked()
}

// rotateLocked renames the current file (if it exists) to the smallest
// unused `<path>.<R>` sibling, R >= 1, per the Open Questions resolution in
// §9(c) of the spec this store implements.
func (s *Store) rotateLocked() error {
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
	if _, err := os.Stat(s.p); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "stat history file")
	}

	r := 1
	for {
		sibling := fmt.Sprintf("%s.%d", s.p, r)
		if _, err := os.Stat(sibling); os.IsNotExist(err) {
			if err := os.Rename(s.p, sibling); err != nil {
				return errors.Wrapf(err, "rotate history file to %s", sibling)
			}
			return nil
		}
		r++
	}
}

// rewriteCurrentLocked writes a fresh current file containing exactly the
// in-memory state (messages interleaved with checkpoint records at their
// recorded boundaries; no _usage records are replayed since token count is
// reset to 0 on revert).
func (s *Store) rewriteCurrentLocked() error {
	f, err := os.OpenFile(s.p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create history file %s", s.p)
	}
	w := bufio.NewWriter(f)

	cpIdx := 0
	for i, m := range s.messages {
		for cpIdx < len(s.checkpointBounds) && s.checkpointBounds[cpIdx] == i {
			if err := writeCheckpointLine(w, cpIdx); err != nil {
				_ = f.Close()
				return err
			}
			cpIdx++
		}
		raw, err := message.MarshalMessage(m)
		if err != nil {
			_ = f.Close()
			return errors.Wrap(err, "marshal message")
		}
		if _, err := w.Write(append(raw, '\n')); err != nil {
			_ = f.Close()
			return errors.Wrap(err, "write history record")
		}
	}
	for cpIdx < len(s.checkpointBounds) {
		if err := writeCheckpointLine(w, cpIdx); err != nil {
			_ = f.Close()
			return err
		}
		cpIdx++
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "flush history file")
	}
	s.f = f
	s.lastRecordIsCheck = len(s.checkpointBounds) > 0 && s.checkpointBounds[len(s.checkpointBounds)-1] == len(s.messages)
	return nil
}

func writeCheckpointLine(w *bufio.Writer, id int) error {
	raw, err := json.Marshal(checkpointRecord{Role: recordCheckpoint, ID: id})
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint record")
	}
	_, err = w.Write(append(raw, '\n'))
	return errors.Wrap(err, "write checkpoint record")
}

// Restore replays the history file into memory. It returns false (not an
// error) if the file is missing, empty, or contains only blank lines.
// Lines that fail to parse are skipped with a diagnostic.
func (s *Store) Restore() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}

	f, err := os.Open(s.p)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "open history file %s", s.p)
	}
	defer f.Close()

	var (
		messages []message.Message
		bounds   []int
		cpCount  int
		tokens   int
		sawLine  bool
		lastIsCP bool
	)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		sawLine = true

		var probe roleProbe
		if err := json.Unmarshal(line, &probe); err != nil {
			fmt.Fprintf(os.Stderr, "history: skipping unparsable line: %v\n", err)
			continue
		}

		switch probe.Role {
		case recordUsage:
			var u usageRecord
			if err := json.Unmarshal(line, &u); err != nil {
				fmt.Fprintf(os.Stderr, "history: skipping malformed usage record: %v\n", err)
				continue
			}
			tokens = u.TokenCount
			lastIsCP = false
		case recordCheckpoint:
			var c checkpointRecord
			if err := json.Unmarshal(line, &c); err != nil {
				fmt.Fprintf(os.Stderr, "history: skipping malformed checkpoint record: %v\n", err)
				continue
			}
			bounds = append(bounds, len(messages))
			cpCount++
			lastIsCP = true
		case "user", "assistant", "tool", "system":
			m, err := message.UnmarshalMessage(line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "history: skipping malformed message record: %v\n", err)
				continue
			}
			messages = append(messages, m)
			lastIsCP = false
		default:
			fmt.Fprintf(os.Stderr, "history: skipping record with unknown role %q\n", probe.Role)
		}
	}
	if err := sc.Err(); err != nil {
		return false, errors.Wrap(err, "scan history file")
	}
	if !sawLine {
		return false, nil
	}

	s.messages = messages
	s.checkpointBounds = bounds
	s.checkpointCount = cpCount
	s.tokenCount = tokens
	s.lastRecordIsCheck = lastIsCP
	return true, nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		err := s.f.Close()
		s.f = nil
		return err
	}
	return nil
}
