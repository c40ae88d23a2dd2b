package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leavesfly/jimi/pkg/message"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "history.jsonl")
}

func TestAppendAndHistory(t *testing.T) {
	s := New(tempStorePath(t))
	defer s.Close()

	if err := s.Append(message.NewUserMessage("hi")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(message.NewAssistantMessage([]message.ContentPart{message.TextPart("hello")})); err != nil {
		t.Fatalf("append: %v", err)
	}

	got := s.History()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Text() != "hi" || got[1].Text() != "hello" {
		t.Fatalf("unexpected history contents: %+v", got)
	}
}

func TestHistoryReturnsACopy(t *testing.T) {
	s := New(tempStorePath(t))
	defer s.Close()
	_ = s.Append(message.NewUserMessage("a"))

	snapshot := s.History()
	snapshot[0] = message.NewUserMessage("mutated")

	if s.History()[0].Text() != "a" {
		t.Fatal("expected History() to return an independent copy")
	}
}

func TestCheckpointIdsAreDenseAndIncreasing(t *testing.T) {
	s := New(tempStorePath(t))
	defer s.Close()
	_ = s.Append(message.NewUserMessage("a"))

	id0, err := s.Checkpoint(false)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	_ = s.Append(message.NewUserMessage("b"))
	id1, err := s.Checkpoint(false)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if id0 != 0 || id1 != 1 {
		t.Fatalf("expected checkpoint ids 0,1, got %d,%d", id0, id1)
	}
	if s.CheckpointCount() != 2 {
		t.Fatalf("expected checkpoint count 2, got %d", s.CheckpointCount())
	}
}

func TestCheckpointEnsureProgressSkipsDuplicate(t *testing.T) {
	s := New(tempStorePath(t))
	defer s.Close()
	_ = s.Append(message.NewUserMessage("a"))

	id0, err := s.Checkpoint(true)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	id1, err := s.Checkpoint(true)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if id0 != id1 {
		t.Fatalf("expected ensureProgress to return the same id when no progress was made, got %d and %d", id0, id1)
	}
	if s.CheckpointCount() != 1 {
		t.Fatalf("expected no new checkpoint record written, got count %d", s.CheckpointCount())
	}
}

func TestRevertToRewindsMessagesAndRotatesFile(t *testing.T) {
	path := tempStorePath(t)
	s := New(path)
	defer s.Close()

	_ = s.Append(message.NewUserMessage("first"))
	_, _ = s.Checkpoint(false)
	_ = s.Append(message.NewUserMessage("second"))
	_, _ = s.Checkpoint(false)
	_ = s.Append(message.NewUserMessage("third"))

	if err := s.RevertTo(1); err != nil {
		t.Fatalf("revert: %v", err)
	}

	got := s.History()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after revert to checkpoint 1, got %d: %+v", len(got), got)
	}
	if got[1].Text() != "second" {
		t.Fatalf("expected last message to be 'second', got %q", got[1].Text())
	}
	if s.CheckpointCount() != 1 {
		t.Fatalf("expected checkpoint count 1 after revert, got %d", s.CheckpointCount())
	}
	if s.TokenCount() != 0 {
		t.Fatalf("expected token count reset to 0 after revert, got %d", s.TokenCount())
	}

	rotated := path + ".1"
	if _, err := os.Stat(rotated); err != nil {
		t.Fatalf("expected rotated sibling file %s to exist: %v", rotated, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected a fresh current file to exist: %v", err)
	}
}

func TestRevertToRotatesToSmallestUnusedSuffix(t *testing.T) {
	path := tempStorePath(t)
	// Pre-create .1 so rotation must skip to .2.
	if err := os.WriteFile(path+".1", []byte("occupied"), 0o644); err != nil {
		t.Fatalf("seed sibling: %v", err)
	}

	s := New(path)
	defer s.Close()
	_ = s.Append(message.NewUserMessage("a"))
	_, _ = s.Checkpoint(false)
	_ = s.Append(message.NewUserMessage("b"))

	if err := s.RevertTo(0); err != nil {
		t.Fatalf("revert: %v", err)
	}

	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected rotation to use the smallest unused suffix .2: %v", err)
	}
	occupied, err := os.ReadFile(path + ".1")
	if err != nil || string(occupied) != "occupied" {
		t.Fatalf("expected pre-existing .1 sibling untouched, got %q, err %v", occupied, err)
	}
}

func TestRevertToOutOfRangeErrors(t *testing.T) {
	s := New(tempStorePath(t))
	defer s.Close()
	_ = s.Append(message.NewUserMessage("a"))

	if err := s.RevertTo(5); err == nil {
		t.Fatal("expected error reverting past checkpoint count")
	}
	if err := s.RevertTo(-1); err == nil {
		t.Fatal("expected error reverting to a negative checkpoint id")
	}
}

func TestCompactReplacesPrefixWithSummaryAndKeepsTail(t *testing.T) {
	path := tempStorePath(t)
	s := New(path)
	defer s.Close()

	_ = s.Append(message.NewUserMessage("old-1"))
	_ = s.Append(message.NewAssistantMessage([]message.ContentPart{message.TextPart("old-2")}))
	_, _ = s.Checkpoint(false)
	_ = s.Append(message.NewUserMessage("new-1"))

	summary := message.NewAssistantMessage([]message.ContentPart{message.TextPart("[summary]")})
	if err := s.Compact(summary); err != nil {
		t.Fatalf("compact: %v", err)
	}

	got := s.History()
	if len(got) != 2 {
		t.Fatalf("expected summary + tail, got %d messages: %+v", len(got), got)
	}
	if got[0].Text() != "[summary]" {
		t.Fatalf("expected summary message first, got %q", got[0].Text())
	}
	if got[1].Text() != "new-1" {
		t.Fatalf("expected tail message preserved, got %q", got[1].Text())
	}
	if s.CheckpointCount() != 1 {
		t.Fatalf("expected checkpoint count unchanged at 1, got %d", s.CheckpointCount())
	}

	prefix := s.PrefixBeforeLastCheckpoint()
	if len(prefix) != 1 || prefix[0].Text() != "[summary]" {
		t.Fatalf("expected the checkpoint boundary to now sit right after the summary, got %+v", prefix)
	}
}

func TestCompactWithoutCheckpointErrors(t *testing.T) {
	s := New(tempStorePath(t))
	defer s.Close()
	_ = s.Append(message.NewUserMessage("a"))

	err := s.Compact(message.NewAssistantMessage([]message.ContentPart{message.TextPart("x")}))
	if err == nil {
		t.Fatal("expected error compacting before any checkpoint exists")
	}
}

func TestPrefixBeforeLastCheckpointNilWhenNoCheckpoint(t *testing.T) {
	s := New(tempStorePath(t))
	defer s.Close()
	_ = s.Append(message.NewUserMessage("a"))

	if prefix := s.PrefixBeforeLastCheckpoint(); prefix != nil {
		t.Fatalf("expected nil prefix with no checkpoints, got %+v", prefix)
	}
}

func TestRestoreReplaysFile(t *testing.T) {
	path := tempStorePath(t)
	s := New(path)
	_ = s.Append(message.NewUserMessage("a"))
	_, _ = s.Checkpoint(false)
	_ = s.Append(message.NewAssistantMessage([]message.ContentPart{message.TextPart("b")}))
	_ = s.UpdateTokenCount(42)
	s.Close()

	restored := New(path)
	defer restored.Close()
	ok, err := restored.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !ok {
		t.Fatal("expected Restore to report true for a non-empty file")
	}

	got := restored.History()
	if len(got) != 2 || got[0].Text() != "a" || got[1].Text() != "b" {
		t.Fatalf("unexpected restored history: %+v", got)
	}
	if restored.CheckpointCount() != 1 {
		t.Fatalf("expected restored checkpoint count 1, got %d", restored.CheckpointCount())
	}
	if restored.TokenCount() != 42 {
		t.Fatalf("expected restored token count 42, got %d", restored.TokenCount())
	}
}

func TestRestoreMissingFileReturnsFalse(t *testing.T) {
	s := New(tempStorePath(t))
	defer s.Close()
	ok, err := s.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if ok {
		t.Fatal("expected Restore to report false for a missing file")
	}
}

func TestRestoreSkipsMalformedLines(t *testing.T) {
	path := tempStorePath(t)
	content := `{"role":"user","content":[{"type":"text","text":"ok"}]}
not json at all
{"role":"_checkpoint","id":0}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := New(path)
	defer s.Close()
	ok, err := s.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !ok {
		t.Fatal("expected Restore to report true")
	}
	if len(s.History()) != 1 {
		t.Fatalf("expected malformed line skipped, 1 message remaining, got %d", len(s.History()))
	}
	if s.CheckpointCount() != 1 {
		t.Fatalf("expected checkpoint parsed despite the malformed line before it, got %d", s.CheckpointCount())
	}
}
