package dmail

import "testing"

func TestSendFetchRoundtrip(t *testing.T) {
	box := New()
	if ok := box.Send(1, "go back", 3); !ok {
		t.Fatal("expected Send to accept an in-range checkpoint id")
	}
	mail, ok := box.Fetch()
	if !ok {
		t.Fatal("expected pending mail")
	}
	if mail.CheckpointID != 1 || mail.Message != "go back" {
		t.Fatalf("unexpected mail: %+v", mail)
	}
}

func TestFetchEmptyBox(t *testing.T) {
	box := New()
	_, ok := box.Fetch()
	if ok {
		t.Fatal("expected empty box to report ok=false")
	}
}

func TestFetchIsConsuming(t *testing.T) {
	box := New()
	box.Send(0, "hi", 1)
	box.Fetch()
	_, ok := box.Fetch()
	if ok {
		t.Fatal("expected second fetch to find nothing")
	}
}

func TestSendRejectsOutOfRangeCheckpoint(t *testing.T) {
	box := New()
	if ok := box.Send(-1, "x", 2); ok {
		t.Fatal("expected negative checkpoint id to be rejected")
	}
	if ok := box.Send(2, "x", 2); ok {
		t.Fatal("expected checkpoint id == checkpointCount to be rejected")
	}
	if _, ok := box.Fetch(); ok {
		t.Fatal("rejected sends must not leave pending mail")
	}
}

func TestSendOverwritesPriorPending(t *testing.T) {
	box := New()
	box.Send(0, "first", 2)
	box.Send(1, "second", 2)
	mail, ok := box.Fetch()
	if !ok {
		t.Fatal("expected pending mail")
	}
	if mail.CheckpointID != 1 || mail.Message != "second" {
		t.Fatalf("expected the later Send to win, got %+v", mail)
	}
}

func TestClearDropsPending(t *testing.T) {
	box := New()
	box.Send(0, "x", 1)
	box.Clear()
	if _, ok := box.Fetch(); ok {
		t.Fatal("expected Clear to drop pending mail")
	}
}
