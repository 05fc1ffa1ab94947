package inode

import (
	"testing"

	"github.com/jacobsa/timeutil"
)

func newTestTable() *Table {
	return New(timeutil.RealClock(), false)
}

func TestLookupNodeCreatesThenReuses(t *testing.T) {
	tb := newTestTable()

	id, _ := tb.AllocID()
	n, created := tb.LookupNode(RootID, "a.txt", id)
	if !created {
		t.Fatalf("first LookupNode should have created a node")
	}
	if n.LookupCount != 1 {
		t.Fatalf("got LookupCount %d, want 1", n.LookupCount)
	}

	again, created := tb.LookupNode(RootID, "a.txt", 9999)
	if created {
		t.Fatalf("second LookupNode of the same name should reuse the node")
	}
	if again != n {
		t.Fatalf("got a different node on the second lookup")
	}
	if again.LookupCount != 2 {
		t.Fatalf("got LookupCount %d, want 2", again.LookupCount)
	}
}

func TestForgetUnhashesAtZeroLookupCount(t *testing.T) {
	tb := newTestTable()
	id, _ := tb.AllocID()
	tb.LookupNode(RootID, "a.txt", id)

	tb.Forget(id, 1)

	if tb.GetNode(id) != nil {
		t.Fatalf("node should be fully freed: it was never opened, so Forget must drop it from byID too")
	}
	if _, err := tb.GetPath(id); err == nil {
		t.Fatalf("GetPath should fail once a node is forgotten")
	}
}

// TestForgetWhileOpenKeepsByIDUntilLastClose exercises the fixed lifecycle
// invariant: a node forgotten while still open must survive in byID (so a
// concurrent read against its still-valid handle keeps working) and is
// only freed once DecOpen brings its open count back to zero.
func TestForgetWhileOpenKeepsByIDUntilLastClose(t *testing.T) {
	tb := newTestTable()
	id, _ := tb.AllocID()
	tb.LookupNode(RootID, "a.txt", id)
	tb.IncOpen(id)

	tb.Forget(id, 1)
	if tb.GetNode(id) == nil {
		t.Fatalf("node must stay in byID while still open, even after Forget reaches zero lookups")
	}

	tb.DecOpen(id)
	if tb.GetNode(id) != nil {
		t.Fatalf("node should be freed from byID on its last close after being forgotten")
	}
}

func TestDecOpenReportsLastCloseOfHidden(t *testing.T) {
	tb := newTestTable()
	id, _ := tb.AllocID()
	tb.LookupNode(RootID, "a.txt", id)
	tb.IncOpen(id)
	tb.IncOpen(id)
	tb.MarkHidden(id)

	if lastHidden := tb.DecOpen(id); lastHidden {
		t.Fatalf("DecOpen reported last-close with one handle still open")
	}
	if lastHidden := tb.DecOpen(id); !lastHidden {
		t.Fatalf("DecOpen should report last-close-of-hidden on the final release")
	}
}

func TestRenameHidesClobberedOpenTarget(t *testing.T) {
	tb := newTestTable()
	srcID, _ := tb.AllocID()
	tb.LookupNode(RootID, "src.txt", srcID)

	dstID, _ := tb.AllocID()
	tb.LookupNode(RootID, "dst.txt", dstID)
	tb.IncOpen(dstID)

	if err := tb.Rename(RootID, "src.txt", RootID, "dst.txt", true); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	victim := tb.GetNode(dstID)
	if victim == nil {
		t.Fatalf("victim node should still exist while open")
	}
	if !victim.Hidden {
		t.Fatalf("victim node should be marked Hidden, not merely unhashed")
	}

	path, err := tb.GetPath(srcID)
	if err != nil {
		t.Fatalf("GetPath(srcID): %v", err)
	}
	if path != "/dst.txt" {
		t.Fatalf("got path %q, want /dst.txt", path)
	}
}

func TestGetPathFailsThroughUnhashedAncestor(t *testing.T) {
	tb := newTestTable()
	dirID, _ := tb.AllocID()
	tb.LookupNode(RootID, "dir", dirID)

	childID, _ := tb.AllocID()
	tb.LookupNode(dirID, "child.txt", childID)

	// Forgetting the directory with no open handles unhashes (and frees)
	// it, even though a child still names it as Parent.
	tb.Forget(dirID, 1)

	if _, err := tb.GetPath(childID); err == nil {
		t.Fatalf("GetPath should fail once an ancestor is gone")
	}
}
