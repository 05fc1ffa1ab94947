// Package inode implements the user-space inode/path table: the
// parent/name tree that converts between kernel-assigned nodeids and
// hierarchical pathnames, with lookup-count tracking and hidden-rename
// support (spec §3 "Inode node", §4.5, §4.6, §9 "Bidirectional
// parent/child graph").
package inode

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// RootID is the fixed nodeid of the mount root (spec §4.5).
const RootID = 1

// nameKey is the by-(parent, name) hashtable key.
type nameKey struct {
	parent uint64
	name   string
}

// Node is one entry in the inode table (spec §3 "Inode node (user-space)").
type Node struct {
	mu sync.Mutex

	ID         uint64
	Generation uint64
	Parent     uint64
	Name       string

	// LookupCount is how many outstanding kernel LOOKUP references this
	// node carries; the table may reclaim the node only at zero.
	LookupCount uint64
	// OpenCount is how many file handles the VFS adapter currently holds
	// against this node; used together with Hidden to decide when the
	// real UNLINK of a hidden file may run (spec §4.6).
	OpenCount int

	Hidden bool

	// CachedMtime / CachedSize mirror spec §3's "cached modification
	// time" and "cached size" fields, consulted by the attribute cache
	// in vfsadapter without a further round trip through this table.
	CachedMtime time.Time
	CachedSize  uint64

	unhashed bool // removed from the by-name table
}

// Table is the inode/path tree: one entry per currently-known node,
// indexed both by nodeid and by (parent, name) (spec §4.5). It follows
// the teacher's memfs inode table's use of syncutil.InvariantMutex
// (spec §5 lock #3) rather than a plain mutex, so a build with invariant
// checking enabled catches a torn byID/byName/nextID update immediately
// instead of surfacing as a corrupted path days later.
type Table struct {
	mu syncutil.InvariantMutex

	clock timeutil.Clock

	// GUARDED_BY(mu)
	byID map[uint64]*Node
	// GUARDED_BY(mu)
	byName map[nameKey]*Node

	caseInsensitive bool

	// GUARDED_BY(mu)
	nextID uint64
	// GUARDED_BY(mu)
	nextGen uint64
}

// New creates a table containing only the root node (nodeid 1, name "/").
// clock is injected rather than calling time.Now directly, matching the
// teacher's memfs inode use of timeutil.Clock for testability.
func New(clock timeutil.Clock, caseInsensitive bool) *Table {
	t := &Table{
		clock:           clock,
		byID:            make(map[uint64]*Node),
		byName:          make(map[nameKey]*Node),
		caseInsensitive: caseInsensitive,
		nextID:          RootID + 1,
	}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)

	root := &Node{ID: RootID, Name: "/", LookupCount: 1}
	t.byID[RootID] = root
	return t
}

// checkInvariants is run by syncutil.InvariantMutex on every Lock/Unlock
// in builds that enable it, matching fusesession.Session's use of the
// same package.
func (t *Table) checkInvariants() {
	if len(t.byName) > len(t.byID) {
		panic("inode: more hashed names than ids")
	}
	if _, ok := t.byID[RootID]; !ok {
		panic("inode: root node missing from byID")
	}
	for k, n := range t.byName {
		if n.ID == 0 {
			panic("inode: zero id hashed under " + k.name)
		}
	}
}

// Now returns the table's injected clock's current time, used by the VFS
// adapter's attribute cache so tests can control expiry deterministically
// (spec §4.4 "Attribute cache").
func (t *Table) Now() time.Time { return t.clock.Now() }

func (t *Table) normalizeName(name string) string {
	if t.caseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

// GetNode returns the node with the given id, or nil.
func (t *Table) GetNode(id uint64) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[id]
}

// LookupNode implements spec §4.5 "lookup(parent, name)": returns the
// existing child node if one is already hashed under (parent, name),
// otherwise allocates nodeid, parent, and name for a fresh one supplied
// by the caller (the caller fills in attributes once the server has
// replied). Either way the lookup count is incremented by one.
//
// newID is the nodeid to use if no existing node is found; callers
// normally pass the id the table itself would allocate via AllocID, but
// taking it as a parameter keeps table locking and id allocation
// separate, matching spec §4.5's "nodeid allocation skips zero and an
// 'unknown' sentinel" rule living in one place (AllocID).
func (t *Table) LookupNode(parent uint64, name string, newID uint64) (node *Node, created bool) {
	key := nameKey{parent, t.normalizeName(name)}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.byName[key]; ok {
		n.mu.Lock()
		n.LookupCount++
		n.mu.Unlock()
		return n, false
	}

	n := &Node{
		ID:          newID,
		Parent:      parent,
		Name:        name,
		LookupCount: 1,
	}
	t.byID[newID] = n
	t.byName[key] = n
	return n, true
}

// AllocID returns a fresh nodeid, skipping zero and RootID, wrapping the
// generation counter on overflow (spec §4.5 "Tie-breaks and ordering").
func (t *Table) AllocID() (id uint64, generation uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id = t.nextID
	t.nextID++
	if t.nextID == 0 || t.nextID == RootID {
		t.nextID = RootID + 1
		t.nextGen++
	}
	return id, t.nextGen
}

// Forget decrements nodeid's lookup count by n. At zero, the node is
// unhashed from the by-name table; once its refcount (tracked by the
// caller via OpenCount plus lookup count) is fully zero it is dropped
// from the by-id table too (spec §4.5 "forget").
func (t *Table) Forget(id uint64, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.byID[id]
	if !ok || id == RootID {
		return
	}

	node.mu.Lock()
	if n > node.LookupCount {
		node.LookupCount = 0
	} else {
		node.LookupCount -= n
	}
	remaining := node.LookupCount
	open := node.OpenCount
	node.mu.Unlock()

	if remaining != 0 {
		return
	}

	if !node.unhashed {
		delete(t.byName, nameKey{node.Parent, t.normalizeName(node.Name)})
		node.unhashed = true
	}

	if open == 0 {
		delete(t.byID, id)
	}
}

// GetPath walks parent links root-ward, building "/a/b/c" (spec §4.5
// "get_path"). Fails if any ancestor has been unhashed.
func (t *Table) GetPath(id uint64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == RootID {
		return "/", nil
	}

	var parts []string
	cur := id
	for cur != RootID {
		n, ok := t.byID[cur]
		if !ok {
			return "", fmt.Errorf("inode: node %d not found while resolving path", cur)
		}
		if n.unhashed && cur != id {
			return "", fmt.Errorf("inode: ancestor %d unhashed", cur)
		}
		parts = append(parts, n.Name)
		cur = n.Parent
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/"), nil
}

// Rename atomically moves the node at (olddir, oldname) to
// (newdir, newname). If a node already exists under the target key it is
// unhashed — or, if hide is true, marked Hidden instead of purely
// unhashed so open file handles can keep reading it (spec §4.5 "rename",
// §4.6 "Hidden deletions").
func (t *Table) Rename(olddir uint64, oldname string, newdir uint64, newname string, hide bool) error {
	oldKey := nameKey{olddir, t.normalizeName(oldname)}
	newKey := nameKey{newdir, t.normalizeName(newname)}

	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byName[oldKey]
	if !ok {
		return fmt.Errorf("inode: no node at (%d, %q)", olddir, oldname)
	}

	if victim, ok := t.byName[newKey]; ok {
		delete(t.byName, newKey)
		victim.mu.Lock()
		if hide {
			victim.Hidden = true
		} else {
			victim.unhashed = true
		}
		victim.mu.Unlock()
	}

	delete(t.byName, oldKey)
	n.mu.Lock()
	n.Parent = newdir
	n.Name = newname
	n.mu.Unlock()
	t.byName[newKey] = n

	return nil
}

// MarkHidden flags id as hidden (spec §4.6): its backing path has been
// renamed to a generated name while still open.
func (t *Table) MarkHidden(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.byID[id]; ok {
		n.mu.Lock()
		n.Hidden = true
		n.mu.Unlock()
	}
}

// IncOpen / DecOpen track OpenCount, used to decide when a hidden node's
// backing file may finally be unlinked (spec §4.6 "On the last close").
func (t *Table) IncOpen(id uint64) {
	t.mu.Lock()
	n := t.byID[id]
	t.mu.Unlock()
	if n == nil {
		return
	}
	n.mu.Lock()
	n.OpenCount++
	n.mu.Unlock()
}

// DecOpen decrements the node's open count and reports whether this was
// the last close (OpenCount reached zero) and the node is hidden, which
// is the caller's cue to issue the deferred UNLINK. If the node was
// already unhashed (forgotten while still open), this last close also
// frees it from the by-id table, completing the refcount teardown that
// Forget deferred (spec §4.5 "forget": "once refctr drops, from the
// by-id table and frees it").
func (t *Table) DecOpen(id uint64) (lastCloseOfHidden bool) {
	t.mu.Lock()
	n := t.byID[id]
	t.mu.Unlock()
	if n == nil {
		return false
	}

	n.mu.Lock()
	if n.OpenCount > 0 {
		n.OpenCount--
	}
	open := n.OpenCount
	hidden := n.Hidden
	unhashed := n.unhashed
	n.mu.Unlock()

	if open == 0 && unhashed {
		t.mu.Lock()
		if cur, ok := t.byID[id]; ok && cur == n {
			delete(t.byID, id)
		}
		t.mu.Unlock()
	}

	return open == 0 && hidden
}
