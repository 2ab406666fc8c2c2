package index

import (
	"fmt"
	"path"

	"github.com/tidwall/btree"

	"github.com/moparisthebest/cache-fs/pkg/common"
)

// Tree is the permanent record of the remote namespace as it existed
// at scan time. It maps stable identifiers to attribute records and
// parent/child name relationships. Once built or restored it is never
// mutated, so concurrent readers need no locking.
type Tree struct {
	entries  map[uint64]*common.Entry
	children map[uint64]*btree.Map[string, uint64]
	nextID   uint64
}

func newTree() *Tree {
	return &Tree{
		entries:  make(map[uint64]*common.Entry),
		children: make(map[uint64]*btree.Map[string, uint64]),
		nextID:   common.RootID,
	}
}

// insert links a new entry under its parent. The root entry is the
// only one allowed to have no parent.
func (t *Tree) insert(entry *common.Entry) error {
	if _, exists := t.entries[entry.ID]; exists {
		return fmt.Errorf("duplicate identifier %d", entry.ID)
	}

	if entry.ID == common.RootID {
		if !entry.IsDir() {
			return fmt.Errorf("root entry: %w", common.ErrNotDirectory)
		}
		t.entries[entry.ID] = entry
		t.children[entry.ID] = new(btree.Map[string, uint64])
		return nil
	}

	parent, ok := t.entries[entry.Parent]
	if !ok {
		return fmt.Errorf("entry %q: parent %d: %w", entry.Name, entry.Parent, common.ErrNotFound)
	}
	if !parent.IsDir() {
		return fmt.Errorf("entry %q: parent %d: %w", entry.Name, entry.Parent, common.ErrNotDirectory)
	}

	siblings := t.children[entry.Parent]
	if _, taken := siblings.Get(entry.Name); taken {
		return fmt.Errorf("duplicate name %q under %d", entry.Name, entry.Parent)
	}

	siblings.Set(entry.Name, entry.ID)
	t.entries[entry.ID] = entry
	if entry.IsDir() {
		t.children[entry.ID] = new(btree.Map[string, uint64])
	}
	return nil
}

// Resolve looks up a child by name under a directory identifier.
func (t *Tree) Resolve(parent uint64, name string) (uint64, error) {
	entry, ok := t.entries[parent]
	if !ok {
		return 0, common.ErrNotFound
	}
	if !entry.IsDir() {
		return 0, common.ErrNotDirectory
	}
	id, ok := t.children[parent].Get(name)
	if !ok {
		return 0, common.ErrNotFound
	}
	return id, nil
}

// Attributes returns the attribute record for an identifier.
func (t *Tree) Attributes(id uint64) (*common.Entry, error) {
	entry, ok := t.entries[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return entry, nil
}

// Children returns a directory's entries ordered by name.
func (t *Tree) Children(id uint64) ([]*common.Entry, error) {
	entry, ok := t.entries[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	if !entry.IsDir() {
		return nil, common.ErrNotDirectory
	}

	children := make([]*common.Entry, 0, t.children[id].Len())
	t.children[id].Scan(func(name string, childID uint64) bool {
		children = append(children, t.entries[childID])
		return true
	})
	return children, nil
}

// PathOf reconstructs an entry's path relative to the remote and
// cache roots by walking parent links. The root maps to "".
func (t *Tree) PathOf(id uint64) (string, error) {
	entry, ok := t.entries[id]
	if !ok {
		return "", common.ErrNotFound
	}

	var parts []string
	for entry.ID != common.RootID {
		parts = append(parts, entry.Name)
		parent, ok := t.entries[entry.Parent]
		if !ok {
			return "", fmt.Errorf("entry %d: broken parent link %d: %w", entry.ID, entry.Parent, common.ErrNotFound)
		}
		entry = parent
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return path.Join(parts...), nil
}

// Len returns the number of entries in the tree, root included.
func (t *Tree) Len() int {
	return len(t.entries)
}
