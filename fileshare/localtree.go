package fileshare

import (
	"sort"
)

// LocalTree is an ordered forest of LocalItem roots. It backs both the live
// filesystem scan and the persisted snapshot: the same type represents S
// and L in the diff engine, just populated from different sources.
type LocalTree struct {
	roots map[string]*LocalItem
}

// NewLocalTree returns an empty forest.
func NewLocalTree() *LocalTree {
	return &LocalTree{roots: make(map[string]*LocalItem)}
}

// Roots returns the forest's root items, sorted by encoded name so callers
// get deterministic iteration without depending on map order.
func (t *LocalTree) Roots() []*LocalItem {
	out := make([]*LocalItem, 0, len(t.roots))
	for _, r := range t.roots {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name.Encoded() < out[j].name.Encoded() })
	return out
}

// InsertRoot adds item as a root, keyed by its encoded name. Panics on a
// duplicate root name, mirroring the sibling-uniqueness invariant.
func (t *LocalTree) InsertRoot(item *LocalItem) {
	key := item.name.Encoded()
	if _, exists := t.roots[key]; exists {
		panic("fileshare: duplicate root name " + key)
	}
	fixupSubtree(nil, item)
	t.roots[key] = item
}

// Locate walks relative path components, returning the item at that path
// or ok=false if any component is missing.
func (t *LocalTree) Locate(relativePath string) (*LocalItem, bool) {
	parts := splitPath(relativePath)
	if len(parts) == 0 {
		return nil, false
	}
	cur, ok := t.roots[parts[0]]
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		next, ok := cur.children[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Insert places item at relativePath, creating or replacing the leaf and
// wiring parent back-references along the way. The parent directory chain
// must already exist.
func (t *LocalTree) Insert(relativePath string, item *LocalItem) {
	parts := splitPath(relativePath)
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		t.replaceRoot(parts[0], item)
		return
	}
	parentPath := joinPathParts(parts[:len(parts)-1])
	parent, ok := t.Locate(parentPath)
	if !ok {
		panic("fileshare: insert into missing parent directory " + parentPath)
	}
	delete(parent.children, parts[len(parts)-1])
	parent.addChild(item)
	fixupSubtree(parent, item)
}

func (t *LocalTree) replaceRoot(name string, item *LocalItem) {
	t.roots[name] = item
	fixupSubtree(nil, item)
}

// Remove deletes the item (and its subtree, if a directory) at
// relativePath. It is a no-op if the path does not exist.
func (t *LocalTree) Remove(relativePath string) {
	parts := splitPath(relativePath)
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		delete(t.roots, parts[0])
		return
	}
	parentPath := joinPathParts(parts[:len(parts)-1])
	parent, ok := t.Locate(parentPath)
	if !ok {
		return
	}
	delete(parent.children, parts[len(parts)-1])
}

func joinPathParts(parts []string) string {
	out := ""
	for _, p := range parts {
		out = joinRelative(out, p)
	}
	return out
}

// FixupParents re-wires every child's parent back-reference by walking the
// forest top-down. Required after deserializing a tree whose parent links
// were omitted from the wire format to avoid cycles.
func (t *LocalTree) FixupParents() {
	for _, root := range t.roots {
		fixupSubtree(nil, root)
	}
}

func fixupSubtree(parent *LocalItem, item *LocalItem) {
	item.parent = parent
	if parent == nil {
		item.relativePath = item.name.Encoded()
	} else {
		item.relativePath = joinRelative(parent.relativePath, item.name.Encoded())
	}
	for _, c := range item.children {
		fixupSubtree(item, c)
	}
}
