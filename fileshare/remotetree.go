package fileshare

import "sort"

// RemoteTree is a mapping id -> RemoteItem with an auxiliary
// parent_id -> children index and a roots set, rebuilt from scratch on
// every invocation from the flat listing RemoteStore.ListContent returns;
// it is never persisted.
type RemoteTree struct {
	items    map[uint64]*RemoteItem
	children map[uint64][]uint64
	roots    []uint64
}

// NewRemoteTree builds a RemoteTree from a flat listing. Every non-root
// item's parent_id must reference an entry present in items; violating
// that is a Corrupted error, not a panic, since the listing came from the
// network and is not trusted the way in-process state is.
func NewRemoteTree(flat []*RemoteItem) (*RemoteTree, error) {
	t := &RemoteTree{
		items:    make(map[uint64]*RemoteItem, len(flat)),
		children: make(map[uint64][]uint64),
	}
	for _, item := range flat {
		item.tree = t
		t.items[item.ID] = item
	}
	for _, item := range flat {
		if item.ParentID == nil {
			t.roots = append(t.roots, item.ID)
			continue
		}
		if _, ok := t.items[*item.ParentID]; !ok {
			return nil, &Error{Code: ErrCorrupted, Status: "remote listing references unknown parent id"}
		}
		t.children[*item.ParentID] = append(t.children[*item.ParentID], item.ID)
	}
	return t, nil
}

// Lookup returns the item with the given id.
func (t *RemoteTree) Lookup(id uint64) (*RemoteItem, bool) {
	item, ok := t.items[id]
	return item, ok
}

// ChildrenOf returns the children of id, sorted by encoded name.
func (t *RemoteTree) ChildrenOf(id uint64) []*RemoteItem {
	ids := t.children[id]
	out := make([]*RemoteItem, 0, len(ids))
	for _, cid := range ids {
		if item, ok := t.items[cid]; ok {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name().Encoded() < out[j].Name().Encoded() })
	return out
}

// Roots returns the top-level items (parent_id == nil), sorted by name.
func (t *RemoteTree) Roots() []*RemoteItem {
	out := make([]*RemoteItem, 0, len(t.roots))
	for _, id := range t.roots {
		if item, ok := t.items[id]; ok {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name().Encoded() < out[j].Name().Encoded() })
	return out
}

// Locate walks relativePath component by component starting from the
// roots, returning the matching item.
func (t *RemoteTree) Locate(relativePath string) (*RemoteItem, bool) {
	parts := splitPath(relativePath)
	if len(parts) == 0 {
		return nil, false
	}
	var cur *RemoteItem
	for _, root := range t.Roots() {
		if root.Name().Encoded() == parts[0] {
			cur = root
			break
		}
	}
	if cur == nil {
		return nil, false
	}
	for _, part := range parts[1:] {
		var next *RemoteItem
		for _, c := range t.ChildrenOf(cur.ID) {
			if c.Name().Encoded() == part {
				next = c
				break
			}
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
