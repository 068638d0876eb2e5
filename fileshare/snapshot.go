package fileshare

import (
	"encoding/json"
	"sort"

	"github.com/fileshare-client/fileshare/pathname"
)

// snapshotNode is the wire shape of one LocalItem, matching §6.1's schema.
// Parent back-references are omitted; FixupParents rebuilds them after
// load, per the snapshot-parent-rebuild design note.
type snapshotNode struct {
	Name          string          `json:"name"`
	IsRegularFile bool            `json:"is_regular_file"`
	Timestamp     uint64          `json:"timestamp"`
	MimeType      string          `json:"mime_type,omitempty"`
	Size          uint64          `json:"size"`
	RelativePath  string          `json:"relative_path"`
	Children      []*snapshotNode `json:"children,omitempty"`
}

func toNode(item *LocalItem) *snapshotNode {
	n := &snapshotNode{
		Name:          item.name.Encoded(),
		IsRegularFile: item.isRegularFile,
		Timestamp:     item.timestamp,
		MimeType:      item.mimeType.Encoded(),
		Size:          item.size,
		RelativePath:  item.PathFromRoot(),
	}
	if len(item.children) > 0 {
		names := make([]string, 0, len(item.children))
		for name := range item.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			n.Children = append(n.Children, toNode(item.children[name]))
		}
	}
	return n
}

func fromNode(n *snapshotNode) *LocalItem {
	item := &LocalItem{
		name:          pathname.FromEncoded(n.Name),
		isRegularFile: n.IsRegularFile,
		timestamp:     n.Timestamp,
		mimeType:      pathname.FromEncoded(n.MimeType),
		size:          n.Size,
		relativePath:  n.RelativePath,
	}
	if len(n.Children) > 0 {
		item.children = make(map[string]*LocalItem, len(n.Children))
		for _, childNode := range n.Children {
			child := fromNode(childNode)
			item.children[child.name.Encoded()] = child
		}
	}
	return item
}

// SerializeSnapshot marshals tree to the database.json wire schema.
func SerializeSnapshot(tree *LocalTree) ([]byte, error) {
	roots := tree.Roots()
	nodes := make([]*snapshotNode, 0, len(roots))
	for _, r := range roots {
		nodes = append(nodes, toNode(r))
	}
	return json.MarshalIndent(nodes, "", "  ")
}

// DeserializeSnapshot unmarshals database.json, rebuilding parent
// back-references. A nil or empty payload deserializes to an empty tree,
// matching the "missing snapshot treated as empty tree" recovery policy.
func DeserializeSnapshot(data []byte) (*LocalTree, error) {
	tree := NewLocalTree()
	if len(data) == 0 {
		return tree, nil
	}
	var nodes []*snapshotNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, corruptedErr("snapshot is not valid JSON", err)
	}
	for _, n := range nodes {
		tree.InsertRoot(fromNode(n))
	}
	tree.FixupParents()
	return tree, nil
}
