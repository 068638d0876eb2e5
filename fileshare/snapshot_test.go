package fileshare

import (
	"testing"

	"github.com/fileshare-client/fileshare/pathname"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := NewLocalDir(pathname.FromClient("dir"))
	dir.addChild(file("a.txt", 100))
	dir.addChild(file("b.txt", 200))
	tree := buildLocal(file("top.txt", 1), dir)

	data, err := SerializeSnapshot(tree)
	if err != nil {
		t.Fatalf("SerializeSnapshot: %v", err)
	}

	restored, err := DeserializeSnapshot(data)
	if err != nil {
		t.Fatalf("DeserializeSnapshot: %v", err)
	}

	top, ok := restored.Locate("top.txt")
	if !ok || top.Timestamp() != 1 {
		t.Fatalf("expected top.txt@1, got %+v ok=%v", top, ok)
	}

	a, ok := restored.Locate("dir/a.txt")
	if !ok || a.Timestamp() != 100 {
		t.Fatalf("expected dir/a.txt@100, got %+v ok=%v", a, ok)
	}
	if a.LocalParent() == nil || a.LocalParent().name.Encoded() != "dir" {
		t.Fatalf("expected parent back-reference rebuilt to dir, got %+v", a.LocalParent())
	}
}

func TestDeserializeEmptySnapshotIsEmptyTree(t *testing.T) {
	tree, err := DeserializeSnapshot(nil)
	if err != nil {
		t.Fatalf("DeserializeSnapshot(nil): %v", err)
	}
	if len(tree.Roots()) != 0 {
		t.Fatalf("expected empty tree, got %d roots", len(tree.Roots()))
	}
}
