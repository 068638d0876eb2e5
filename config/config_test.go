package config

import (
	"io/ioutil"
	"os"
	"path"
	"testing"
)

func tmpRoot(t *testing.T) string {
	dir, err := ioutil.TempDir("", "fileshare-config-test-")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestInitializeThenDiscover(t *testing.T) {
	root := tmpRoot(t)

	ctx, firstInit, err := Initialize(root)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !firstInit {
		t.Fatalf("expected firstInit=true on an empty directory")
	}
	ctx.OriginURL = "https://example.com"
	ctx.User = "alice"
	ctx.Repo = "notes"
	if err := ctx.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	sub := path.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	found, err := Discover(sub)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if found.OriginURL != "https://example.com" || found.User != "alice" || found.Repo != "notes" {
		t.Fatalf("Discover returned wrong config: %+v", found)
	}
	if found.AbsPath != root {
		t.Fatalf("expected AbsPath %q, got %q", root, found.AbsPath)
	}
}

func TestInitializeSecondTimeIsNotFirstInit(t *testing.T) {
	root := tmpRoot(t)

	if _, firstInit, err := Initialize(root); err != nil || !firstInit {
		t.Fatalf("first Initialize: firstInit=%v err=%v", firstInit, err)
	}
	_, firstInit, err := Initialize(root)
	if err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if firstInit {
		t.Fatalf("expected firstInit=false on a directory that already has .fileshare")
	}
}

func TestDiscoverWithNoContextFails(t *testing.T) {
	root := tmpRoot(t)
	if _, err := Discover(root); err != ErrNoContext {
		t.Fatalf("expected ErrNoContext, got %v", err)
	}
}

func TestWriteIsAtomicAndLeavesNoLockFileBehind(t *testing.T) {
	root := tmpRoot(t)
	ctx, _, err := Initialize(root)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx.Editor = "vim"
	if err := ctx.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(lockPath(root)); !os.IsNotExist(err) {
		t.Fatalf("expected config.lock.json to be renamed away, stat err=%v", err)
	}
	reread := &Context{AbsPath: root}
	if err := reread.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reread.Editor != "vim" {
		t.Fatalf("expected editor %q, got %q", "vim", reread.Editor)
	}
}

func TestLockThenLockFailsWithErrLockHeld(t *testing.T) {
	root := tmpRoot(t)
	if _, _, err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx := &Context{AbsPath: root}

	if err := ctx.Lock(); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	if !ctx.Locked() {
		t.Fatalf("expected Locked()=true after Lock")
	}
	if err := ctx.Lock(); err != ErrLockHeld {
		t.Fatalf("expected ErrLockHeld on second Lock, got %v", err)
	}
	if err := ctx.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if ctx.Locked() {
		t.Fatalf("expected Locked()=false after Unlock")
	}
	// Unlock on an already-unlocked context is a no-op, not an error, so
	// Close can call it unconditionally without checking Locked first.
	if err := ctx.Unlock(); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
}

func TestReadSnapshotMissingReturnsNilNotError(t *testing.T) {
	root := tmpRoot(t)
	ctx := &Context{AbsPath: root}
	data, err := ctx.ReadSnapshot()
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil data for a missing snapshot, got %v", data)
	}
}

func TestAtomicWriteSnapshotRoundTrip(t *testing.T) {
	root := tmpRoot(t)
	if _, _, err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx := &Context{AbsPath: root}

	want := []byte(`{"hello":"world"}`)
	if err := ctx.AtomicWriteSnapshot(want); err != nil {
		t.Fatalf("AtomicWriteSnapshot: %v", err)
	}
	got, err := ctx.ReadSnapshot()
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
