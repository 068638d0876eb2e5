package fileshare

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fileshare-client/fileshare/pathname"
)

// fakeStore is a minimal in-memory RemoteStore for executor tests. Only
// the operations exercised by the scenarios below are implemented.
type fakeStore struct {
	files         map[uint64][]byte
	dirCount      uint64
	created       []string
	trashed       []uint64
	uploadParents []*uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: make(map[uint64][]byte)}
}

func (f *fakeStore) Authenticate(string) (string, int64, error) { return "tok", 0, nil }
func (f *fakeStore) ListContent() ([]*RemoteItem, error)        { return nil, nil }

func (f *fakeStore) DownloadFile(id uint64, w io.Writer, progress chan<- int64) error {
	data, ok := f.files[id]
	if !ok {
		return protocolErr("no such file", nil)
	}
	_, err := w.Write(data)
	return err
}

func (f *fakeStore) UploadChunk(parentID *uint64, headers map[string]string, body io.Reader, size int64, progress chan<- int64) (*UploadResponse, error) {
	f.uploadParents = append(f.uploadParents, parentID)
	buf, err := ioutil.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.dirCount++
	id := f.dirCount + 1000
	f.files[id] = buf
	return &UploadResponse{}, nil
}

func (f *fakeStore) MakeDirectory(parentID *uint64, name pathname.PathName) (*RemoteItem, error) {
	f.dirCount++
	f.created = append(f.created, name.Encoded())
	return &RemoteItem{ID: f.dirCount, RawName: name.Encoded(), Regular: false}, nil
}

func (f *fakeStore) MoveToTrash(ids []uint64) error {
	f.trashed = append(f.trashed, ids...)
	return nil
}

func (f *fakeStore) DeleteAuthToken(string) error { return nil }

func TestExecutorDownloadsRemoteAddedFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "fileshare-exec-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	store := newFakeStore()
	store.files[1] = []byte("hello world")

	remoteItems := []*RemoteItem{
		{ID: 1, RawName: "a.txt", Regular: true, SizeField: 11, TimestampField: 5000},
	}
	remoteTree, err := NewRemoteTree(remoteItems)
	require.NoError(t, err)

	snapshot := NewLocalTree()
	exec := NewExecutor(dir, snapshot, store, remoteTree, filepath.Join(dir, ".fileshare", "tmp"), nil)

	action := Action{Kind: RemoteAdded, Path: "a.txt", Remote: remoteItems[0]}
	require.NoError(t, exec.Run([]Action{action}))

	data, err := ioutil.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	item, ok := snapshot.Locate("a.txt")
	require.True(t, ok)
	assert.Equal(t, uint64(5000), item.Timestamp())
}

func TestExecutorUploadsLocalAddedDirectory(t *testing.T) {
	dir, err := ioutil.TempDir("", "fileshare-exec-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "sub", "x.txt"), []byte("xyz"), 0644))

	store := newFakeStore()
	remoteTree, err := NewRemoteTree(nil)
	require.NoError(t, err)

	snapshot := NewLocalTree()
	exec := NewExecutor(dir, snapshot, store, remoteTree, filepath.Join(dir, ".fileshare", "tmp"), nil)

	subDir := NewLocalDir(pathname.FromClient("sub"))
	subDir.addChild(NewLocalFile(pathname.FromClient("x.txt"), 3, 100, pathname.FromClient("text/plain")))

	action := Action{Kind: LocalAdded, Path: "sub", Scanned: subDir}
	require.NoError(t, exec.Run([]Action{action}))

	assert.Contains(t, store.created, "sub")
	_, ok := snapshot.Locate("sub/x.txt")
	assert.True(t, ok)
}

// TestExecutorUploadsNewFileUnderExistingRemoteDirectory covers a LocalAdded
// action nested inside a directory that already exists on all three sides.
// classify() never attaches a remote counterpart to a LocalAdded action (see
// diff.go), so the upload's parent id has to come from looking the parent
// path up in the remote tree, not from the action itself.
func TestExecutorUploadsNewFileUnderExistingRemoteDirectory(t *testing.T) {
	dir, err := ioutil.TempDir("", "fileshare-exec-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "dir", "newfile.txt"), []byte("xyz"), 0644))

	store := newFakeStore()
	remoteTree, err := NewRemoteTree([]*RemoteItem{
		{ID: 7, RawName: "dir", Regular: false},
	})
	require.NoError(t, err)

	snapshot := NewLocalTree()
	exec := NewExecutor(dir, snapshot, store, remoteTree, filepath.Join(dir, ".fileshare", "tmp"), nil)

	tree := NewLocalTree()
	dirItem := NewLocalDir(pathname.FromClient("dir"))
	tree.InsertRoot(dirItem)
	newFile := NewLocalFile(pathname.FromClient("newfile.txt"), 3, 100, pathname.FromClient("text/plain"))
	dirItem.addChild(newFile)

	action := Action{Kind: LocalAdded, Path: "dir/newfile.txt", Scanned: newFile}
	require.NoError(t, exec.Run([]Action{action}))

	require.Len(t, store.uploadParents, 1)
	require.NotNil(t, store.uploadParents[0])
	assert.Equal(t, uint64(7), *store.uploadParents[0], "upload should target dir's remote id, not the repository root")
}

func TestExecutorTrashesLocalRemoved(t *testing.T) {
	dir, err := ioutil.TempDir("", "fileshare-exec-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	store := newFakeStore()
	remoteTree, err := NewRemoteTree(nil)
	require.NoError(t, err)

	snapshot := buildLocal(file("a.txt", 100))
	exec := NewExecutor(dir, snapshot, store, remoteTree, filepath.Join(dir, ".fileshare", "tmp"), nil)

	remoteA := &RemoteItem{ID: 42, RawName: "a.txt", Regular: true, TimestampField: 100}
	action := Action{Kind: LocalRemoved, Path: "a.txt", Local: file("a.txt", 100), Remote: remoteA}
	require.NoError(t, exec.Run([]Action{action}))

	assert.Equal(t, []uint64{42}, store.trashed)
	_, ok := snapshot.Locate("a.txt")
	assert.False(t, ok)
}

func TestExecutorEncryptsUploadAndDecryptsDownload(t *testing.T) {
	srcDir, err := ioutil.TempDir("", "fileshare-exec-src-")
	require.NoError(t, err)
	defer os.RemoveAll(srcDir)

	plaintext := []byte("hello secret")
	require.NoError(t, ioutil.WriteFile(filepath.Join(srcDir, "secret.txt"), plaintext, 0644))

	store := newFakeStore()
	remoteTree, err := NewRemoteTree(nil)
	require.NoError(t, err)

	scanned := NewLocalFile(pathname.FromClient("secret.txt"), uint64(len(plaintext)), 100, pathname.FromClient("text/plain"))
	NewLocalTree().InsertRoot(scanned)

	uploadExec := NewExecutor(srcDir, NewLocalTree(), store, remoteTree, filepath.Join(srcDir, ".fileshare", "tmp"), nil,
		WithEncryptPassword([]byte("hunter2")))
	uploadAction := Action{Kind: LocalUpgraded, Path: "secret.txt", Scanned: scanned}
	require.NoError(t, uploadExec.Run([]Action{uploadAction}))

	require.Len(t, store.files, 1)
	var remoteID uint64
	var cipher []byte
	for id, data := range store.files {
		remoteID, cipher = id, data
	}
	assert.NotEqual(t, plaintext, cipher, "stored content should be ciphertext, not plaintext")

	destDir, err := ioutil.TempDir("", "fileshare-exec-dest-")
	require.NoError(t, err)
	defer os.RemoveAll(destDir)

	remoteItem := &RemoteItem{ID: remoteID, RawName: "secret.txt", Regular: true, SizeField: uint64(len(cipher)), TimestampField: 100}
	downloadTree, err := NewRemoteTree([]*RemoteItem{remoteItem})
	require.NoError(t, err)

	downloadExec := NewExecutor(destDir, NewLocalTree(), store, downloadTree, filepath.Join(destDir, ".fileshare", "tmp"), nil,
		WithDecryptPassword([]byte("hunter2")))
	downloadAction := Action{Kind: RemoteAdded, Path: "secret.txt", Remote: remoteItem}
	require.NoError(t, downloadExec.Run([]Action{downloadAction}))

	got, err := ioutil.ReadFile(filepath.Join(destDir, "secret.txt"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestExecutorReportsConflictWithoutApplying(t *testing.T) {
	dir, err := ioutil.TempDir("", "fileshare-exec-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	store := newFakeStore()
	remoteTree, err := NewRemoteTree(nil)
	require.NoError(t, err)

	snapshot := buildLocal(file("a.txt", 100))
	var reported []Action
	exec := NewExecutor(dir, snapshot, store, remoteTree, filepath.Join(dir, ".fileshare", "tmp"), func(a Action) {
		reported = append(reported, a)
	})

	action := Action{Kind: ConflictBothUpgraded, Path: "a.txt"}
	require.NoError(t, exec.Run([]Action{action}))

	require.Len(t, reported, 1)
	assert.Equal(t, ConflictBothUpgraded, reported[0].Kind)
	item, ok := snapshot.Locate("a.txt")
	require.True(t, ok)
	assert.Equal(t, uint64(100), item.Timestamp())
}
