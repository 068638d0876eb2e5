package fileshare

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mxk/go-flowrate/flowrate"
	expirableCache "github.com/odeke-em/cache"
	"github.com/odeke-em/semalim"

	"github.com/fileshare-client/fileshare/dcrypto"
)

// jobSt adapts a plain closure to semalim.Job, exactly as the teacher's
// pull.go/push.go do for their change-application pipelines.
type jobSt struct {
	id uint64
	do func() (interface{}, error)
}

func (j jobSt) Id() interface{}          { return j.id }
func (j jobSt) Do() (interface{}, error) { return j.do() }

// Executor interprets a filtered Action list into filesystem and remote
// mutations, advancing snapshot in place as each mutation succeeds. Per
// §5, the core is single-threaded cooperative: actions run one at a time,
// so Run pins semalim's concurrency to 1 rather than fanning work out.
// This still buys the suspend-only-at-I/O-boundary discipline semalim
// already gives the teacher's pull/push pipelines.
type Executor struct {
	root     string
	snapshot *LocalTree
	remote   RemoteStore
	remoteTree *RemoteTree
	tmpDir   string
	mkdirCache *expirableCache.OperationCache
	onConflict func(Action)

	// encryptPassword/decryptPassword enable the optional at-rest content
	// encryption from SPEC_FULL.md's --encrypt-password/--decrypt-password
	// flags. Nil means disabled; the wire content is stored exactly as read
	// from disk.
	encryptPassword []byte
	decryptPassword []byte

	// uploadBps/downloadBps, in bytes/sec, throttle the chunk streams via
	// flowrate when positive. Zero means unthrottled.
	uploadBps   int64
	downloadBps int64

	// showProgress gates the per-file pb.ProgressBar; it is only ever true
	// against an interactive stdout (see StdoutIsTTY).
	showProgress bool
}

// ExecOption configures optional Executor behavior. Used for the
// encrypt/decrypt password pair so NewExecutor's signature stays stable
// for callers (and tests) that don't need them.
type ExecOption func(*Executor)

// WithEncryptPassword makes uploadLeaf encrypt file content with password
// before it leaves the machine.
func WithEncryptPassword(password []byte) ExecOption {
	return func(e *Executor) { e.encryptPassword = password }
}

// WithDecryptPassword makes downloadLeaf decrypt file content with
// password after it arrives, before it is written to its final path.
func WithDecryptPassword(password []byte) ExecOption {
	return func(e *Executor) { e.decryptPassword = password }
}

// WithRateLimit throttles upload and/or download chunk streams to the
// given bytes/sec, generalizing teacher's Options.UploadRateLimit (a
// KiB/s figure used only to size upload chunks) into an actual transfer
// throttle via flowrate. Zero disables throttling in that direction.
func WithRateLimit(uploadBps, downloadBps int64) ExecOption {
	return func(e *Executor) {
		e.uploadBps = uploadBps
		e.downloadBps = downloadBps
	}
}

// WithProgress enables the per-file byte progress bar when tty is true,
// mirroring teacher's Options.StdoutIsTty gate on taskStart/taskAdd.
func WithProgress(tty bool) ExecOption {
	return func(e *Executor) { e.showProgress = tty }
}

// NewExecutor builds an Executor rooted at root, advancing snapshot and
// talking to store for remote mutations. remoteTree supplies id lookups
// for directory recursion during download/upload.
func NewExecutor(root string, snapshot *LocalTree, store RemoteStore, remoteTree *RemoteTree, tmpDir string, onConflict func(Action), opts ...ExecOption) *Executor {
	e := &Executor{
		root:       root,
		snapshot:   snapshot,
		remote:     store,
		remoteTree: remoteTree,
		tmpDir:     tmpDir,
		mkdirCache: expirableCache.New(),
		onConflict: onConflict,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run applies actions in emission order through a single-slot semalim
// pipeline, returning the first error encountered. Conflicts are routed to
// onConflict and never applied.
func (e *Executor) Run(actions []Action) error {
	jobsChan := make(chan semalim.Job)
	go func() {
		defer close(jobsChan)
		for i, a := range actions {
			action := a
			jobsChan <- jobSt{id: uint64(i), do: func() (interface{}, error) {
				return nil, e.apply(action)
			}}
		}
	}()

	results := semalim.Run(jobsChan, 1)
	var firstErr error
	for result := range results {
		if err := result.Err(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// apply dispatches a single action. Callers choose which kinds to include
// in actions (per §4.3's push/pull/sync selection table); apply itself
// only refuses to auto-apply Conflict* kinds, reporting them instead.
func (e *Executor) apply(a Action) error {
	if a.Kind.IsConflict() {
		if e.onConflict != nil {
			e.onConflict(a)
		}
		return nil
	}

	switch a.Kind {
	case ResyncLocal:
		return e.resyncLocal(a)
	case LocalUpgraded, ErrorLocalDowngraded:
		return e.uploadFile(a)
	case RemoteUpgraded, ErrorRemoteDowngraded:
		return e.downloadFile(a)
	case LocalAdded:
		return e.uploadTree(a)
	case RemoteAdded:
		return e.downloadTree(a)
	case LocalRemoved:
		return e.trashRemote(a)
	case RemoteRemoved:
		return e.deleteLocal(a)
	case RemovedOnBothSides:
		e.snapshot.Remove(a.Path)
		return nil
	default:
		return corruptedErr(fmt.Sprintf("unhandled action kind %v for %s", a.Kind, a.Path), nil)
	}
}

func (e *Executor) osPath(relPath string) string {
	return filepath.Join(e.root, filepath.FromSlash(relPath))
}

// resyncLocal folds a scan result the snapshot missed into the snapshot,
// without touching disk or remote.
func (e *Executor) resyncLocal(a Action) error {
	s, ok := a.Scanned.(*LocalItem)
	if !ok {
		return corruptedErr("ResyncLocal action missing scanned item", nil)
	}
	e.snapshot.Insert(a.Path, cloneLocalLeaf(s))
	return nil
}

func cloneLocalLeaf(src *LocalItem) *LocalItem {
	return &LocalItem{
		name:          src.name,
		isRegularFile: src.isRegularFile,
		size:          src.size,
		timestamp:     src.timestamp,
		mimeType:      src.mimeType,
	}
}

func (e *Executor) uploadFile(a Action) error {
	s, ok := a.Scanned.(*LocalItem)
	if !ok {
		return corruptedErr("upload action missing scanned item", nil)
	}
	var parentID *uint64
	if r, ok := a.Remote.(*RemoteItem); ok {
		if parent, ok := r.Parent(); ok {
			if rp, ok := parent.(*RemoteItem); ok {
				id := rp.ID
				parentID = &id
			}
		}
	}
	if err := e.uploadLeaf(parentID, s, a.Path); err != nil {
		return err
	}
	e.snapshot.Insert(a.Path, cloneLocalLeaf(s))
	return nil
}

func parentDirOf(relPath string) string {
	idx := strings.LastIndex(relPath, "/")
	if idx < 0 {
		return "."
	}
	return relPath[:idx]
}

// uploadLeaf performs the chunked POST protocol from §4.3 "File upload":
// 50 MiB chunks, first request carrying the content-* headers, subsequent
// ones carrying content-token. A zero-byte file completes in one request.
func (e *Executor) uploadLeaf(parentID *uint64, item *LocalItem, relPath string) error {
	f, err := os.Open(e.osPath(relPath))
	if err != nil {
		return filesystemErr("cannot open file for upload", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return filesystemErr("cannot stat file for upload", err)
	}

	mimeType := item.mimeType.Encoded()
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(item.name.Encoded()))
	}

	// Content encryption changes the byte stream's length (salt, IV and
	// HMAC overhead), so the upload source has to be fully materialized
	// before content-size can be known, instead of streaming chunkSize
	// reads straight off the file.
	var source io.Reader = f
	contentSize := info.Size()
	description := ""
	if e.encryptPassword != nil {
		encReader, err := dcrypto.NewEncrypter(f, e.encryptPassword)
		if err != nil {
			return encodingErr("cannot start encryption", err)
		}
		cipher, err := ioutil.ReadAll(encReader)
		if err != nil {
			return encodingErr("encrypting upload content failed", err)
		}
		source = bytes.NewReader(cipher)
		contentSize = int64(len(cipher))
		description = "encrypted"
	}

	headers := map[string]string{
		"content-name":        item.name.Encoded(),
		"content-size":        fmt.Sprintf("%d", contentSize),
		"content-timestamp":   fmt.Sprintf("%d", item.timestamp),
		"content-mimetype":    mimeType,
		"content-path":        normalizeContentPath(parentDirOf(relPath)),
		"content-description": description,
	}

	if e.uploadBps > 0 {
		source = flowrate.NewReader(source, e.uploadBps)
	}

	bar := newProgressBar(contentSize, e.showProgress)
	progressCh := make(chan int64)
	go drainProgressBar(bar, progressCh)
	defer close(progressCh)

	remaining := contentSize
	streamID := ""
	first := true
	for {
		n := remaining
		if n > chunkSize {
			n = chunkSize
		}
		chunkHeaders := map[string]string{}
		if first {
			for k, v := range headers {
				chunkHeaders[k] = v
			}
		} else {
			chunkHeaders["content-token"] = streamID
		}

		resp, err := e.remote.UploadChunk(parentID, chunkHeaders, io.LimitReader(source, n), n, progressCh)
		if err != nil {
			return networkErr("upload chunk failed", err)
		}
		if resp.Message != "" {
			return protocolErr("upload aborted: "+resp.Message, nil)
		}
		remaining -= n
		first = false
		if remaining <= 0 {
			break
		}
		streamID = resp.StreamID
		if streamID == "" && remaining > 0 {
			return protocolErr("upload response missing stream_id with bytes remaining", nil)
		}
	}
	return nil
}

// normalizeContentPath turns an OS-style relative parent path into the
// forward-slash form §4.3 specifies, with "." (repository root) encoded
// as "/".
func normalizeContentPath(parentRelPath string) string {
	p := filepath.ToSlash(parentRelPath)
	if p == "." || p == "" {
		return "/"
	}
	return p
}

// uploadTree creates the remote directory then uploads every descendant,
// aborting the whole subtree (without advancing snapshot for any child)
// on the first failure, per §4.3 "Directory upload".
func (e *Executor) uploadTree(a Action) error {
	s, ok := a.Scanned.(*LocalItem)
	if !ok {
		return corruptedErr("LocalAdded action missing scanned item", nil)
	}
	// LocalAdded always carries a nil a.Remote (classify never has a remote
	// counterpart to attach at this path, or it wouldn't be LocalAdded), so
	// the upload parent has to be resolved by walking the remote tree to
	// the already-synced parent directory instead.
	newItem, err := e.uploadRecursive(e.remoteParentID(a.Path), s, a.Path)
	if err != nil {
		return err
	}
	e.snapshot.Insert(a.Path, newItem)
	return nil
}

// remoteParentID resolves the remote id of relPath's parent directory, or
// nil if relPath is already at the repository root.
func (e *Executor) remoteParentID(relPath string) *uint64 {
	parentPath := parentDirOf(relPath)
	if parentPath == "." {
		return nil
	}
	parent, ok := e.remoteTree.Locate(parentPath)
	if !ok {
		return nil
	}
	id := parent.ID
	return &id
}

func (e *Executor) uploadRecursive(parentID *uint64, item *LocalItem, relPath string) (*LocalItem, error) {
	if item.isRegularFile {
		if err := e.uploadLeaf(parentID, item, relPath); err != nil {
			return nil, err
		}
		return cloneLocalLeaf(item), nil
	}

	parentKey := "root"
	if parentID != nil {
		parentKey = fmt.Sprintf("%d", *parentID)
	}
	cacheKey := parentKey + "/" + item.name.Encoded()
	var created *RemoteItem
	if cached, ok := e.mkdirCache.Get(cacheKey); ok && cached != nil {
		if castItem, castOk := cached.Value().(*RemoteItem); castOk && castItem != nil {
			created = castItem
		}
	}
	if created == nil {
		var err error
		created, err = e.remote.MakeDirectory(parentID, item.name)
		if err != nil {
			return nil, networkErr("make-directory failed", err)
		}
		e.mkdirCache.Put(cacheKey, newExpirableMkdirValue(created))
	}

	dir := NewLocalDir(item.name)
	names := make([]string, 0, len(item.children))
	for name := range item.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := item.children[name]
		id := created.ID
		uploaded, err := e.uploadRecursive(&id, child, joinRelative(relPath, name))
		if err != nil {
			return nil, err
		}
		dir.addChild(uploaded)
	}
	return dir, nil
}

func (e *Executor) downloadFile(a Action) error {
	r, ok := a.Remote.(*RemoteItem)
	if !ok {
		return corruptedErr("download action missing remote item", nil)
	}
	item, err := e.downloadLeaf(r)
	if err != nil {
		return err
	}
	e.snapshot.Insert(a.Path, item)
	return nil
}

// downloadLeaf streams the remote file into .fileshare/tmp/download_<id>
// and atomically renames it into place on success, per §4.3 "Directory
// download" and §6.1. The mtime is set from the remote timestamp.
func (e *Executor) downloadLeaf(r *RemoteItem) (*LocalItem, error) {
	if err := os.MkdirAll(e.tmpDir, 0755); err != nil {
		return nil, filesystemErr("cannot create tmp dir", err)
	}
	tmpPath := filepath.Join(e.tmpDir, fmt.Sprintf("download_%d", r.ID))

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, filesystemErr("cannot create temp download file", err)
	}

	var dst io.Writer = f
	if e.downloadBps > 0 {
		dst = flowrate.NewWriter(f, e.downloadBps)
	}

	bar := newProgressBar(int64(r.Size()), e.showProgress)
	progressCh := make(chan int64)
	go drainProgressBar(bar, progressCh)

	err = e.remote.DownloadFile(r.ID, dst, progressCh)
	close(progressCh)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return nil, networkErr("download failed", err)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return nil, filesystemErr("closing downloaded file failed", closeErr)
	}

	if e.decryptPassword != nil {
		if err := decryptFileInPlace(tmpPath, e.decryptPassword); err != nil {
			os.Remove(tmpPath)
			return nil, encodingErr("decrypting downloaded content failed", err)
		}
	}

	dest := e.osPath(r.PathFromRoot())
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		os.Remove(tmpPath)
		return nil, filesystemErr("cannot create destination directory", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return nil, filesystemErr("renaming downloaded file into place failed", err)
	}
	if err := setMtimeMillis(dest, r.Timestamp()); err != nil {
		return nil, filesystemErr("setting mtime on downloaded file failed", err)
	}

	return NewLocalFile(r.Name(), r.Size(), r.Timestamp(), r.MimeType()), nil
}

// decryptFileInPlace decrypts tmpPath's content with password and
// overwrites it with the plaintext. dcrypto.NewDecrypter already
// stages its own temp file to verify the HMAC before yielding plaintext,
// so this just drains that reader back over the original file.
func decryptFileInPlace(tmpPath string, password []byte) error {
	encrypted, err := os.Open(tmpPath)
	if err != nil {
		return err
	}
	decReader, err := dcrypto.NewDecrypter(encrypted, password)
	encrypted.Close()
	if err != nil {
		return err
	}
	defer decReader.Close()

	plainPath := tmpPath + ".plain"
	out, err := os.Create(plainPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, decReader); err != nil {
		out.Close()
		os.Remove(plainPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(plainPath)
		return err
	}
	return os.Rename(plainPath, tmpPath)
}

// downloadTree creates the local directory and downloads every remote child
// beneath it. The snapshot is advanced once, for the whole subtree, after
// every child has been downloaded; the directory is not entered into the
// snapshot before its children, and a failure part-way leaves the snapshot
// untouched for the whole subtree.
func (e *Executor) downloadTree(a Action) error {
	r, ok := a.Remote.(*RemoteItem)
	if !ok {
		return corruptedErr("RemoteAdded action missing remote item", nil)
	}
	item, err := e.downloadRecursive(r)
	if err != nil {
		return err
	}
	e.snapshot.Insert(a.Path, item)
	return nil
}

func (e *Executor) downloadRecursive(r *RemoteItem) (*LocalItem, error) {
	if r.IsRegularFile() {
		return e.downloadLeaf(r)
	}

	dest := e.osPath(r.PathFromRoot())
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, filesystemErr("cannot create directory", err)
	}

	dir := NewLocalDir(r.Name())
	for _, child := range e.remoteTree.ChildrenOf(r.ID) {
		downloaded, err := e.downloadRecursive(child)
		if err != nil {
			return nil, err
		}
		dir.addChild(downloaded)
	}
	return dir, nil
}

// trashRemote moves the (file or directory) remote counterpart to trash
// and drops the snapshot entry, per LocalRemoved.
func (e *Executor) trashRemote(a Action) error {
	r, ok := a.Remote.(*RemoteItem)
	if !ok {
		return corruptedErr("LocalRemoved action missing remote item", nil)
	}
	if err := e.remote.MoveToTrash([]uint64{r.ID}); err != nil {
		return err
	}
	e.snapshot.Remove(a.Path)
	return nil
}

// deleteLocal removes the local counterpart (recursively for a directory)
// and drops the snapshot entry, per RemoteRemoved.
func (e *Executor) deleteLocal(a Action) error {
	target := e.osPath(a.Path)
	if err := os.RemoveAll(target); err != nil {
		return filesystemErr("cannot remove local item", err)
	}
	e.snapshot.Remove(a.Path)
	return nil
}

// CleanStaleDownloads removes any leftover .fileshare/tmp/download_* files
// from an unclean previous termination, per §5's cancellation invariant.
func CleanStaleDownloads(tmpDir string) error {
	entries, err := ioutil.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return filesystemErr("cannot list tmp dir", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "download_") {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}
