package fileshare

import (
	logpkg "github.com/odeke-em/log"

	"github.com/fileshare-client/fileshare/config"
)

// Repository is the composition root: it holds the configuration, the
// three tree views, and the remote store handle, with lazy
// initialization and memoization on scanned()/snapshot()/remote(), and
// guarantees the two atomic writes (snapshot then config) on Close.
type Repository struct {
	ctx   *config.Context
	store RemoteStore
	log   *logpkg.Logger

	scannedTree  *LocalTree
	snapshotTree *LocalTree
	remoteTree   *RemoteTree

	dirty bool // true once apply_actions has mutated the snapshot
}

// NewRepository opens a repository rooted at ctx.AbsPath, acquiring the
// startup lock (§4.4). Callers must call Close to release it and flush
// state.
func NewRepository(ctx *config.Context, store RemoteStore, log *logpkg.Logger) (*Repository, error) {
	if err := ctx.Lock(); err != nil {
		if err == config.ErrLockHeld {
			return nil, lockHeldErr("a previous instance may have crashed or is still running")
		}
		return nil, configErr("cannot acquire startup lock", err)
	}
	if err := CleanStaleDownloads(ctx.TmpDir()); err != nil {
		log.LogErrf("warning: could not clean stale downloads: %v\n", err)
	}
	return &Repository{ctx: ctx, store: store, log: log}, nil
}

// Scanned returns the live filesystem view, scanning disk on first call
// and memoizing the result for subsequent calls.
func (r *Repository) Scanned() (*LocalTree, error) {
	if r.scannedTree == nil {
		tree, err := Scan(r.ctx.AbsPath)
		if err != nil {
			return nil, err
		}
		r.scannedTree = tree
	}
	return r.scannedTree, nil
}

// Snapshot returns the persisted last-synced view, loading it on first
// call. A missing database.json is treated as an empty tree.
func (r *Repository) Snapshot() (*LocalTree, error) {
	if r.snapshotTree == nil {
		data, err := r.ctx.ReadSnapshot()
		if err != nil {
			return nil, filesystemErr("cannot read snapshot", err)
		}
		tree, err := DeserializeSnapshot(data)
		if err != nil {
			return nil, err
		}
		r.snapshotTree = tree
	}
	return r.snapshotTree, nil
}

// Remote returns the authoritative remote view, fetching the flat listing
// and building a RemoteTree on first call. A spinner runs for the
// duration of the fetch, the way teacher's playabler() does around
// Commands.About()/remote listing calls with no byte count to report
// progress against.
func (r *Repository) Remote() (*RemoteTree, error) {
	if r.remoteTree == nil {
		spin := newSpinner(StdoutIsTTY())
		startSpinner(spin)
		flat, err := r.store.ListContent()
		stopSpinner(spin)
		if err != nil {
			return nil, err
		}
		tree, err := NewRemoteTree(flat)
		if err != nil {
			return nil, err
		}
		r.remoteTree = tree
	}
	return r.remoteTree, nil
}

// Diff runs the three-way reconciliation over the repository's memoized
// views.
func (r *Repository) Diff() ([]Action, error) {
	scanned, err := r.Scanned()
	if err != nil {
		return nil, err
	}
	snapshot, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	remote, err := r.Remote()
	if err != nil {
		return nil, err
	}
	return Diff(scanned, snapshot, remote)
}

// ApplyActions runs actions through an Executor against the repository's
// snapshot, reporting any conflicts through onConflict. It marks the
// repository dirty so Close knows to persist the snapshot.
func (r *Repository) ApplyActions(actions []Action, onConflict func(Action), opts ...ExecOption) error {
	snapshot, err := r.Snapshot()
	if err != nil {
		return err
	}
	remote, err := r.Remote()
	if err != nil {
		return err
	}
	exec := NewExecutor(r.ctx.AbsPath, snapshot, r.store, remote, r.ctx.TmpDir(), onConflict, opts...)
	r.dirty = true
	return exec.Run(actions)
}

// Close performs the two atomic writes from §4.4: first the snapshot
// (database.json), then the config (via config.lock.json -> rename ->
// config.json). If the snapshot was never mutated, it releases the
// startup lock without rewriting either file.
func (r *Repository) Close() error {
	if !r.dirty {
		return r.ctx.Unlock()
	}
	if r.snapshotTree != nil {
		data, err := SerializeSnapshot(r.snapshotTree)
		if err != nil {
			return err
		}
		if err := r.ctx.AtomicWriteSnapshot(data); err != nil {
			return filesystemErr("cannot write snapshot", err)
		}
	}
	if err := r.ctx.Write(); err != nil {
		return configErr("cannot write config", err)
	}
	return nil
}
