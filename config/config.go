// Copyright 2013 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config persists repository configuration (origin, user, repo
// name, editor command, auth token) and owns the repository's startup
// lock, the way the teacher's config.Context owns its OAuth credentials
// file under .gd.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path"
)

var (
	FileshareDirSuffix = ".fileshare"

	ErrNoContext  = errors.New("no fileshare context found; run `fileshare init` or `fileshare clone` first")
	ErrLockHeld   = errors.New("fileshare: config.lock.json present; another instance is running or crashed")
)

const (
	configFile   = "config.json"
	lockFile     = "config.lock.json"
	snapshotFile = "database.json"
	tmpDir       = "tmp"

	filePerm = 0600
	dirPerm  = 0755
)

// Context is the persisted repository configuration, one JSON document per
// .fileshare/config.json.
type Context struct {
	OriginURL string `json:"origin_url"`
	User      string `json:"user"`
	Repo      string `json:"repo"`
	Editor    string `json:"editor,omitempty"`

	AuthToken      string `json:"auth_token,omitempty"`
	AuthExpiration int64  `json:"auth_expiration,omitempty"`

	AbsPath string `json:"-"`
}

// AbsPathOf joins a path relative to the repository root.
func (c *Context) AbsPathOf(relPath string) string {
	return path.Join(c.AbsPath, relPath)
}

// FileshareDir is the repository's .fileshare directory.
func (c *Context) FileshareDir() string {
	return fileshareDir(c.AbsPath)
}

// TmpDir is .fileshare/tmp, where in-flight downloads are staged.
func (c *Context) TmpDir() string {
	return path.Join(c.FileshareDir(), tmpDir)
}

// Read loads config.json into c.
func (c *Context) Read() error {
	data, err := ioutil.ReadFile(configPath(c.AbsPath))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

// Write atomically persists c to config.json via the lock file: write the
// full document to config.lock.json, then rename over config.json. The
// startup lock (see Lock) uses the same file path, so the rename also
// consumes a lock taken by Lock: after a successful Write no lock file is
// left behind.
func (c *Context) Write() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(lockPath(c.AbsPath), configPath(c.AbsPath), data)
}

// atomicWrite implements write-tmp-then-rename: data is written in full to
// tmpPath, then renamed over destPath. A crash between the two leaves
// destPath untouched.
func atomicWrite(tmpPath, destPath string, data []byte) error {
	if err := ioutil.WriteFile(tmpPath, data, filePerm); err != nil {
		return err
	}
	return os.Rename(tmpPath, destPath)
}

// AtomicWriteSnapshot persists arbitrary already-marshaled snapshot bytes
// to database.json using the same write-tmp-then-rename discipline, via a
// dedicated temp file distinct from the config lock.
func (c *Context) AtomicWriteSnapshot(data []byte) error {
	tmp := snapshotPath(c.AbsPath) + ".tmp"
	return atomicWrite(tmp, snapshotPath(c.AbsPath), data)
}

// ReadSnapshot returns the raw bytes of database.json, or nil with no
// error if it does not exist yet (a fresh checkout has no prior snapshot,
// treated as an empty tree per §7's recovery policy).
func (c *Context) ReadSnapshot() ([]byte, error) {
	data, err := ioutil.ReadFile(snapshotPath(c.AbsPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Lock creates config.lock.json, failing with ErrLockHeld if it already
// exists. Called once at repository open.
func (c *Context) Lock() error {
	lp := lockPath(c.AbsPath)
	f, err := os.OpenFile(lp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		if os.IsExist(err) {
			return ErrLockHeld
		}
		return err
	}
	return f.Close()
}

// Unlock removes config.lock.json. Repository.Close calls it when it has
// nothing to write; when Close does write the config, Write's rename has
// already removed the lock file.
func (c *Context) Unlock() error {
	err := os.Remove(lockPath(c.AbsPath))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Locked reports whether the lock file is currently present.
func (c *Context) Locked() bool {
	_, err := os.Stat(lockPath(c.AbsPath))
	return err == nil
}

// Discover walks up from currentAbsPath looking for a .fileshare
// directory, the way the teacher's Discover walks up looking for .gd.
func Discover(currentAbsPath string) (*Context, error) {
	p := currentAbsPath
	for {
		info, err := os.Stat(fileshareDir(p))
		if err == nil && info.IsDir() {
			c := &Context{AbsPath: p}
			if err := c.Read(); err != nil {
				return nil, err
			}
			return c, nil
		}
		parent := path.Join(p, "..")
		if parent == p {
			break
		}
		p = parent
	}
	return nil, ErrNoContext
}

// Initialize creates .fileshare (and .fileshare/tmp) under absPath and
// writes an empty config.json, returning firstInit=false if a context
// already existed there.
func Initialize(absPath string) (c *Context, firstInit bool, err error) {
	dir := fileshareDir(absPath)
	info, statErr := os.Stat(dir)
	switch {
	case statErr == nil && info.IsDir():
		firstInit = false
	case os.IsNotExist(statErr):
		firstInit = true
	case statErr != nil:
		return nil, false, statErr
	default:
		return nil, false, fmt.Errorf("%s exists and is not a directory", dir)
	}

	if err = os.MkdirAll(path.Join(dir, tmpDir), dirPerm); err != nil {
		return nil, firstInit, err
	}

	c = &Context{AbsPath: absPath}
	if firstInit {
		if err = c.Write(); err != nil {
			return nil, firstInit, err
		}
	} else if err = c.Read(); err != nil {
		return nil, firstInit, err
	}
	return c, firstInit, nil
}

func fileshareDir(absPath string) string {
	return path.Join(absPath, FileshareDirSuffix)
}

func configPath(absPath string) string {
	return path.Join(fileshareDir(absPath), configFile)
}

func lockPath(absPath string) string {
	return path.Join(fileshareDir(absPath), lockFile)
}

func snapshotPath(absPath string) string {
	return path.Join(fileshareDir(absPath), snapshotFile)
}
