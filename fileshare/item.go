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

package fileshare

import (
	"strings"

	"github.com/fileshare-client/fileshare/pathname"
)

// Item is the read-only capability surface shared by LocalItem and
// RemoteItem. Write operations are variant-specific and live on the
// concrete types; callers that need them branch on the concrete type
// explicitly rather than going through this interface.
type Item interface {
	Name() pathname.PathName
	IsRegularFile() bool
	Size() uint64
	// Timestamp is milliseconds since epoch; zero means unknown. Ignored
	// for directories by the diff engine.
	Timestamp() uint64
	MimeType() pathname.PathName
	Parent() (Item, bool)
	Children() []Item
	PathFromRoot() string
}

// LocalItem owns its subtree directly; Parent is a weak (non-owning)
// back-reference fixed up after deserialization, per the snapshot
// parent-rebuild design note.
type LocalItem struct {
	name          pathname.PathName
	isRegularFile bool
	size          uint64
	timestamp     uint64
	mimeType      pathname.PathName
	relativePath  string

	parent   *LocalItem
	children map[string]*LocalItem
}

// NewLocalFile constructs a regular-file LocalItem with no children.
func NewLocalFile(name pathname.PathName, size, timestamp uint64, mimeType pathname.PathName) *LocalItem {
	return &LocalItem{
		name:          name,
		isRegularFile: true,
		size:          size,
		timestamp:     timestamp,
		mimeType:      mimeType,
	}
}

// NewLocalDir constructs a directory LocalItem. Size and timestamp are
// irrelevant for directories per §3.2 invariant 4.
func NewLocalDir(name pathname.PathName) *LocalItem {
	return &LocalItem{
		name:          name,
		isRegularFile: false,
		children:      make(map[string]*LocalItem),
	}
}

func (l *LocalItem) Name() pathname.PathName   { return l.name }
func (l *LocalItem) IsRegularFile() bool       { return l.isRegularFile }
func (l *LocalItem) Size() uint64              { return l.size }
func (l *LocalItem) Timestamp() uint64         { return l.timestamp }
func (l *LocalItem) MimeType() pathname.PathName { return l.mimeType }

func (l *LocalItem) Parent() (Item, bool) {
	if l.parent == nil {
		return nil, false
	}
	return l.parent, true
}

func (l *LocalItem) Children() []Item {
	out := make([]Item, 0, len(l.children))
	for _, c := range l.children {
		out = append(out, c)
	}
	return out
}

// LocalChildren returns the concrete *LocalItem children, for callers that
// need to mutate the tree rather than just read it.
func (l *LocalItem) LocalChildren() map[string]*LocalItem {
	return l.children
}

// LocalParent returns the concrete parent back-reference, or nil at a root.
func (l *LocalItem) LocalParent() *LocalItem {
	return l.parent
}

// PathFromRoot joins encoded names from the root down to this item with
// "/"; the root itself is the empty path.
func (l *LocalItem) PathFromRoot() string {
	if l.relativePath != "" {
		return l.relativePath
	}
	if l.parent == nil {
		return ""
	}
	parentPath := l.parent.PathFromRoot()
	if parentPath == "" {
		return l.name.Encoded()
	}
	return parentPath + "/" + l.name.Encoded()
}

// addChild attaches child under l, wiring the weak parent back-reference
// and the relativePath cache. Panics on a duplicate sibling name: sibling
// uniqueness is a tree invariant the caller must uphold.
func (l *LocalItem) addChild(child *LocalItem) {
	if l.children == nil {
		l.children = make(map[string]*LocalItem)
	}
	key := child.name.Encoded()
	if _, exists := l.children[key]; exists {
		panic("fileshare: duplicate sibling name " + key)
	}
	child.parent = l
	child.relativePath = joinRelative(l.PathFromRoot(), key)
	l.children[key] = child
}

func joinRelative(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// splitPath breaks a relative path ("a/b/c") into its encoded-name
// components, tolerating a leading/trailing slash.
func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// RemoteItem carries an opaque id and resolves parent/children by lookup
// against the enclosing RemoteTree rather than owning references, since a
// flat listing has no natural ownership direction.
type RemoteItem struct {
	ID            uint64            `json:"id"`
	ParentID      *uint64           `json:"parent_item,omitempty"`
	NameField     pathname.PathName `json:"-"`
	RawName       string            `json:"name"`
	Repository    string            `json:"repos,omitempty"`
	Owner         string            `json:"owner,omitempty"`
	Regular       bool              `json:"is_regular_file"`
	Description   string            `json:"description,omitempty"`
	IsTrash       bool              `json:"is_trash,omitempty"`
	SizeField     uint64            `json:"size"`
	MimeField     string            `json:"mimetype,omitempty"`
	TimestampField uint64           `json:"timestamp"`
	AbsolutePath  string            `json:"absolute_path,omitempty"`
	OpenUpload    bool              `json:"open_upload,omitempty"`

	tree *RemoteTree
}

func (r *RemoteItem) Name() pathname.PathName {
	if r.NameField.Empty() && r.RawName != "" {
		r.NameField = pathname.FromEncoded(r.RawName)
	}
	return r.NameField
}

func (r *RemoteItem) IsRegularFile() bool         { return r.Regular }
func (r *RemoteItem) Size() uint64                { return r.SizeField }
func (r *RemoteItem) Timestamp() uint64           { return r.TimestampField }
func (r *RemoteItem) MimeType() pathname.PathName { return pathname.FromEncoded(r.MimeField) }

func (r *RemoteItem) Parent() (Item, bool) {
	if r.ParentID == nil || r.tree == nil {
		return nil, false
	}
	parent, ok := r.tree.Lookup(*r.ParentID)
	if !ok {
		return nil, false
	}
	return parent, true
}

func (r *RemoteItem) Children() []Item {
	if r.tree == nil {
		return nil
	}
	items := r.tree.ChildrenOf(r.ID)
	out := make([]Item, 0, len(items))
	for _, c := range items {
		out = append(out, c)
	}
	return out
}

func (r *RemoteItem) PathFromRoot() string {
	parent, ok := r.Parent()
	if !ok {
		return r.Name().Encoded()
	}
	return joinRelative(parent.PathFromRoot(), r.Name().Encoded())
}
