package fileshare

import (
	"io/ioutil"
	"mime"
	"os"
	"path/filepath"

	"github.com/fileshare-client/fileshare/config"
	"github.com/fileshare-client/fileshare/pathname"
)

// Scan walks root (a repository checkout) and builds the LocalTree the
// diff engine treats as S, skipping .fileshare itself the way the
// teacher's list() skips config.GDDirSuffix. Symlinks and other
// non-regular entries are not modeled, per §3.1.
func Scan(root string) (*LocalTree, error) {
	tree := NewLocalTree()
	entries, err := ioutil.ReadDir(root)
	if err != nil {
		return nil, filesystemErr("cannot read repository root", err)
	}
	for _, entry := range entries {
		if entry.Name() == config.FileshareDirSuffix {
			continue
		}
		item, err := scanEntry(filepath.Join(root, entry.Name()), entry)
		if err != nil {
			return nil, err
		}
		if item != nil {
			tree.InsertRoot(item)
		}
	}
	return tree, nil
}

func scanEntry(absPath string, info os.FileInfo) (*LocalItem, error) {
	name := pathname.FromOSPath(info.Name())
	if info.Mode()&os.ModeSymlink != 0 || !(info.Mode().IsRegular() || info.IsDir()) {
		return nil, nil
	}

	if info.IsDir() {
		dir := NewLocalDir(name)
		children, err := ioutil.ReadDir(absPath)
		if err != nil {
			return nil, filesystemErr("cannot read directory "+absPath, err)
		}
		for _, child := range children {
			childItem, err := scanEntry(filepath.Join(absPath, child.Name()), child)
			if err != nil {
				return nil, err
			}
			if childItem != nil {
				dir.addChild(childItem)
			}
		}
		return dir, nil
	}

	mimeType := mime.TypeByExtension(filepath.Ext(info.Name()))
	return NewLocalFile(name, uint64(info.Size()), uint64(info.ModTime().UnixNano()/1e6), pathname.FromClient(mimeType)), nil
}
