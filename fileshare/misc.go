package fileshare

import (
	"os"
	"time"

	expirableCache "github.com/odeke-em/cache"
)

// newExpirableMkdirValue wraps a just-created remote directory for the
// make-directory memoization cache, the way the teacher's
// newExpirableCacheValue wraps a resolved remote *File for mkdirAllCache.
func newExpirableMkdirValue(item *RemoteItem) *expirableCache.ExpirableValue {
	return expirableCache.NewExpirableValueWithOffset(item, uint64(time.Hour))
}

// setMtimeMillis sets path's mtime from a milliseconds-since-epoch value,
// the way the teacher's serializeAsDesktopEntry sets mtime via
// os.Chtimes after writing a file out.
func setMtimeMillis(path string, millis uint64) error {
	t := time.Unix(0, int64(millis)*int64(time.Millisecond))
	return os.Chtimes(path, t, t)
}
