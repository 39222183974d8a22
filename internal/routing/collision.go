package routing

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"downnest/internal/config"
	"downnest/internal/fileutil"
)

// MaxCollisionSuffix bounds the "name (n).ext" search.
const MaxCollisionSuffix = 999

// ErrCollision reports that no free destination name was found.
var ErrCollision = errors.New("destination collision unresolved")

// SuffixedName returns name with " (n)" inserted before its extension.
// Multi-part archive extensions such as ".tar.gz" are kept together.
func SuffixedName(name string, n int) string {
	if n <= 0 {
		return name
	}
	stem, ext := splitName(name)
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}

func splitName(name string) (string, string) {
	lower := strings.ToLower(name)
	for _, compound := range []string{".tar.gz", ".tar.bz2", ".tar.xz"} {
		if strings.HasSuffix(lower, compound) && len(name) > len(compound) {
			return name[:len(name)-len(compound)], name[len(name)-len(compound):]
		}
	}
	ext := filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

type moveFunc func(src, dst string) (bool, error)

// placeFile moves src into destDir. With the suffix policy it walks
// "name (1).ext" through "name (999).ext" until a rename succeeds; every
// attempt refuses to replace an existing file.
func placeFile(move moveFunc, src, destDir, policy string) (dest string, crossDevice bool, err error) {
	name := filepath.Base(src)
	limit := 0
	if policy != config.CollisionFail {
		limit = MaxCollisionSuffix
	}
	for n := 0; n <= limit; n++ {
		dest = filepath.Join(destDir, SuffixedName(name, n))
		crossDevice, err = move(src, dest)
		if err == nil {
			return dest, crossDevice, nil
		}
		if !errors.Is(err, fileutil.ErrDestinationExists) {
			return "", crossDevice, err
		}
	}
	return "", false, fmt.Errorf("%w: %s", ErrCollision, filepath.Join(destDir, name))
}
