package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
)

// CopyFile streams src to dst using io.Copy with default permissions (0o644).
func CopyFile(src, dst string) error {
	return CopyFileMode(src, dst, 0o644)
}

// CopyFileMode streams src to dst, setting the given file mode on dst.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// ReplaceFileVerified atomically replaces dst with the contents of src and
// confirms the result is byte-identical by SHA256. dst is either the old
// file or the complete new one; never a partial write.
func ReplaceFileVerified(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	srcHasher := sha256.New()
	if err := atomic.WriteFile(dst, io.TeeReader(in, srcHasher)); err != nil {
		return "", err
	}
	want := srcHasher.Sum(nil)
	// atomic creates its temp file 0o600; served assets must be world-readable.
	if err := os.Chmod(dst, 0o644); err != nil {
		return "", err
	}

	got, err := hashFile(dst)
	if err != nil {
		return "", fmt.Errorf("verify copy: %w", err)
	}
	if !bytes.Equal(want, got) {
		return "", fmt.Errorf("copy hash mismatch: %s differs from %s", dst, src)
	}
	return hex.EncodeToString(got), nil
}

// WriteFileAtomic writes data to path via a temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// CopyTree copies the directory tree rooted at src into dst, preserving file
// modes and symlinks. skip receives slash-separated paths relative to src;
// returning true omits that entry (and its subtree for directories).
// Whatever already sits at a target path is replaced, never written through:
// a symlink left by an earlier copy is removed rather than followed.
func CopyTree(src, dst string, skip func(rel string, d fs.DirEntry) bool) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("copy tree: %s is not a directory", src)
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
		return err
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if skip != nil && skip(filepath.ToSlash(rel), d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			if existing, err := os.Lstat(target); err == nil && !existing.IsDir() {
				if err := os.Remove(target); err != nil {
					return err
				}
			}
			return os.MkdirAll(target, fi.Mode().Perm()|0o700)
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			// a fresh inode: no symlink is followed and read-only leftovers do not block the copy
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			return CopyFileMode(path, target, fi.Mode().Perm())
		default:
			// sockets, devices and fifos are not part of a source tree
			return nil
		}
	})
}

// PruneTree removes entries under dst that have no counterpart at the same
// relative path under src, so a following CopyTree leaves dst mirroring src.
// keep receives slash-separated paths relative to dst; kept directories are
// not descended into. It returns the number of entries removed.
func PruneTree(src, dst string, keep func(rel string, d fs.DirEntry) bool) (int, error) {
	if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	removed := 0
	err := filepath.WalkDir(dst, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dst, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if keep != nil && keep(filepath.ToSlash(rel), d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := os.Lstat(filepath.Join(src, rel)); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		removed++
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	return removed, err
}

// HashTree returns a stable SHA256 over the relative paths and contents of
// every regular file under the given roots (files or directories), resolved
// against base. Missing roots contribute their name only, so creating one
// changes the hash.
func HashTree(base string, roots []string, skip func(rel string) bool) (string, error) {
	type entry struct {
		rel  string
		path string
	}
	var entries []entry
	var missing []string

	for _, root := range roots {
		abs := filepath.Join(base, root)
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, filepath.ToSlash(root))
				continue
			}
			return "", err
		}
		if !info.IsDir() {
			entries = append(entries, entry{rel: filepath.ToSlash(root), path: abs})
			continue
		}
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			rel, err := filepath.Rel(base, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if skip != nil && skip(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				entries = append(entries, entry{rel: rel, path: path})
			}
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	sort.Strings(missing)

	h := sha256.New()
	for _, e := range entries {
		sum, err := hashFile(e.path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00%x\n", e.rel, sum)
	}
	for _, m := range missing {
		fmt.Fprintf(h, "missing\x00%s\n", m)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex SHA256 of a single file.
func HashFile(path string) (string, error) {
	sum, err := hashFile(path)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// DirNonEmpty reports whether path is a directory containing at least one entry.
func DirNonEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}

// Within reports whether child is path or a descendant of parent.
func Within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
