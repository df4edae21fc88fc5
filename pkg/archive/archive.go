package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketArchives = []byte("archives")

	// ErrNotFound reports that no snapshot exists for a prefix.
	ErrNotFound = errors.New("archive not found")
)

// Store keeps compressed workspace snapshots in an embedded bbolt
// database, keyed by storage prefix.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the archive database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketArchives); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketArchives, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Save compresses the directory and stores it under prefix, replacing
// any earlier snapshot with the same prefix.
func (s *Store) Save(prefix, dir string) error {
	data, err := compressDir(dir)
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", dir, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArchives)
		return b.Put([]byte(prefix), data)
	})
}

// Restore extracts the snapshot stored under prefix into dir. The
// directory is created if missing; existing files are overwritten.
func (s *Store) Restore(prefix, dir string) error {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArchives)
		raw := b.Get([]byte(prefix))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, prefix)
		}
		// Copy out: bolt data is only valid inside the transaction.
		data = make([]byte, len(raw))
		copy(data, raw)
		return nil
	})
	if err != nil {
		return err
	}

	if err := extractArchive(data, dir); err != nil {
		return fmt.Errorf("failed to extract %s: %w", prefix, err)
	}
	return nil
}

// Delete removes the snapshot stored under prefix. Deleting a missing
// prefix is not an error.
func (s *Store) Delete(prefix string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArchives)
		return b.Delete([]byte(prefix))
	})
}

// List returns all stored prefixes.
func (s *Store) List() ([]string, error) {
	var prefixes []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArchives)
		return b.ForEach(func(k, v []byte) error {
			prefixes = append(prefixes, string(k))
			return nil
		})
	})
	return prefixes, err
}

// compressDir produces a gzipped tarball of dir with paths relative to
// its root.
func compressDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// extractArchive unpacks a gzipped tarball into dir, rejecting entries
// that would escape it.
func extractArchive(data []byte, dir string) error {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	root := filepath.Clean(dir)

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		target := filepath.Join(root, hdr.Name)
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes target directory: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}
