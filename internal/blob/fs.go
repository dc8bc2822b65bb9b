package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FilesystemStore stores each blob as a data file plus a sidecar metadata
// file under a root directory. Keys map to relative paths; path traversal
// outside the root is rejected.
type FilesystemStore struct {
	root string
}

const metaSuffix = ".meta.json"

// NewFilesystem constructs a filesystem-backed store rooted at the provided
// path (default ./blobdata).
func NewFilesystem(root string) (*FilesystemStore, error) {
	if root == "" {
		root = "blobdata"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &FilesystemStore{root: abs}, nil
}

func (f *FilesystemStore) Driver() Driver { return DriverFilesystem }

func (f *FilesystemStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

func (f *FilesystemStore) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	path, err := f.resolve(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(path); err == nil {
		return Info{}, fmt.Errorf("blob %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return Info{}, err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return Info{}, err
	}
	size, err := io.Copy(file, r)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return Info{}, err
	}
	info := Info{
		Key:          key,
		Size:         size,
		ContentType:  opts.ContentType,
		Metadata:     opts.Metadata,
		LastModified: time.Now().UTC(),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		_ = os.Remove(path)
		return Info{}, err
	}
	if err := os.WriteFile(path+metaSuffix, meta, 0o640); err != nil {
		_ = os.Remove(path)
		return Info{}, err
	}
	return info, nil
}

func (f *FilesystemStore) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	info, err := f.Head(ctx, key)
	if err != nil {
		return Info{}, nil, err
	}
	path, err := f.resolve(key)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return Info{}, nil, err
	}
	return info, file, nil
}

func (f *FilesystemStore) Head(_ context.Context, key string) (Info, error) {
	path, err := f.resolve(key)
	if err != nil {
		return Info{}, err
	}
	meta, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(meta, &info); err != nil {
		return Info{}, fmt.Errorf("decode blob metadata %s: %w", key, err)
	}
	return info, nil
}

func (f *FilesystemStore) Delete(_ context.Context, key string) (bool, error) {
	path, err := f.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	_ = os.Remove(path + metaSuffix)
	return true, nil
}

func (f *FilesystemStore) List(_ context.Context, prefix string) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(f.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		meta, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var info Info
		if err := json.Unmarshal(meta, &info); err != nil {
			return fmt.Errorf("decode blob metadata %s: %w", path, err)
		}
		if strings.HasPrefix(info.Key, prefix) {
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (f *FilesystemStore) PresignURL(context.Context, string, SignedURLOptions) (string, error) {
	return "", ErrUnsupported
}
