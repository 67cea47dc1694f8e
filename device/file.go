// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package device

import (
	"context"
	"encoding/base32"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/frugal-object-store/segsync/event"
)

// pathEncoding matches storj.io/storj/storage/filestore's lower-case,
// unpadded base32 alphabet so directory names stay filesystem-safe and
// case-insensitive-fs-safe.
var pathEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

const (
	lumpPermission = 0600
	dirPermission  = 0700
)

// File is a Handle backed by a directory tree, one file per lump, named by
// the base32 encoding of the LumpId. Deletes first attempt an atomic move
// into a garbage subdirectory before falling back to a direct remove,
// mirroring storj.io/storj/storage/filestore.Dir.DeleteWithStorageFormat —
// the garbage dir absorbs deletes that race an open file handle so List
// never observes a half-removed lump.
type File struct {
	log  *zap.Logger
	path string
}

// OpenFile creates (if necessary) and opens a directory-backed device at
// path.
func OpenFile(log *zap.Logger, path string) (*File, error) {
	f := &File{log: log, path: path}
	return f, errs.Combine(
		os.MkdirAll(f.lumpsdir(), dirPermission),
		os.MkdirAll(f.garbagedir(), dirPermission),
	)
}

func (f *File) lumpsdir() string   { return filepath.Join(f.path, "lumps") }
func (f *File) garbagedir() string { return filepath.Join(f.path, "garbage") }

func lumpFileName(id event.LumpID) string {
	var buf [1 + 8 + 8 + 4]byte
	buf[0] = byte(id.Kind)
	binary.BigEndian.PutUint64(buf[1:9], uint64(id.Version))
	binary.BigEndian.PutUint64(buf[9:17], id.Node.Segment)
	binary.BigEndian.PutUint32(buf[17:21], id.Node.Replica)
	return pathEncoding.EncodeToString(buf[:])
}

func (f *File) lumpPath(id event.LumpID) string {
	return filepath.Join(f.lumpsdir(), lumpFileName(id))
}

// List implements Handle.
func (f *File) List(ctx context.Context) ([]event.LumpID, error) {
	entries, err := ioutil.ReadDir(f.lumpsdir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}
	ids := make([]event.LumpID, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := decodeLumpFileName(entry.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func decodeLumpFileName(name string) (event.LumpID, bool) {
	raw, err := pathEncoding.DecodeString(name)
	if err != nil || len(raw) != 1+8+8+4 {
		return event.LumpID{}, false
	}
	return event.LumpID{
		Kind:    event.LumpKind(raw[0]),
		Version: event.ObjectVersion(binary.BigEndian.Uint64(raw[1:9])),
		Node: event.NodeID{
			Segment: binary.BigEndian.Uint64(raw[9:17]),
			Replica: binary.BigEndian.Uint32(raw[17:21]),
		},
	}, true
}

// Head implements Handle.
func (f *File) Head(ctx context.Context, id event.LumpID) (bool, error) {
	_, err := os.Stat(f.lumpPath(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

// Delete implements Handle.
func (f *File) Delete(ctx context.Context, id event.LumpID) (bool, error) {
	path := f.lumpPath(id)
	garbagePath := filepath.Join(f.garbagedir(), lumpFileName(id))

	moveErr := os.Rename(path, garbagePath)
	if os.IsNotExist(moveErr) {
		return false, nil
	}
	target := garbagePath
	if moveErr != nil {
		target = path
	}
	err := os.Remove(target)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

// Put implements Handle.
func (f *File) Put(ctx context.Context, id event.LumpID, data []byte) (err error) {
	tmp, err := ioutil.TempFile(f.lumpsdir(), "lump-*.partial")
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return Error.Wrap(errs.Combine(err, tmp.Close()))
	}
	if err = tmp.Sync(); err != nil {
		return Error.Wrap(errs.Combine(err, tmp.Close()))
	}
	if err = tmp.Close(); err != nil {
		return Error.Wrap(err)
	}
	if err = os.Chmod(tmp.Name(), lumpPermission); err != nil {
		return Error.Wrap(err)
	}
	if err = os.Rename(tmp.Name(), f.lumpPath(id)); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// Get implements Handle.
func (f *File) Get(ctx context.Context, id event.LumpID) ([]byte, error) {
	file, err := os.Open(f.lumpPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Error.New("lump not found: %+v", id)
		}
		return nil, Error.Wrap(err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}
