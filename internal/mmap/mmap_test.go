// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap // import "github.com/go-lpc/redpitaya/internal/mmap"

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestHandleFrom(t *testing.T) {
	h := HandleFrom([]byte{0, 1, 2, 3})

	if got, want := h.Len(), 4; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	if got, want := h.At(1), byte(1); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}

	_, err := h.WriteAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid WriteAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid ReadAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(make([]byte, 8), 2)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid short read error: %+v", err)
	}

	n, err := h.WriteAt([]byte{9, 9, 9}, 2)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid short write error: %+v", err)
	}
	if n != 2 {
		t.Fatalf("invalid short write: got=%d, want=2", n)
	}
}

func TestMap(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "mem")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create fake mem file: %+v", err)
	}
	defer f.Close()

	size := int64(os.Getpagesize())
	err = f.Truncate(2 * size)
	if err != nil {
		t.Fatalf("could not resize fake mem file: %+v", err)
	}

	_, err = Map(f, 1, size)
	if err == nil {
		t.Fatalf("expected an error for an unaligned base address")
	}

	h, err := Map(f, size, size)
	if err != nil {
		t.Fatalf("could not mmap fake mem file: %+v", err)
	}
	defer h.Close()

	if got, want := h.Base(), size; got != want {
		t.Fatalf("invalid base: got=0x%x, want=0x%x", got, want)
	}
	if got, want := h.Len(), int(size); got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	_, err = h.WriteAt([]byte{0xca, 0xfe}, 4)
	if err != nil {
		t.Fatalf("could not write to mmap'd region: %+v", err)
	}

	buf := make([]byte, 2)
	_, err = f.ReadAt(buf, size+4)
	if err != nil {
		t.Fatalf("could not read back fake mem file: %+v", err)
	}
	if buf[0] != 0xca || buf[1] != 0xfe {
		t.Fatalf("invalid mmap'd content: got=%x", buf)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close mmap handle: %+v", err)
	}
}
