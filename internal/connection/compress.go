package connection

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

var (
	zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

	errInflaterClosed = errors.New("inflater closed")
)

type inflated struct {
	data []byte
	err  error
}

// inflater decodes a zlib-stream connection. The whole connection is one
// zlib stream; every message ending in a sync flush completes exactly one
// JSON document.
type inflater struct {
	pw   *io.PipeWriter
	out  chan inflated
	done chan struct{}
	once sync.Once
}

func newInflater() *inflater {
	pr, pw := io.Pipe()
	f := &inflater{
		pw:   pw,
		out:  make(chan inflated, 16),
		done: make(chan struct{}),
	}
	go f.run(pr)
	return f
}

func (f *inflater) run(pr *io.PipeReader) {
	defer pr.Close()

	zr, err := zlib.NewReader(pr)
	if err != nil {
		f.emit(inflated{err: err})
		return
	}
	defer zr.Close()

	dec := json.NewDecoder(zr)
	for {
		var doc json.RawMessage
		if err := dec.Decode(&doc); err != nil {
			f.emit(inflated{err: err})
			return
		}
		if !f.emit(inflated{data: doc}) {
			return
		}
	}
}

func (f *inflater) emit(r inflated) bool {
	select {
	case f.out <- r:
		return true
	case <-f.done:
		return false
	}
}

// Inflate feeds one compressed message. complete is false while the
// message is only part of a document.
func (f *inflater) Inflate(msg []byte) (doc []byte, complete bool, err error) {
	if _, err := f.pw.Write(msg); err != nil {
		return nil, false, err
	}
	if !bytes.HasSuffix(msg, zlibSuffix) {
		return nil, false, nil
	}

	select {
	case r := <-f.out:
		return r.data, r.err == nil, r.err
	case <-f.done:
		return nil, false, errInflaterClosed
	}
}

// Close stops the decoding goroutine.
func (f *inflater) Close() {
	f.once.Do(func() {
		close(f.done)
		f.pw.CloseWithError(errInflaterClosed)
	})
}
