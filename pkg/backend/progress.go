package backend

import (
	"io"
	"sync"
)

// ProgressReader wraps a reader and reports the running byte count after
// every read.
type ProgressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    ProgressFunc
}

// NewProgressReader returns r unchanged when fn is nil.
func NewProgressReader(r io.Reader, total int64, fn ProgressFunc) io.Reader {
	if fn == nil {
		return r
	}
	return &ProgressReader{r: r, total: total, fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.fn(Progress{BytesTransferred: p.read, TotalBytes: p.total})
	}
	return n, err
}

// Monotonic guards fn so the values it sees never decrease, even when an
// upload restarts from zero on retry. Safe for concurrent use.
func Monotonic(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return nil
	}
	var (
		mu   sync.Mutex
		last int64 = -1
	)
	return func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.BytesTransferred <= last {
			return
		}
		last = p.BytesTransferred
		fn(p)
	}
}
