package bincode

import "sync"

const (
	// Writers whose buffers grew past this are dropped instead of pooled
	poolMaxCap  = 1 << 20
	poolInitCap = 256
)

var writerPool = sync.Pool{
	New: func() any {
		return &Writer{buf: make([]byte, 0, poolInitCap)}
	},
}

// GetWriter returns an empty pooled Writer configured with cfg.
func GetWriter(cfg Config) *Writer {
	w := writerPool.Get().(*Writer)
	w.cfg = cfg.normalize()
	w.Reset()
	return w
}

// PutWriter returns w to the pool. w must not be used afterwards.
func PutWriter(w *Writer) {
	if w == nil || cap(w.buf) > poolMaxCap {
		return
	}
	w.buf = w.buf[:0]
	writerPool.Put(w)
}

// Marshal encodes with fn into a fresh byte slice.
func Marshal(cfg Config, fn func(*Writer) error) ([]byte, error) {
	w := GetWriter(cfg)
	defer PutWriter(w)
	if err := fn(w); err != nil {
		return nil, err
	}
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}
