package gateway

import "sync/atomic"

// Sequence is the atomically-guarded last-seen sequence number of the
// gateway connection. Zero means no dispatch has been seen yet.
type Sequence struct {
	seq int64
}

func (s *Sequence) Get() int64 {
	return atomic.LoadInt64(&s.seq)
}

func (s *Sequence) Set(seq int64) {
	atomic.StoreInt64(&s.seq, seq)
}

func (s *Sequence) Reset() {
	atomic.StoreInt64(&s.seq, 0)
}
