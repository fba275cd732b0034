package ingest

import (
	"sync/atomic"

	"dataproc/internal/domain/common"
)

var failureKinds = []common.Kind{
	common.KindFraming,
	common.KindPayloadDecode,
	common.KindStorageUnavailable,
	common.KindStorageWrite,
	common.KindUnknown,
}

// Stats counts what the worker did since start. Safe for concurrent reads.
type Stats struct {
	received         atomic.Int64
	succeeded        atomic.Int64
	acked            atomic.Int64
	ackErrors        atomic.Int64
	deadLettered     atomic.Int64
	deadLetterErrors atomic.Int64

	// fixed key set, never written after newStats
	failed map[common.Kind]*atomic.Int64
}

func newStats() *Stats {
	s := &Stats{failed: make(map[common.Kind]*atomic.Int64, len(failureKinds))}
	for _, k := range failureKinds {
		s.failed[k] = new(atomic.Int64)
	}
	return s
}

func (s *Stats) fail(kind common.Kind) {
	c, ok := s.failed[kind]
	if !ok {
		c = s.failed[common.KindUnknown]
	}
	c.Add(1)
}

type Snapshot struct {
	Received         int64            `json:"received"`
	Succeeded        int64            `json:"succeeded"`
	Failed           map[string]int64 `json:"failed"`
	DeadLettered     int64            `json:"dead_lettered"`
	DeadLetterErrors int64            `json:"dead_letter_errors"`
	Acked            int64            `json:"acked"`
	AckErrors        int64            `json:"ack_errors"`
}

func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Received:         s.received.Load(),
		Succeeded:        s.succeeded.Load(),
		Failed:           make(map[string]int64, len(s.failed)),
		DeadLettered:     s.deadLettered.Load(),
		DeadLetterErrors: s.deadLetterErrors.Load(),
		Acked:            s.acked.Load(),
		AckErrors:        s.ackErrors.Load(),
	}
	for k, c := range s.failed {
		snap.Failed[string(k)] = c.Load()
	}
	return snap
}

// TotalFailed sums failures of every kind.
func (s Snapshot) TotalFailed() int64 {
	var n int64
	for _, v := range s.Failed {
		n += v
	}
	return n
}
