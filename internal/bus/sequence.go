package bus

import (
	"fmt"
	"sync/atomic"
	"time"
)

// sequencer hands out the process-wide monotone SequenceNumber required
// by spec §4.1.2 step 6 and §9 ("use a process-wide monotone 128-bit
// counter... monotonicity within a process lifetime is required").
//
// The value is the startup time in milliseconds (62 bits is plenty for a
// millisecond epoch) concatenated with a 64-bit atomic counter, printed
// as a fixed-width decimal string so lexical and numeric ordering agree.
type sequencer struct {
	epoch   int64
	counter atomic.Uint64
}

func newSequencer(start time.Time) *sequencer {
	return &sequencer{epoch: start.UnixMilli()}
}

// Next returns the next SequenceNumber, monotonically increasing for the
// lifetime of this sequencer regardless of which queue requested it.
func (s *sequencer) Next() string {
	n := s.counter.Add(1)
	return fmt.Sprintf("%020d%020d", s.epoch, n)
}
