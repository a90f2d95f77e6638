package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSequencerIsMonotonicallyIncreasing(t *testing.T) {
	s := newSequencer(time.Unix(1700000000, 0))
	prev := s.Next()
	for i := 0; i < 100; i++ {
		next := s.Next()
		require.Greater(t, next, prev)
		prev = next
	}
}
