package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutBackoffLinearSchedule(t *testing.T) {
	b := newTimeoutBackoff()
	assert.Equal(t, 500*time.Millisecond, b.NextBackOff())

	b.recordTimeout()
	assert.Equal(t, 600*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 1, b.ConsecutiveTimeouts())

	b.recordTimeout()
	b.recordTimeout()
	assert.Equal(t, 800*time.Millisecond, b.NextBackOff())
}

func TestTimeoutBackoffCapsAtOneSecond(t *testing.T) {
	b := newTimeoutBackoff()
	for i := 0; i < 20; i++ {
		b.recordTimeout()
	}
	assert.Equal(t, 1000*time.Millisecond, b.NextBackOff())
}

func TestTimeoutBackoffResetZeroesCount(t *testing.T) {
	b := newTimeoutBackoff()
	b.recordTimeout()
	b.recordTimeout()
	b.Reset()
	assert.Equal(t, 0, b.ConsecutiveTimeouts())
	assert.Equal(t, 500*time.Millisecond, b.NextBackOff())
}
