package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWarnsThresholdMinusOneTimesThenCloses(t *testing.T) {
	l := New(Config{MaxRequests: 1, WindowSecs: 3600, ViolationThreshold: 5})

	base := time.Now()
	assert.Equal(t, OutcomeAllow, l.Check(base))

	warnCount := 0
	outcome := OutcomeAllow
	for i := 1; i <= 10; i++ {
		outcome = l.Check(base)
		if outcome == OutcomeWarn {
			warnCount++
		}
		if outcome == OutcomeClose {
			break
		}
	}

	assert.Equal(t, 4, warnCount)
	assert.Equal(t, OutcomeClose, outcome)
}

func TestSuccessClearsViolationCounter(t *testing.T) {
	l := New(Config{MaxRequests: 1, WindowSecs: 3600, ViolationThreshold: 5})
	base := time.Now()

	l.Check(base)
	l.Check(base) // violation 1
	assert.Equal(t, 1, l.Violations())

	later := base.Add(2 * time.Hour)
	assert.Equal(t, OutcomeAllow, l.Check(later))
	assert.Equal(t, 0, l.Violations())
}
