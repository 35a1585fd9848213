package pacer

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

type recordingPresencer struct {
	states []protocol.PresenceState
	err    error
}

func (r *recordingPresencer) SendPresence(ctx context.Context, state protocol.PresenceState, to string) error {
	r.states = append(r.states, state)
	return r.err
}

func TestDelayPickBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	d := Delay{MinMs: 300, MaxMs: 500}

	for i := 0; i < 1000; i++ {
		got := d.Pick(rng)
		assert.GreaterOrEqual(t, got, 300*time.Millisecond)
		assert.LessOrEqual(t, got, 500*time.Millisecond)
	}
}

func TestDelayPickDegenerateRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, 100*time.Millisecond, Delay{MinMs: 100, MaxMs: 100}.Pick(rng))
	assert.Equal(t, 100*time.Millisecond, Delay{MinMs: 100, MaxMs: 50}.Pick(rng))
}

func TestApplyPresenceOrder(t *testing.T) {
	p := New(Config{
		Read:    Delay{MinMs: 1, MaxMs: 1},
		Typing:  Delay{MinMs: 1, MaxMs: 1},
		PreSend: Delay{MinMs: 1, MaxMs: 1},
	}, rand.New(rand.NewSource(7)), logger.SetupForTesting())

	client := &recordingPresencer{}
	require.NoError(t, p.Apply(context.Background(), client, "628111"))
	p.Finish(context.Background(), client, "628111")

	assert.Equal(t, []protocol.PresenceState{
		protocol.PresenceAvailable,
		protocol.PresenceComposing,
		protocol.PresencePaused,
		protocol.PresenceAvailable,
	}, client.states)
}

// O tempo total da simulação fica dentro da soma dos três intervalos
func TestApplyTotalDelayWithinBounds(t *testing.T) {
	cfg := Config{
		Read:    Delay{MinMs: 10, MaxMs: 20},
		Typing:  Delay{MinMs: 30, MaxMs: 40},
		PreSend: Delay{MinMs: 10, MaxMs: 20},
	}
	p := New(cfg, rand.New(rand.NewSource(99)), logger.SetupForTesting())

	start := time.Now()
	require.NoError(t, p.Apply(context.Background(), &recordingPresencer{}, "628111"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "at least the minimum of each phase")
}

func TestApplyPresenceFailureIsNonFatal(t *testing.T) {
	p := New(Config{
		Read:    Delay{MinMs: 1, MaxMs: 1},
		Typing:  Delay{MinMs: 1, MaxMs: 1},
		PreSend: Delay{MinMs: 1, MaxMs: 1},
	}, nil, logger.SetupForTesting())

	client := &recordingPresencer{err: errors.New("socket busy")}
	assert.NoError(t, p.Apply(context.Background(), client, "628111"))
}

func TestApplyHonorsContextCancellation(t *testing.T) {
	p := New(Config{
		Read:    Delay{MinMs: 5000, MaxMs: 5000},
		Typing:  Delay{MinMs: 5000, MaxMs: 5000},
		PreSend: Delay{MinMs: 5000, MaxMs: 5000},
	}, nil, logger.SetupForTesting())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Apply(ctx, &recordingPresencer{}, "628111")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
