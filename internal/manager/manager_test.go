package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/protocol"
)

func TestRequestLRU(t *testing.T) {
	l := newRequestLRU(3)
	l.Add("a")
	l.Add("b")
	l.Add("c")
	require.True(t, l.Contains("a"))

	l.Add("d") // "b" is now the oldest: "a" was touched by Contains
	require.True(t, l.Contains("a"))
	require.False(t, l.Contains("b"))
	require.Equal(t, 3, l.Len())
}

func okProcessor(sub Submission) Outcome {
	return Outcome{Persisted: true}
}

func TestDuplicateRequestID(t *testing.T) {
	m := New(okProcessor, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	sub := Submission{GameID: "game-1", RequestID: "r1", Type: "game.play_card"}
	out, err := m.SubmitEvent(ctx, sub)
	require.NoError(t, err)
	require.True(t, out.Persisted)

	out, err = m.SubmitEvent(ctx, sub)
	require.NoError(t, err)
	require.False(t, out.Persisted)
	require.Len(t, out.Outbound, 1)
	p := out.Outbound[0].Payload.(protocol.RejectedPayload)
	require.Equal(t, protocol.CodeInvalidAction, p.Code)
	require.Equal(t, `Duplicate requestId "r1" for game "game-1"`, p.Message)
}

func TestRejectedSubmissionsAreNotDeduplicated(t *testing.T) {
	calls := 0
	m := New(func(sub Submission) Outcome {
		calls++
		return Outcome{Persisted: false}
	}, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	sub := Submission{GameID: "game-1", RequestID: "r1"}
	_, err := m.SubmitEvent(ctx, sub)
	require.NoError(t, err)
	_, err = m.SubmitEvent(ctx, sub)
	require.NoError(t, err)
	require.Equal(t, 2, calls, "a failed requestId may be retried")
}

func TestFIFOPerGame(t *testing.T) {
	var mu sync.Mutex
	var order []string
	m := New(func(sub Submission) Outcome {
		mu.Lock()
		order = append(order, sub.RequestID)
		mu.Unlock()
		return Outcome{Persisted: true}
	}, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		// Serial enqueue, concurrent completion waits.
		id := fmt.Sprintf("r%02d", i)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.SubmitEvent(ctx, Submission{GameID: "game-1", RequestID: id})
			require.NoError(t, err)
		}(id)
		time.Sleep(time.Millisecond) // establish enqueue order
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i := 1; i < len(order); i++ {
		require.Less(t, order[i-1], order[i], "processing preserves submission order")
	}
}

// TestPerGameIsolation wedges game-a's processor and asserts game-b is
// unaffected.
func TestPerGameIsolation(t *testing.T) {
	release := make(chan struct{})
	m := New(func(sub Submission) Outcome {
		if sub.GameID == "game-a" {
			<-release
		}
		return Outcome{Persisted: true}
	}, zap.NewNop())
	defer m.Close()

	stuck := make(chan struct{})
	go func() {
		_, _ = m.SubmitEvent(context.Background(), Submission{GameID: "game-a", RequestID: "ra"})
		close(stuck)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	out, err := m.SubmitEvent(ctx, Submission{GameID: "game-b", RequestID: "rb"})
	require.NoError(t, err, "game-b must not wait on game-a")
	require.True(t, out.Persisted)
	require.Less(t, time.Since(start), time.Second)

	close(release)
	<-stuck
}

func TestSubmitCancellation(t *testing.T) {
	release := make(chan struct{})
	m := New(func(sub Submission) Outcome {
		<-release
		return Outcome{Persisted: true}
	}, zap.NewNop())
	defer m.Close()

	go func() {
		_, _ = m.SubmitEvent(context.Background(), Submission{GameID: "game-a", RequestID: "r1"})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.SubmitEvent(ctx, Submission{GameID: "game-a", RequestID: "r2"})
	require.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestProcessorPanicDoesNotWedgeQueue(t *testing.T) {
	m := New(func(sub Submission) Outcome {
		if sub.RequestID == "boom" {
			panic("processor bug")
		}
		return Outcome{Persisted: true}
	}, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	out, err := m.SubmitEvent(ctx, Submission{GameID: "game-1", RequestID: "boom"})
	require.NoError(t, err)
	require.False(t, out.Persisted)

	out, err = m.SubmitEvent(ctx, Submission{GameID: "game-1", RequestID: "after"})
	require.NoError(t, err)
	require.True(t, out.Persisted, "queue keeps draining after a panic")
}

func TestForgetDrainsPending(t *testing.T) {
	release := make(chan struct{})
	m := New(func(sub Submission) Outcome {
		<-release
		return Outcome{Persisted: true}
	}, zap.NewNop())
	defer m.Close()

	var wg sync.WaitGroup
	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.SubmitEvent(context.Background(), Submission{GameID: "game-1", RequestID: id})
			results <- err
		}(fmt.Sprintf("r%d", i))
	}
	time.Sleep(10 * time.Millisecond)

	m.Forget("game-1")
	close(release)
	wg.Wait()
	close(results)
	for err := range results {
		require.NoError(t, err, "queued submissions still drain after Forget")
	}
}

// TestSubmitRacingForget hammers enqueue against retirement; with the
// queue channel kept open a submission either lands, drains, or fails
// cleanly, never panics.
func TestSubmitRacingForget(t *testing.T) {
	m := New(okProcessor, zap.NewNop())
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_, err := m.SubmitEvent(context.Background(), Submission{GameID: "game-r", RequestID: id})
			if err != nil {
				require.Contains(t, err.Error(), "game-r")
			}
		}(fmt.Sprintf("r%03d", i))
		go func() {
			defer wg.Done()
			m.Forget("game-r")
		}()
	}
	wg.Wait()
}

func TestFullQueueFailsFast(t *testing.T) {
	release := make(chan struct{})
	m := New(func(sub Submission) Outcome {
		<-release
		return Outcome{Persisted: true}
	}, zap.NewNop())
	defer m.Close()
	defer close(release)

	// One submission in flight plus a full buffer behind it.
	for i := 0; i < queueCapacity+1; i++ {
		go func(id string) {
			_, _ = m.SubmitEvent(context.Background(), Submission{GameID: "game-1", RequestID: id})
		}(fmt.Sprintf("q%03d", i))
	}
	require.Eventually(t, func() bool {
		_, err := m.SubmitEvent(context.Background(), Submission{GameID: "game-1", RequestID: "overflow"})
		return err != nil && strings.Contains(err.Error(), "queue is full")
	}, time.Second, 5*time.Millisecond)
}

func TestMissingGameID(t *testing.T) {
	m := New(okProcessor, zap.NewNop())
	defer m.Close()
	_, err := m.SubmitEvent(context.Background(), Submission{RequestID: "r1"})
	require.Error(t, err)
}
