package coordinator

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/tasknet/internal/taskstore"
)

func TestClaimTaskEmpty(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, _, err := c.ClaimTask()
	assert.ErrorIs(t, err, ErrNoTaskAvailable)
}

func TestClaimTaskLexicographicOrder(t *testing.T) {
	c, _ := newTestCoordinator(t)
	for _, n := range []string{"job3.zip", "job1.zip", "job2.zip"} {
		require.NoError(t, c.Store().Add(n, []byte(n)))
	}

	for _, want := range []string{"job1.zip", "job2.zip", "job3.zip"} {
		name, data, err := c.ClaimTask()
		require.NoError(t, err)
		assert.Equal(t, want, name)
		assert.Equal(t, []byte(want), data)
	}
	_, _, err := c.ClaimTask()
	assert.ErrorIs(t, err, ErrNoTaskAvailable)
}

// TestClaimTaskAtMostOnce hammers ClaimTask from many goroutines and checks no
// task is handed out twice.
func TestClaimTaskAtMostOnce(t *testing.T) {
	c, _ := newTestCoordinator(t)
	const tasks = 20
	for i := 0; i < tasks; i++ {
		require.NoError(t, c.Store().Add(taskName(i), []byte{byte(i)}))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	empty := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, _, err := c.ClaimTask()
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrNoTaskAvailable) {
				empty++
				return
			}
			if assert.NoError(t, err) {
				seen[name]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, tasks)
	for name, n := range seen {
		assert.Equal(t, 1, n, "task %s handed out %d times", name, n)
	}
	assert.Equal(t, 100-tasks, empty)
}

func TestClaimedTaskNotVisibleAgain(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.NoError(t, c.Store().Add("job1.zip", []byte("zip")))

	name, _, err := c.ClaimTask()
	require.NoError(t, err)
	assert.Equal(t, "job1.zip", name)

	_, _, err = c.ClaimTask()
	assert.ErrorIs(t, err, ErrNoTaskAvailable)

	state, err := c.Store().State("job1.zip")
	require.NoError(t, err)
	assert.Equal(t, taskstore.StateInFlight, state)
}

func TestSubmitResult(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.NoError(t, c.Store().Add("job1.zip", []byte("zip")))
	_, _, err := c.ClaimTask()
	require.NoError(t, err)

	require.NoError(t, c.SubmitResult("job1.zip", []byte("result")))

	state, err := c.Store().State("job1.zip")
	require.NoError(t, err)
	assert.Equal(t, taskstore.StateCompleted, state)

	data, err := c.Store().Result("job1.zip")
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), data)
}

func TestSubmitResultTwiceOverwrites(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.NoError(t, c.SubmitResult("job1.zip", []byte("first")))
	require.NoError(t, c.SubmitResult("job1.zip", []byte("second")))

	results, err := c.Store().Results()
	require.NoError(t, err)
	assert.Equal(t, []string{"result_job1.zip"}, results)

	data, err := c.Store().Result("job1.zip")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestSubmitResultRejectsUnsafeName(t *testing.T) {
	c, _ := newTestCoordinator(t)
	err := c.SubmitResult("../outside.zip", []byte("x"))
	assert.ErrorIs(t, err, taskstore.ErrInvalidName)
}

// failingStore breaks Read so the post-claim path can be observed.
type failingStore struct {
	*taskstore.MemoryStore
}

func (failingStore) Read(string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func TestClaimTaskReadFailureLeavesTaskInFlight(t *testing.T) {
	store := failingStore{taskstore.NewMemoryStore()}
	require.NoError(t, store.Add("job1.zip", []byte("zip")))
	c := New(store, zap.NewNop())

	name, _, err := c.ClaimTask()
	assert.Error(t, err)
	assert.Equal(t, "job1.zip", name)

	state, err := store.State("job1.zip")
	require.NoError(t, err)
	assert.Equal(t, taskstore.StateInFlight, state)
}

func taskName(i int) string {
	return "job" + string(rune('a'+i)) + ".zip"
}
