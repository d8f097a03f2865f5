package asyncio

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_Completion(t *testing.T) {
	loop := newRunningLoop(t)

	task := NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		return "x", nil
	}))

	waitDone(t, task.Future, time.Second)

	assert.True(t, task.Done())
	v, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestTask_Awaiting(t *testing.T) {
	loop := newRunningLoop(t)
	inner := NewFuture(loop)

	task := NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		v, err := Await(yield, inner)
		if err != nil {
			return nil, err
		}
		if v != 5 {
			return nil, errors.New("unexpected value")
		}
		return 2, nil
	}))

	waitAwaiting(t, task, time.Second)
	assert.Same(t, inner, task.awaiting.(*Future))

	require.NoError(t, inner.SetResult(5))
	waitDone(t, task.Future, time.Second)

	assert.True(t, task.Done())
	v, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

// inner.Cancel() is made to fail by settling inner while the loop is held
// busy, so the task's wakeup is queued but has not run yet: the task's Cancel
// cannot forward to a finished future and must defer via mustCancel. The
// deferred CancelledError is then injected via Throw at the yield point
// inside Await, which recovers it and returns it as an ordinary error.
func TestTask_DeferredCancel(t *testing.T) {
	loop := newRunningLoop(t)
	inner := NewFuture(loop)

	task := NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		_, err := Await(yield, inner)
		return nil, err
	}))

	waitAwaiting(t, task, time.Second)

	gate := make(chan struct{})
	require.NoError(t, loop.CallSoon(func() { <-gate }))
	require.NoError(t, inner.SetResult(0))
	cancelled := task.Cancel()
	task.Future.mu.Lock()
	mustCancel := task.mustCancel
	task.Future.mu.Unlock()
	close(gate)
	require.True(t, cancelled)
	assert.True(t, mustCancel)

	waitDone(t, task.Future, time.Second)
	assert.True(t, task.Cancelled())
}

func TestTask_CancelForwardsToAwaitedFuture(t *testing.T) {
	loop := newRunningLoop(t)
	inner := NewFuture(loop)

	task := NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		_, err := Await(yield, inner)
		return 0, err
	}))

	waitAwaiting(t, task, time.Second)

	// inner is Pending and cancellable, so Task.Cancel forwards and succeeds
	// synchronously here; must_cancel is exercised by TestTask_DeferredCancel
	// instead, where the inner future cannot be cancelled.
	require.True(t, task.Cancel())
	waitDone(t, task.Future, time.Second)
	assert.True(t, task.Cancelled())
}

func TestTask_BadYield(t *testing.T) {
	loop := newRunningLoop(t)

	task := NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		_, _ = yield(3)
		return nil, nil
	}))

	waitDone(t, task.Future, time.Second)

	_, err := task.Result()
	require.Error(t, err)
	var invalidYield *InvalidYieldError
	require.ErrorAs(t, err, &invalidYield)
	assert.Equal(t, "asyncio: Task got bad yield: 3", err.Error())
}

func TestTask_SelfAwait(t *testing.T) {
	loop := newRunningLoop(t)

	var self *Task
	self = NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		_, err := Await(yield, self.Future)
		return nil, err
	}))

	waitDone(t, self.Future, time.Second)

	_, err := self.Result()
	var invalidYield *InvalidYieldError
	require.ErrorAs(t, err, &invalidYield)
	assert.Contains(t, err.Error(), "Task cannot await on itself")
}

func TestTask_EmptyYieldReschedules(t *testing.T) {
	loop := newRunningLoop(t)

	resumes := 0
	task := NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		for resumes < 3 {
			resumes++
			_, _ = yield(EmptyYield)
		}
		return "done", nil
	}))

	waitDone(t, task.Future, time.Second)

	v, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 3, resumes)
}

func TestTask_ComputationRaisesOrdinaryError(t *testing.T) {
	loop := newRunningLoop(t)
	boom := errors.New("boom")

	task := NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		return nil, boom
	}))

	waitDone(t, task.Future, time.Second)

	_, err := task.Result()
	assert.Equal(t, boom, err)
}

func TestTask_YieldComputationIsProtocolViolation(t *testing.T) {
	loop := newRunningLoop(t)

	inner := NewComputation(func(yield Yield) (any, error) { return nil, nil })
	task := NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		_, _ = yield(YieldComputation(inner))
		return nil, nil
	}))

	waitDone(t, task.Future, time.Second)

	_, err := task.Result()
	var invalidYield *InvalidYieldError
	require.ErrorAs(t, err, &invalidYield)
	assert.Contains(t, err.Error(), "yield was used instead of yield from")
}

func TestTask_CrossLoopAwaitRejected(t *testing.T) {
	loop1 := newRunningLoop(t)
	loop2 := newRunningLoop(t)
	foreignFuture := NewFuture(loop2)

	task := NewTask(loop1, NewComputation(func(yield Yield) (any, error) {
		_, err := Await(yield, foreignFuture)
		return nil, err
	}))

	waitDone(t, task.Future, time.Second)

	_, err := task.Result()
	var invalidYield *InvalidYieldError
	require.ErrorAs(t, err, &invalidYield)
	assert.Contains(t, err.Error(), "different loop")
}

func TestTask_CurrentTask(t *testing.T) {
	loop := newRunningLoop(t)

	var observed *Task
	observedCh := make(chan struct{})

	var self *Task
	self = NewTask(loop, NewComputation(func(yield Yield) (any, error) {
		observed = loop.CurrentTask()
		close(observedCh)
		return nil, nil
	}))

	select {
	case <-observedCh:
	case <-time.After(time.Second):
		t.Fatal("computation never observed current task")
	}
	waitDone(t, self.Future, time.Second)

	assert.Same(t, self, observed)
	assert.Nil(t, loop.CurrentTask())
}

// waitAwaiting polls until the task has suspended on something, or the
// timeout elapses. Used instead of a callback hook since suspension (unlike
// completion) has no done-callback to hang off of.
func waitAwaiting(t *testing.T, task *Task, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task.Future.mu.Lock()
		got := task.awaiting != nil
		task.Future.mu.Unlock()
		if got {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("task never reached a suspended state")
}
