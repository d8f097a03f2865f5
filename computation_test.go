package asyncio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputation_ReturnsValue(t *testing.T) {
	c := NewComputation(func(yield Yield) (any, error) {
		return 42, nil
	})
	step := c.Send(nil)
	assert.Equal(t, Returned, step.Kind)
	assert.Equal(t, 42, step.Value)
}

func TestComputation_RaisesError(t *testing.T) {
	boom := errors.New("boom")
	c := NewComputation(func(yield Yield) (any, error) {
		return nil, boom
	})
	step := c.Send(nil)
	assert.Equal(t, Raised, step.Kind)
	assert.Equal(t, boom, step.Err)
}

func TestComputation_YieldThenReturn(t *testing.T) {
	c := NewComputation(func(yield Yield) (any, error) {
		v, _ := yield("waiting")
		return v, nil
	})

	step := c.Send(nil)
	require.Equal(t, Yielded, step.Kind)
	assert.Equal(t, "waiting", step.Value)

	step = c.Send("resumed")
	assert.Equal(t, Returned, step.Kind)
	assert.Equal(t, "resumed", step.Value)
}

func TestComputation_ThrowAtSuspensionPoint(t *testing.T) {
	boom := errors.New("thrown")
	var recoveredErr error
	var recoveredOK bool

	c := NewComputation(func(yield Yield) (any, error) {
		defer func() {
			if r := recover(); r != nil {
				recoveredErr, recoveredOK = Recovered(r)
				panic(r) // re-panic so run's own recover reports it
			}
		}()
		_, _ = yield("waiting")
		return nil, nil
	})

	step := c.Send(nil)
	require.Equal(t, Yielded, step.Kind)

	step = c.Throw(boom)
	assert.Equal(t, Raised, step.Kind)
	assert.True(t, recoveredOK)
	assert.Equal(t, boom, recoveredErr)
}

func TestComputation_ThrowBeforeFirstResume(t *testing.T) {
	boom := errors.New("never started")
	c := NewComputation(func(yield Yield) (any, error) {
		t.Fatal("body should never run")
		return nil, nil
	})

	step := c.Throw(boom)
	assert.Equal(t, Raised, step.Kind)
	assert.Equal(t, boom, step.Err)
}

func TestComputation_ClosePreventsFurtherResumption(t *testing.T) {
	started := make(chan struct{})
	c := NewComputation(func(yield Yield) (any, error) {
		close(started)
		_, _ = yield("waiting")
		return nil, nil
	})

	step := c.Send(nil)
	require.Equal(t, Yielded, step.Kind)
	<-started

	c.Close()
	c.Close() // idempotent

	step = c.Send(nil)
	assert.Equal(t, Raised, step.Kind)
	var invalidYield *InvalidYieldError
	require.ErrorAs(t, step.Err, &invalidYield)
}

func TestComputation_PanicBecomesPanicError(t *testing.T) {
	c := NewComputation(func(yield Yield) (any, error) {
		panic("boom")
	})
	step := c.Send(nil)
	assert.Equal(t, Raised, step.Kind)
	var panicErr PanicError
	require.ErrorAs(t, step.Err, &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
}
