package asyncio

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGather_EmptyResolvesImmediately(t *testing.T) {
	loop := newRunningLoop(t)
	out := Gather(loop)
	waitDone(t, out, time.Second)
	v, err := out.Result()
	require.NoError(t, err)
	assert.Equal(t, []any{}, v)
}

func TestGather_AllSucceed(t *testing.T) {
	loop := newRunningLoop(t)
	f1 := NewFuture(loop)
	f2 := NewFuture(loop)
	f3 := NewFuture(loop)

	out := Gather(loop, f1, f2, f3)

	require.NoError(t, f2.SetResult(2))
	require.NoError(t, f1.SetResult(1))
	require.NoError(t, f3.SetResult(3))

	waitDone(t, out, time.Second)
	v, err := out.Result()
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, v)
}

func TestGather_FirstRejectionWins(t *testing.T) {
	loop := newRunningLoop(t)
	f1 := NewFuture(loop)
	f2 := NewFuture(loop)
	boom := errors.New("boom")

	out := Gather(loop, f1, f2)

	require.NoError(t, f1.SetException(boom))
	require.NoError(t, f2.SetResult(2))

	waitDone(t, out, time.Second)
	_, err := out.Result()
	assert.Equal(t, boom, err)
}

func TestRace_FirstSettlementWins(t *testing.T) {
	loop := newRunningLoop(t)
	f1 := NewFuture(loop)
	f2 := NewFuture(loop)

	out := Race(loop, f1, f2)

	require.NoError(t, f2.SetResult("second"))
	require.NoError(t, f1.SetResult("first"))

	waitDone(t, out, time.Second)
	v, err := out.Result()
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestRace_RejectionWins(t *testing.T) {
	loop := newRunningLoop(t)
	f1 := NewFuture(loop)
	f2 := NewFuture(loop)
	boom := errors.New("boom")

	out := Race(loop, f1, f2)

	require.NoError(t, f1.SetException(boom))
	require.NoError(t, f2.SetResult("late"))

	waitDone(t, out, time.Second)
	_, err := out.Result()
	assert.Equal(t, boom, err)
}

func TestAllSettled_MixedOutcomes(t *testing.T) {
	loop := newRunningLoop(t)
	f1 := NewFuture(loop)
	f2 := NewFuture(loop)
	boom := errors.New("boom")

	out := AllSettled(loop, f1, f2)

	require.NoError(t, f1.SetResult(1))
	require.NoError(t, f2.SetException(boom))

	waitDone(t, out, time.Second)
	v, err := out.Result()
	require.NoError(t, err)

	outcomes := v.([]Outcome)
	require.Len(t, outcomes, 2)
	assert.Equal(t, Outcome{Value: 1}, outcomes[0])
	assert.Equal(t, Outcome{Err: boom}, outcomes[1])
}

func TestAllSettled_Empty(t *testing.T) {
	loop := newRunningLoop(t)
	out := AllSettled(loop)
	waitDone(t, out, time.Second)
	v, err := out.Result()
	require.NoError(t, err)
	assert.Equal(t, []Outcome{}, v)
}

func TestAny_FirstSuccessWins(t *testing.T) {
	loop := newRunningLoop(t)
	f1 := NewFuture(loop)
	f2 := NewFuture(loop)
	boom := errors.New("boom")

	out := Any(loop, f1, f2)

	require.NoError(t, f1.SetException(boom))
	require.NoError(t, f2.SetResult(2))

	waitDone(t, out, time.Second)
	v, err := out.Result()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestAny_AllFailYieldsAggregateError(t *testing.T) {
	loop := newRunningLoop(t)
	f1 := NewFuture(loop)
	f2 := NewFuture(loop)
	boom1 := errors.New("boom1")
	boom2 := errors.New("boom2")

	out := Any(loop, f1, f2)

	require.NoError(t, f1.SetException(boom1))
	require.NoError(t, f2.SetException(boom2))

	waitDone(t, out, time.Second)
	_, err := out.Result()
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []error{boom1, boom2}, agg.Errors)
}

func TestAny_EmptyRejectsImmediately(t *testing.T) {
	loop := newRunningLoop(t)
	out := Any(loop)
	waitDone(t, out, time.Second)
	_, err := out.Result()
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
}
