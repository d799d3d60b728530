package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain/entity"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/resilience/retry"
)

func testConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         10 * time.Second,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 0.6,
		MinRequests:      3,
	}
}

var (
	transient = &entity.RetryableError{Op: "stream/items/ids", Err: errors.New("503")}
	permanent = &retry.HTTPError{StatusCode: 404, Message: "not found"}
)

func fail(err error) func() (interface{}, error) {
	return func() (interface{}, error) { return nil, err }
}

func TestNew(t *testing.T) {
	cb := New(testConfig("sync-service:new"))

	assert.Equal(t, "sync-service:new", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.False(t, cb.IsOpen())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("sync-service:new")))
}

func TestExecute_PassesResultsThrough(t *testing.T) {
	cb := New(testConfig("passthrough"))

	v, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = cb.Execute(fail(permanent))
	assert.Same(t, permanent, err)
}

func TestExecute_TransientFailuresTrip(t *testing.T) {
	cb := New(testConfig("trips"))

	for range 3 {
		_, err := cb.Execute(fail(transient))
		require.ErrorIs(t, err, transient)
	}
	require.True(t, cb.IsOpen())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("trips")))

	called := false
	_, err := cb.Execute(func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.False(t, called)
	assert.True(t, IsRejected(err))
	assert.True(t, entity.IsRetryable(err), "a rejected call is retried on a later cycle")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestExecute_PermanentFailuresDoNotTrip(t *testing.T) {
	cb := New(testConfig("permanent"))

	for range 10 {
		_, _ = cb.Execute(fail(permanent))
		_, _ = cb.Execute(fail(&entity.AuthError{AccountID: "acct", Err: errors.New("401")}))
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestExecute_HalfOpenRecovers(t *testing.T) {
	cb := New(testConfig("recovers"))
	for range 3 {
		_, _ = cb.Execute(fail(transient))
	}
	require.True(t, cb.IsOpen())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestDo(t *testing.T) {
	cb := New(testConfig("typed"))

	n, err := Do(cb, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = Do(cb, func() (int, error) { return 7, permanent })
	assert.ErrorIs(t, err, permanent)
	assert.Zero(t, n)

	var nilErr error
	got, err := Do(cb, func() (error, error) { return nilErr, nil })
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSet_OneBreakerPerKey(t *testing.T) {
	s := NewSet(testConfig("feed-fetch"))

	a := s.Get("a.example")
	assert.Same(t, a, s.Get("a.example"))
	b := s.Get("b.example")
	assert.Equal(t, "feed-fetch:b.example", b.Name())
	assert.Equal(t, 2, s.Len())

	for range 3 {
		_, _ = a.Execute(fail(transient))
	}
	assert.True(t, a.IsOpen())
	assert.False(t, b.IsOpen(), "hosts trip independently")
}

func TestPresets(t *testing.T) {
	svc := SyncServiceConfig("acct-1")
	assert.Equal(t, "sync-service:acct-1", svc.Name)
	assert.Equal(t, uint32(5), svc.MinRequests)

	feed := FeedFetchConfig()
	assert.Equal(t, "feed-fetch", feed.Name)
	assert.Greater(t, feed.Timeout, svc.Timeout)
}
