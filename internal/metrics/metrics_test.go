package metrics

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/opstate"
	"github.com/alanyoungcy/predictstake/internal/refresh"
)

func TestObserveTransition(t *testing.T) {
	m := New()
	reg := opstate.NewRegistry()
	reg.OnTransition(m.ObserveTransition)

	key := domain.OperationKey{User: common.HexToAddress("0x01"), Event: common.HexToAddress("0x02")}
	op, err := reg.Begin(context.Background(), key, domain.IntentStake, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))

	require.NoError(t, op.Fail(domain.ErrOpposingChoice))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("stake", "failed", "OpposingChoice")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("stake", "OpposingChoice")))

	op, err = reg.Begin(context.Background(), key, domain.IntentReward, nil)
	require.NoError(t, err)
	require.NoError(t, op.Submit())
	require.NoError(t, op.Confirming(common.HexToHash("0x03")))
	require.NoError(t, op.Confirm())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("reward", "confirmed", "none")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.rejected))
	assert.Empty(t, m.started)
}

func TestRefreshHooksAndRetries(t *testing.T) {
	m := New()
	hooks := m.RefreshHooks()
	hooks.OnRun(refresh.Run{Reason: "x", Failed: 2})
	hooks.OnRun(refresh.Run{Reason: "y", Remote: true})
	hooks.OnThrottled("z")
	m.ReadRetried("balance", errors.New("429"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshRuns.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshRuns.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshFails))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.throttled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readRetries.WithLabelValues("balance")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "predictstake_refresh_throttled_total 1"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTransition(opstate.Transition{})
	m.ReadRetried("op", nil)
	assert.Nil(t, m.RefreshHooks().OnRun)
}
