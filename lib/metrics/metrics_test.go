package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	// registries are independent so components can be built many times in tests
	a, b := New(), New()

	a.ProbePasses.Inc()
	a.Attempts.WithLabelValues("yours", Outcome("")).Inc()

	assert.InDelta(t, 1, testutil.ToFloat64(a.ProbePasses), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.ProbePasses), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(a.Attempts.WithLabelValues("yours", "ok")), 0)

	mfs, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
