package sandbox

import (
	"testing"

	"github.com/r3e-network/faas-core/internal/faaserr"
	"github.com/stretchr/testify/require"
)

func TestQuotaChargeUnbounded(t *testing.T) {
	q := NewQuota(nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Charge("chain.get_block"))
	}
	require.Equal(t, 100, q.Used("chain.get_block"))
}

func TestQuotaChargeExhausted(t *testing.T) {
	q := NewQuota(map[string]int{"oracle.price": 2})
	require.NoError(t, q.Charge("oracle.price"))
	require.NoError(t, q.Charge("oracle.price"))

	err := q.Charge("oracle.price")
	require.Error(t, err)
	require.Equal(t, faaserr.QuotaExceeded, faaserr.KindOf(err))
	require.Equal(t, 2, q.Used("oracle.price"))
}
