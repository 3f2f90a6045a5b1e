package domain_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/you/jobcore/internal/domain"
)

func TestParseJobType(t *testing.T) {
	require := require.New(t)

	for _, s := range []string{"SYNC", "REPORT", "SEO_ANALYSIS", "AD_BID", "CONTENT_GEN", "ANALYTICS_ROLLUP"} {
		jt, err := domain.ParseJobType(s)
		require.NoError(err)
		require.EqualValues(s, jt)
	}

	_, err := domain.ParseJobType("MYSTERY")
	require.Error(err)
	require.True(errors.Is(err, domain.ErrUnknownJobType))
}

func TestTerminalStatuses(t *testing.T) {
	require := require.New(t)
	require.True(domain.Completed.Terminal())
	require.True(domain.Failed.Terminal())
	require.False(domain.Pending.Terminal())
	require.False(domain.Running.Terminal())
	require.False(domain.Retrying.Terminal())
}
