package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

func TestLocalSource(t *testing.T) {
	c := createTestController(t, testConfig(10, 10))
	source := c.Source()
	ctx := context.Background()

	offer, err := source.RequestWork(ctx)
	require.NoError(t, err)
	require.True(t, offer.Work)

	ok, err := source.RefreshHeartbeat(ctx, offer.JobID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = source.ReportCompletion(ctx, offer.JobID, true, types.CompletionInfo{WorkerID: "local-0"})
	require.NoError(t, err)
	assert.True(t, ok)

	offer, err = source.RequestWork(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.WorkOffer{Shutdown: true}, offer)
}

func TestLocalSourceCancelledContext(t *testing.T) {
	c := createTestController(t, testConfig(10, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Source().RequestWork(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.LedgerStatus{Unclaimed: 1}, c.Status(), "nothing allocated")
}

func TestLocalSourceAfterStop(t *testing.T) {
	c := createTestController(t, testConfig(10, 10))
	source := c.Source()
	require.NoError(t, c.Stop(context.Background()))

	_, err := source.RequestWork(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	_, err = source.RefreshHeartbeat(context.Background(), 0)
	assert.ErrorIs(t, err, ErrStopped)

	_, err = source.ReportCompletion(context.Background(), 0, true, types.CompletionInfo{})
	assert.ErrorIs(t, err, ErrStopped)
}
