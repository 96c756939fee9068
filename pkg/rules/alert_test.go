package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilp-connector/pkg/ilp"
)

func TestAlertRuleRaisesOnMaximumBalanceReject(t *testing.T) {
	alerts := NewAlerts()
	r := NewAlertRule("alice", alerts)

	h := r.Outgoing(rejecter(ilp.CodeInsufficientLiquidity, "exceeded maximum balance."))
	for i := 0; i < 3; i++ {
		_, err := h(context.Background(), testPrepare(1))
		require.NoError(t, err)
	}

	list := alerts.List()
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].PeerID)
	assert.Equal(t, "test.peer", list[0].TriggeredBy)
	assert.Equal(t, 3, list[0].Count)
	assert.NotEmpty(t, list[0].ID)

	require.NoError(t, alerts.Dismiss(list[0].ID))
	assert.Empty(t, alerts.List())
	assert.ErrorIs(t, alerts.Dismiss(list[0].ID), ErrAlertNotFound)
}

func TestAlertRuleIgnoresOtherRejects(t *testing.T) {
	alerts := NewAlerts()
	r := NewAlertRule("alice", alerts)

	_, err := r.Outgoing(rejecter(ilp.CodeInsufficientLiquidity, "exceeded money bandwidth, throttling."))(context.Background(), testPrepare(1))
	require.NoError(t, err)
	_, err = r.Outgoing(rejecter(ilp.CodeUnreachable, "maximum balance"))(context.Background(), testPrepare(1))
	require.NoError(t, err)
	_, err = r.Incoming(rejecter(ilp.CodeInsufficientLiquidity, "exceeded maximum balance."))(context.Background(), testPrepare(1))
	require.NoError(t, err)

	assert.Empty(t, alerts.List())
}

func TestAlertRuleRaisesOnLocalBalanceError(t *testing.T) {
	alerts := NewAlerts()
	r := NewAlertRule("alice", alerts)
	_, err := r.Outgoing(failer(ilp.InsufficientLiquidityError("exceeded maximum balance. peerId=alice amount=5")))(context.Background(), testPrepare(5))
	assert.Error(t, err)
	assert.Len(t, alerts.List(), 1)
}

func TestAlertsGroupAcrossAmounts(t *testing.T) {
	alerts := NewAlerts()
	r := NewAlertRule("alice", alerts)

	h := r.Outgoing(rejecter(ilp.CodeInsufficientLiquidity, "exceeded maximum balance. peerId=connie amount=5"))
	_, err := h(context.Background(), testPrepare(5))
	require.NoError(t, err)
	h = r.Outgoing(rejecter(ilp.CodeInsufficientLiquidity, "exceeded maximum balance. peerId=connie amount=700"))
	_, err = h(context.Background(), testPrepare(700))
	require.NoError(t, err)

	list := alerts.List()
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Count)
	assert.Equal(t, "exceeded maximum balance.", list[0].Message)
}
