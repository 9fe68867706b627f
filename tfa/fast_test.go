package tfa

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/inbound"
)

func newFast(h *harness, policy DeclinePolicy) (*Fast, inbound.PreSaveHook) {
	p := NewFast(h.deps, Settings{ValidationTime: 180 * time.Second}, policy)
	m := NewMatcher(h.pending, h.data, nil)
	return p, ReceiptListener(m, p.MatchSpec(), nil)
}

func receipt(h *harness, from string, status gateway.ReceiptType, ids ...gateway.MessageID) inbound.Message {
	var id gateway.MessageID
	id[0] = byte(status)
	id[7] = byte(len(ids))
	return inbound.Message{
		ID:       id,
		Sender:   from,
		SendDate: h.clock.Now(),
		Payload:  gateway.DeliveryReceipt{Status: status, MessageIDs: ids},
	}
}

func TestFastAcknowledgeVerifies(t *testing.T) {
	h := newHarness()
	h.enable(ProviderFast, "u1", "ABCD1234")
	p, hook := newFast(h, DeclinePolicy{})
	ch := Challenge{UserID: "u1"}
	ctx := context.Background()

	_, err := p.Trigger(ctx, ch)
	require.NoError(t, err)
	sent := h.sender.last()
	require.Equal(t, 1, h.pending.count())

	res, err := p.Verify(ctx, ch, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonPending, res.Reason)

	var other gateway.MessageID
	out, err := hook(ctx, receipt(h, "ABCD1234", gateway.ReceiptAcknowledged, other), false)
	require.NoError(t, err)
	assert.False(t, out.SuppressSave, "receipt for an unrelated message is not a match")

	h.clock.Advance(10 * time.Second)
	out, err = hook(ctx, receipt(h, "ABCD1234", gateway.ReceiptRead, sent.id), false)
	require.NoError(t, err)
	assert.True(t, out.SuppressSave)

	res, err = p.Verify(ctx, ch, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonPending, res.Reason, "read is not an acknowledgement")

	out, err = hook(ctx, receipt(h, "ABCD1234", gateway.ReceiptAcknowledged, other, sent.id), false)
	require.NoError(t, err)
	assert.True(t, out.SuppressSave)

	res, err = p.Verify(ctx, ch, "")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Zero(t, h.pending.count())

	stored, err := h.data.Load(ctx, ScopeAccount, "u1", ProviderFast)
	require.NoError(t, err)
	assert.Empty(t, stored.ReceivedSecret)
	assert.Zero(t, stored.ReceivedDeliveryReceipt)
	assert.Equal(t, sent.id.String(), stored.LastSecret)
}

func TestFastDeclineBlocksAndBans(t *testing.T) {
	h := newHarness()
	h.decline.allowed[DeclineBlockTFA] = true
	h.decline.allowed[DeclineBanUser] = true
	h.decline.allowed[DeclineBanIP] = true
	h.enable(ProviderFast, "u1", "ABCD1234")
	p, hook := newFast(h, DeclinePolicy{BlockTFA: true, BlockDuration: time.Hour, BanUser: true, BanIP: true, NotifyUser: true})
	ch := Challenge{UserID: "u1", ClientIP: "203.0.113.7"}
	ctx := context.Background()

	_, err := p.Trigger(ctx, ch)
	require.NoError(t, err)
	sent := h.sender.last()

	out, err := hook(ctx, receipt(h, "ABCD1234", gateway.ReceiptDeclined, sent.id), false)
	require.NoError(t, err)
	assert.True(t, out.SuppressSave)

	stored, err := h.data.Load(ctx, ScopeAccount, "u1", ProviderFast)
	require.NoError(t, err)
	assert.True(t, stored.Blocked)
	assert.True(t, stored.DeclineHandled)
	assert.Equal(t, []string{"u1"}, h.decline.banned)
	assert.Equal(t, []string{"203.0.113.7"}, h.decline.bannedIP)
	assert.Empty(t, h.decline.notified, "notify not permitted")

	// a duplicate decline does not fire again
	_, err = hook(ctx, receipt(h, "ABCD1234", gateway.ReceiptDeclined, sent.id), false)
	require.NoError(t, err)
	assert.Len(t, h.decline.banned, 1)

	h.clock.Advance(30 * time.Second)
	res, err := p.Verify(ctx, ch, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonBlocked, res.Reason)

	_, err = p.Trigger(ctx, ch)
	assert.ErrorIs(t, err, ErrTriggerBlocked)

	h.clock.Advance(time.Hour)
	_, err = p.Trigger(ctx, ch)
	require.NoError(t, err)
}

func TestFastAcknowledgeAfterDeclineLiftsBlock(t *testing.T) {
	h := newHarness()
	h.decline.allowed[DeclineBlockTFA] = true
	h.enable(ProviderFast, "u1", "ABCD1234")
	p, hook := newFast(h, DeclinePolicy{BlockTFA: true, BlockDuration: time.Hour})
	ch := Challenge{UserID: "u1"}
	ctx := context.Background()

	_, err := p.Trigger(ctx, ch)
	require.NoError(t, err)
	sent := h.sender.last()

	_, err = hook(ctx, receipt(h, "ABCD1234", gateway.ReceiptDeclined, sent.id), false)
	require.NoError(t, err)
	stored, err := h.data.Load(ctx, ScopeAccount, "u1", ProviderFast)
	require.NoError(t, err)
	require.True(t, stored.Blocked)

	_, err = hook(ctx, receipt(h, "ABCD1234", gateway.ReceiptAcknowledged, sent.id), false)
	require.NoError(t, err)
	stored, err = h.data.Load(ctx, ScopeAccount, "u1", ProviderFast)
	require.NoError(t, err)
	assert.False(t, stored.Blocked)
	assert.Equal(t, gateway.ReceiptDeclined, stored.ReceivedDeliveryReceiptLargest)

	res, err := p.Verify(ctx, ch, "")
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestFastVerifyHandlesMissedDecline(t *testing.T) {
	h := newHarness()
	h.decline.allowed[DeclineBlockTFA] = true
	h.enable(ProviderFast, "u1", "ABCD1234")
	p, _ := newFast(h, DeclinePolicy{BlockTFA: true, BlockDuration: time.Hour})
	ch := Challenge{UserID: "u1"}
	ctx := context.Background()

	_, err := p.Trigger(ctx, ch)
	require.NoError(t, err)
	sent := h.sender.last()

	_, err = h.data.Update(ctx, ScopeAccount, "u1", ProviderFast, func(d *ProviderData) error {
		d.ReceivedSecret = sent.id.String()
		d.ReceivedDeliveryReceipt = gateway.ReceiptDeclined
		return nil
	})
	require.NoError(t, err)

	res, err := p.Verify(ctx, ch, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonDeclined, res.Reason)

	res, err = p.Verify(ctx, ch, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonBlocked, res.Reason)
}

func TestFastExpiredReceipt(t *testing.T) {
	h := newHarness()
	h.enable(ProviderFast, "u1", "ABCD1234")
	p, hook := newFast(h, DeclinePolicy{})
	ch := Challenge{UserID: "u1"}
	ctx := context.Background()

	_, err := p.Trigger(ctx, ch)
	require.NoError(t, err)
	sent := h.sender.last()

	h.clock.Advance(181 * time.Second)
	out, err := hook(ctx, receipt(h, "ABCD1234", gateway.ReceiptAcknowledged, sent.id), false)
	require.NoError(t, err)
	assert.False(t, out.SuppressSave)
	require.NotEmpty(t, out.Entries)
	assert.Contains(t, out.Entries[0].Text, "expired")

	res, err := p.Verify(ctx, ch, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, res.Reason)
}
