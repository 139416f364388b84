package event

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastAndCancel(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()
	require.Equal(t, 2, h.Subscribers())

	bal := decimal.NewFromInt(7000)
	payload, err := ChangeEvent{Type: TypeAccountUpdated, AccountID: "ACC1", Balance: &bal, OccurredAt: time.Now()}.Marshal()
	require.NoError(t, err)
	require.NoError(t, h.Publish(context.Background(), "ledger.account", "ACC1", payload))

	for _, ch := range []<-chan ChangeEvent{a, b} {
		got := <-ch
		assert.Equal(t, TypeAccountUpdated, got.Type)
		assert.True(t, got.Balance.Equal(bal))
	}

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Broadcast(ChangeEvent{Type: TypeTransactionPosted, TransactionID: "T1"})
	h.Broadcast(ChangeEvent{Type: TypeTransactionPosted, TransactionID: "T2"})

	got := <-ch
	assert.Equal(t, "T1", got.TransactionID)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestHubCloseThenCancel(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	require.NoError(t, h.Close())
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestHubRejectsBadPayload(t *testing.T) {
	assert.Error(t, NewHub(1).Publish(context.Background(), "t", "k", []byte("not json")))
}
