package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"StableLedger/internal/domain"
	"StableLedger/internal/price"
	"StableLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestKeySchema(t *testing.T) {
	c := &Client{prefix: "stable:"}
	owner := uuid.MustParse("b0000000-0000-4000-8000-000000000002")

	require.Equal(t, "stable:price:COLL", NewPriceCache(c, "COLL").priceKey())
	rc := NewReadCache(c, 0)
	require.Equal(t, "stable:position:"+owner.String(), rc.positionKey(owner))
	require.Equal(t, "stable:governance", rc.governanceKey())
	require.Equal(t, defaultReadTTL, rc.ttl)
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	testutil.RequireIntegration(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: testutil.TestRedisAddr(), KeyPrefix: "stable-test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Skipf("test redis not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPriceCache_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	pc := NewPriceCache(c, "COLL")

	_, err := pc.Price(ctx)
	require.True(t, errors.Is(err, domain.ErrNotFound))

	want := price.RawPrice{Value: ^uint64(0), ObservedAt: 1_700_000_000_000_000}
	require.NoError(t, pc.SetPrice(ctx, want))
	got, err := pc.Price(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestReadCache_SetGetInvalidate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rc := NewReadCache(c, time.Minute)
	owner := uuid.New()

	_, err := rc.GetPosition(ctx, owner)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, rc.SetPosition(ctx, owner, []byte(`{"debt":"1"}`)))
	data, err := rc.GetPosition(ctx, owner)
	require.NoError(t, err)
	require.JSONEq(t, `{"debt":"1"}`, string(data))

	require.NoError(t, rc.InvalidatePosition(ctx, owner))
	_, err = rc.GetPosition(ctx, owner)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, rc.SetGovernance(ctx, []byte(`{}`)))
	require.NoError(t, rc.InvalidateGovernance(ctx))
	_, err = rc.GetGovernance(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
