package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cardvault/internal/exchange/models"
	"cardvault/pkg/domain"
)

func TestInMemoryListings(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	listed, err := s.IsListed(ctx, 1)
	require.NoError(t, err)
	require.False(t, listed, "unknown tokens are unlisted")

	require.NoError(t, s.SetListed(ctx, 1, true))
	require.NoError(t, s.SetListed(ctx, 2, true))
	require.NoError(t, s.SetListed(ctx, 2, false))

	listed, err = s.IsListed(ctx, 1)
	require.NoError(t, err)
	require.True(t, listed)

	listed, err = s.IsListed(ctx, 2)
	require.NoError(t, err)
	require.False(t, listed)

	n, err := s.ListedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestInMemoryPurchases(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	records, err := s.Purchases(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, records)

	first := models.PurchaseRecord{
		Buyer:     domain.Address("0x00000000000000000000000000000000000000bb"),
		Seller:    domain.Address("0x00000000000000000000000000000000000000aa"),
		Price:     100,
		Timestamp: time.Now().UTC(),
	}
	second := first
	second.Buyer, second.Seller = first.Seller, first.Buyer
	second.Price = 150

	require.NoError(t, s.AppendPurchase(ctx, 7, first))
	require.NoError(t, s.AppendPurchase(ctx, 7, second))

	records, err = s.Purchases(ctx, 7)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(100), records[0].Price)
	require.Equal(t, uint64(150), records[1].Price)

	// The returned slice is a copy.
	records[0].Price = 1
	again, err := s.Purchases(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(100), again[0].Price)
}
