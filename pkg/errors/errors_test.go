package errors

import (
	"encoding/json"
	"fmt"
	"testing"

	stderrors "errors"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(ErrUnknownItem, "item not found")
	require.Equal(t, "item not found", plain.Error())

	wrapped := WrapCode(ErrStorageUnavailable, fmt.Errorf("connection refused"), "error listing items")
	require.Equal(t, "error listing items: connection refused", wrapped.Error())
}

func TestCodeUnwrapsChains(t *testing.T) {
	require.Equal(t, 0, Code(nil))
	require.Equal(t, 0, Code(fmt.Errorf("plain")))
	require.Equal(t, ErrForbidden, Code(New(ErrForbidden, "nope")))

	inner := New(ErrAuctionEnded, "auction has ended")
	outer := fmt.Errorf("placing bid: %w", inner)
	require.Equal(t, ErrAuctionEnded, Code(outer))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(ErrBidNotFound, "bid not found")
	b := WrapCode(ErrBidNotFound, fmt.Errorf("sql: no rows"), "different message")
	require.True(t, stderrors.Is(a, b))
	require.False(t, stderrors.Is(a, New(ErrUnknownItem, "item not found")))
}

func TestToJSON(t *testing.T) {
	raw := New(ErrRateLimited, "Rate limit exceeded").ToJSON()

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	require.Equal(t, "error", payload["type"])
	require.Equal(t, float64(ErrRateLimited), payload["code"])
	require.Equal(t, "Rate limit exceeded", payload["message"])
}
