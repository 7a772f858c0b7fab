package simreader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/arise/pkg/taptopay"
	"github.com/stretchr/testify/require"
)

func TestReader_RequiresConfigure(t *testing.T) {
	t.Parallel()

	r := New()
	ctx := context.Background()

	var re *taptopay.ReaderError
	require.ErrorAs(t, r.ActivateReader(ctx), &re)
	require.Equal(t, CodeNotConfigured, re.Code)

	_, err := r.PerformTransaction(ctx, taptopay.TransactionRequest{Amount: 1})
	require.ErrorAs(t, err, &re)

	require.NoError(t, r.Configure(ctx, "jwt", taptopay.MerchantDescriptor{BannerName: "Bar Tab"}))
	require.NoError(t, r.ActivateReader(ctx))
	require.True(t, r.Activated())

	r.Clear()
	require.False(t, r.Activated())
	require.Empty(t, r.Token())
}

func TestReader_FailOn(t *testing.T) {
	t.Parallel()

	r := New()
	boom := errors.New("boom")
	r.FailOn(OpIsAccountLinked, boom)

	_, err := r.IsAccountLinked(context.Background())
	require.ErrorIs(t, err, boom)

	r.FailOn(OpIsAccountLinked, nil)
	linked, err := r.IsAccountLinked(context.Background())
	require.NoError(t, err)
	require.False(t, linked)
	require.Equal(t, 2, r.Calls(OpIsAccountLinked))
}

func TestReader_EventsCloseWithContext(t *testing.T) {
	t.Parallel()

	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	events := r.Events(ctx)
	require.Equal(t, 1, r.Subscribers())

	r.Emit(taptopay.RawEvent{Kind: taptopay.RawReady})
	require.Equal(t, taptopay.RawReady, (<-events).Kind)

	cancel()
	select {
	case _, ok := <-events:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
	require.Zero(t, r.Subscribers())
}

func TestReader_AbortWithoutTransaction(t *testing.T) {
	t.Parallel()

	r := New()
	ok, err := r.AbortTransaction(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}
