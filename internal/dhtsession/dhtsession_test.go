package dhtsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOwnedHandleClosesUnderlyingSession(t *testing.T) {
	sess := NewMemSession()
	h := Own(sess)
	require.True(t, h.Owned())
	require.Same(t, Session(sess), h.Session())

	require.NoError(t, h.Close())
	require.Nil(t, h.Session())
}

func TestBorrowedHandleCloseDoesNotTouchSession(t *testing.T) {
	sess := NewMemSession()
	h := Borrow(sess)
	require.False(t, h.Owned())

	require.NoError(t, h.Close())
	// The session itself is still usable; only the handle forgot it.
	require.True(t, sess.WaitForReady(context.Background(), time.Second))
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	h := Own(NewMemSession())
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestMemSessionPutGetRoundTrip(t *testing.T) {
	sess := NewMemSession()
	ctx := context.Background()

	require.NoError(t, sess.Put(ctx, "k", []byte("v"), 0))
	got, ok, err := sess.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)
}

func TestMemSessionGetMissingKeyReturnsNotOK(t *testing.T) {
	sess := NewMemSession()
	_, ok, err := sess.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemSessionEntryExpiresAfterTTL(t *testing.T) {
	sess := NewMemSession()
	ctx := context.Background()
	require.NoError(t, sess.Put(ctx, "k", []byte("v"), time.Nanosecond))
	time.Sleep(time.Millisecond)

	_, ok, err := sess.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemSessionOnStatusFiresOnSetReady(t *testing.T) {
	sess := NewMemSession()
	var got []bool
	sess.OnStatus(func(ready bool) { got = append(got, ready) })

	sess.SetReady(false)
	sess.SetReady(true)

	require.Equal(t, []bool{false, true}, got)
	require.True(t, sess.WaitForReady(context.Background(), time.Second))
}
