package audit_test

import (
	"context"
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/veriseal/server/internal/veriseal/audit"
)

func newRedisSink(t *testing.T, mr *miniredis.Miniredis, maxLen int64) *audit.RedisStream {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	sink := audit.NewRedisStream(client, "veriseal:audit", maxLen)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestRedisStream_WriteAndReadBack(t *testing.T) {
	sink := newRedisSink(t, miniredis.RunT(t), 0)
	ctx := context.Background()

	for _, e := range appendN(t, audit.NewChain(), 3) {
		require.NoError(t, sink.Write(ctx, e))
	}

	got, err := sink.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, uint64(3), got[0].Seq)

	slices.Reverse(got)
	require.NoError(t, audit.VerifyEntries(got))

	two, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	require.Equal(t, uint64(2), two[1].Seq)
}

func TestRedisStream_ResumeAfterTrimAndRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	sink := newRedisSink(t, mr, 3)
	for _, e := range appendN(t, audit.NewChain(), 5) {
		require.NoError(t, sink.Write(ctx, e))
	}

	// A new process picks the chain up from the stream.
	restarted := newRedisSink(t, mr, 3)
	last, ok, err := audit.Last(ctx, restarted)
	require.NoError(t, err)
	require.True(t, ok)

	chain, err := audit.ResumeChain(last)
	require.NoError(t, err)
	for _, e := range appendN(t, chain, 2) {
		require.NoError(t, restarted.Write(ctx, e))
	}

	got, err := restarted.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, uint64(7), got[0].Seq)

	slices.Reverse(got)
	require.NoError(t, audit.VerifyEntries(got))
}

func TestRedisStream_EmptyStreamHasNoLast(t *testing.T) {
	sink := newRedisSink(t, miniredis.RunT(t), 0)

	_, ok, err := audit.Last(context.Background(), sink)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStream_WriteFailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	sink := newRedisSink(t, mr, 0)
	mr.Close()

	e, err := audit.NewChain().Append(audit.Record{Kind: audit.KindTamperReported, PackageID: "PKG-1", At: at})
	require.NoError(t, err)
	require.Error(t, sink.Write(context.Background(), e))
}
