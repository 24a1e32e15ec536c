package audit_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veriseal/server/internal/veriseal/audit"
)

var at = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func appendN(t *testing.T, c *audit.Chain, n int) []audit.Entry {
	t.Helper()
	out := make([]audit.Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := c.Append(audit.Record{
			Kind:         audit.KindCheckpointDecision,
			PackageID:    "PKG-20260301-ABC123",
			CheckpointID: "CP001",
			Decision:     "proceed",
			At:           at.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestChain_LinksEntries(t *testing.T) {
	c := audit.NewChain()
	entries := appendN(t, c, 3)

	require.Equal(t, audit.GenesisHash, entries[0].PrevHash)
	for i, e := range entries {
		require.Equal(t, uint64(i+1), e.Seq)
		require.Len(t, e.Hash, 64)
		if i > 0 {
			require.Equal(t, entries[i-1].Hash, e.PrevHash)
		}
	}
	require.Equal(t, entries[2].Hash, c.Head())
	require.Equal(t, uint64(3), c.Seq())
	require.NoError(t, audit.VerifyEntries(entries))
}

func TestChain_DetectsEditedEntry(t *testing.T) {
	entries := appendN(t, audit.NewChain(), 3)
	entries[1].Decision = "return"

	require.ErrorIs(t, audit.VerifyEntries(entries), audit.ErrChainBroken)
}

func TestChain_DetectsDroppedEntry(t *testing.T) {
	entries := appendN(t, audit.NewChain(), 3)

	require.ErrorIs(t, audit.VerifyEntries([]audit.Entry{entries[0], entries[2]}), audit.ErrChainBroken)
}

func TestChain_FirstEntryMustLinkToGenesis(t *testing.T) {
	entries := appendN(t, audit.NewChain(), 1)
	forged := appendN(t, audit.NewChain(), 2)[1]
	forged.Seq = 1

	require.NoError(t, audit.VerifyEntries(entries))
	require.ErrorIs(t, audit.VerifyEntries([]audit.Entry{forged}), audit.ErrChainBroken)
}

func TestChain_TrimmedWindowStillVerifies(t *testing.T) {
	entries := appendN(t, audit.NewChain(), 5)

	require.NoError(t, audit.VerifyEntries(entries[2:]))
}

func TestResumeChain_ContinuesAcrossRestart(t *testing.T) {
	first := appendN(t, audit.NewChain(), 2)

	resumed, err := audit.ResumeChain(first[1])
	require.NoError(t, err)
	require.Equal(t, uint64(2), resumed.Seq())

	more := appendN(t, resumed, 2)
	require.Equal(t, uint64(3), more[0].Seq)
	require.NoError(t, audit.VerifyEntries(append(first, more...)))
}

func TestResumeChain_RejectsEditedResumePoint(t *testing.T) {
	last := appendN(t, audit.NewChain(), 1)[0]
	last.PackageID = "PKG-OTHER"

	_, err := audit.ResumeChain(last)
	require.ErrorIs(t, err, audit.ErrChainBroken)
}

func TestMemoryLog_BoundedNewestFirst(t *testing.T) {
	log := audit.NewMemoryLog(3)
	ctx := context.Background()
	for _, e := range appendN(t, audit.NewChain(), 5) {
		require.NoError(t, log.Write(ctx, e))
	}

	got, err := log.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, uint64(5), got[0].Seq)
	require.Equal(t, uint64(3), got[2].Seq)

	slices.Reverse(got)
	require.NoError(t, audit.VerifyEntries(got))

	last, ok, err := audit.Last(ctx, log)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(5), last.Seq)
}
