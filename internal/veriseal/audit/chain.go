package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

var ErrChainBroken = errors.New("audit chain broken")

// GenesisHash is the PrevHash of the first entry ever written.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Chain hands out hash-linked entries. Only the head is kept in memory;
// the entries themselves live in the sinks. Each entry's Hash covers its
// canonical JSON form (RFC 8785) including PrevHash.
type Chain struct {
	mu   sync.Mutex
	seq  uint64
	head string
}

func NewChain() *Chain {
	return &Chain{head: GenesisHash}
}

// ResumeChain continues after last, typically the newest entry read back
// from a sink at startup.
func ResumeChain(last Entry) (*Chain, error) {
	want, err := hashEntry(last)
	if err != nil {
		return nil, err
	}
	if last.Hash != want {
		return nil, fmt.Errorf("%w: resume point seq %d hash mismatch", ErrChainBroken, last.Seq)
	}
	return &Chain{seq: last.Seq, head: last.Hash}, nil
}

// Append links r to the current head and returns the new entry.
func (c *Chain) Append(r Record) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := Entry{
		ID:       uuid.NewString(),
		Seq:      c.seq + 1,
		Record:   r,
		PrevHash: c.head,
	}
	h, err := hashEntry(e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = h

	c.seq = e.Seq
	c.head = h
	return e, nil
}

func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Seq is the sequence number of the newest entry, 0 before the first.
func (c *Chain) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// VerifyEntries checks a contiguous run of entries, oldest first, for
// broken links, gaps or edited entries. The run may start anywhere: it is
// anchored on its first entry's PrevHash, except that seq 1 must link to
// GenesisHash.
func VerifyEntries(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	prev := entries[0].PrevHash
	if entries[0].Seq == 1 && prev != GenesisHash {
		return fmt.Errorf("%w: entry 1 does not link to genesis", ErrChainBroken)
	}
	for i, e := range entries {
		if i > 0 && e.Seq != entries[i-1].Seq+1 {
			return fmt.Errorf("%w: gap between seq %d and %d", ErrChainBroken, entries[i-1].Seq, e.Seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d links to %s, want %s", ErrChainBroken, e.Seq, short(e.PrevHash), short(prev))
		}
		want, err := hashEntry(e)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, e.Seq)
		}
		prev = e.Hash
	}
	return nil
}

func hashEntry(e Entry) (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit marshal: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
