package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *TransferJournal {
	t.Helper()
	journal, err := NewTransferJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return journal
}

func TestJournalRecordAndQuery(t *testing.T) {
	journal := newTestJournal(t)

	now := time.Now().Unix()
	rec := &TransferRecord{
		Role:          RoleSender,
		Peer:          "127.0.0.1:9000",
		Bytes:         3000,
		Packets:       3,
		Retransmits:   1,
		Duplicates:    0,
		CorruptFrames: 2,
		Digest:        "deadbeef",
		StartedAt:     now - 5,
		FinishedAt:    now,
	}

	id, err := journal.Record(rec)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	records, err := journal.RecentTransfers(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	require.Equal(t, RoleSender, got.Role)
	require.Equal(t, "127.0.0.1:9000", got.Peer)
	require.EqualValues(t, 3000, got.Bytes)
	require.EqualValues(t, 3, got.Packets)
	require.EqualValues(t, 1, got.Retransmits)
	require.EqualValues(t, 2, got.CorruptFrames)
	require.Equal(t, "deadbeef", got.Digest)
}

func TestJournalRecentOrdering(t *testing.T) {
	journal := newTestJournal(t)

	for i := 0; i < 3; i++ {
		_, err := journal.Record(&TransferRecord{
			Role:       RoleReceiver,
			Peer:       "peer",
			Bytes:      int64(i),
			Digest:     "d",
			StartedAt:  int64(100 + i),
			FinishedAt: int64(200 + i),
		})
		require.NoError(t, err)
	}

	records, err := journal.RecentTransfers(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.EqualValues(t, 2, records[0].Bytes, "newest first")
	require.EqualValues(t, 1, records[1].Bytes)
}

func TestJournalTotalBytes(t *testing.T) {
	journal := newTestJournal(t)

	total, err := journal.TotalBytes(RoleSender)
	require.NoError(t, err)
	require.Zero(t, total, "empty journal sums to zero")

	for _, n := range []int64{100, 250} {
		_, err := journal.Record(&TransferRecord{
			Role: RoleSender, Peer: "p", Bytes: n, Digest: "d",
			StartedAt: 1, FinishedAt: 2,
		})
		require.NoError(t, err)
	}
	_, err = journal.Record(&TransferRecord{
		Role: RoleReceiver, Peer: "p", Bytes: 999, Digest: "d",
		StartedAt: 1, FinishedAt: 2,
	})
	require.NoError(t, err)

	total, err = journal.TotalBytes(RoleSender)
	require.NoError(t, err)
	require.EqualValues(t, 350, total, "sums only the requested role")
}
