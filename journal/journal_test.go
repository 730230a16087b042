package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileJournal_AppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	j, err := NewFileJournal(dir+"/nested", "XAUUSDT")
	require.NoError(t, err)

	ev := NewEvent(KindEntry, "XAUUSDT")
	ev.Direction = "LONG"
	ev.Price = 2000.3
	require.NoError(t, j.Record(context.Background(), ev))

	tr := NewEvent(KindTrailing, "XAUUSDT")
	tr.StopLoss = 2000.5
	require.NoError(t, j.Record(context.Background(), tr))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "closing twice is harmless")

	assert.Error(t, j.Record(context.Background(), ev), "closed journal refuses writes")

	f, err := os.Open(j.Path())
	require.NoError(t, err)
	defer f.Close()

	var got []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, KindEntry, got[0].Kind)
	assert.Equal(t, 2000.3, got[0].Price)
	assert.Equal(t, KindTrailing, got[1].Kind)
	assert.Equal(t, 2000.5, got[1].StopLoss)
}

func TestFileJournal_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		j, err := NewFileJournal(dir, "XAUUSDT")
		require.NoError(t, err)
		require.NoError(t, j.Record(context.Background(), NewEvent(KindRejected, "XAUUSDT")))
		require.NoError(t, j.Close())
	}
	data, err := os.ReadFile(dir + "/XAUUSDT_journal.jsonl")
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestNewEvent(t *testing.T) {
	a, b := NewEvent(KindFault, "X"), NewEvent(KindFault, "X")
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Time.IsZero())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	j, err := Open(ctx, "none", "", "X", "")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, j)

	j, err = Open(ctx, "file", t.TempDir(), "X", "")
	require.NoError(t, err)
	assert.IsType(t, &FileJournal{}, j)
	require.NoError(t, j.Close())

	_, err = Open(ctx, "postgres", "", "X", "")
	assert.Error(t, err)

	_, err = Open(ctx, "kafka", "", "X", "")
	assert.Error(t, err)
}

// Runs against a real database when JOURNAL_TEST_POSTGRES_DSN is set.
func TestPostgresJournal(t *testing.T) {
	dsn := os.Getenv("JOURNAL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JOURNAL_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	j, err := NewPostgresJournal(ctx, dsn)
	require.NoError(t, err)
	defer j.Close()

	symbol := "TEST" + uuid.NewString()[:8]
	ev := NewEvent(KindBreakEven, symbol)
	require.NoError(t, j.Record(ctx, ev))
	require.NoError(t, j.Record(ctx, ev), "duplicate ids are ignored")

	var n int
	require.NoError(t, j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scalp_events WHERE symbol = $1`, symbol).Scan(&n))
	assert.Equal(t, 1, n)
}
