package eventarchive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppendScan(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Open())
	defer b.Close()

	s1, err := b.Append([]byte("one"))
	require.NoError(t, err)
	s2, err := b.Append([]byte("two"))
	require.NoError(t, err)
	assert.Equal(t, s1+1, s2)

	var got []string
	require.NoError(t, b.Scan(0, func(r Record) bool {
		got = append(got, string(r.Data))
		return true
	}))
	assert.Equal(t, []string{"one", "two"}, got)

	last, err := b.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, s2, last)

	data, err := b.Get(s1)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	_, err = b.Get(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryScanLowerBound(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Open())
	defer b.Close()

	for i := 0; i < 5; i++ {
		_, err := b.Append([]byte{byte(i)})
		require.NoError(t, err)
	}
	var seqs []uint64
	require.NoError(t, b.Scan(3, func(r Record) bool {
		seqs = append(seqs, r.Seq)
		return true
	}))
	assert.Equal(t, []uint64{3, 4, 5}, seqs)
}

func TestClosedBackendRejects(t *testing.T) {
	b := NewMemoryBackend()
	_, err := b.Append([]byte("x"))
	assert.ErrorIs(t, err, ErrArchiveClosed)
}

func TestPebbleRoundTrip(t *testing.T) {
	cfg := &Config{Backend: "pebble", Path: t.TempDir()}
	b, err := CreateBackend("pebble", cfg)
	require.NoError(t, err)
	require.NoError(t, b.Open())

	s1, err := b.Append([]byte("alpha"))
	require.NoError(t, err)
	_, err = b.Append([]byte("beta"))
	require.NoError(t, err)

	data, err := b.Get(s1)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
	require.NoError(t, b.Close())

	// Reopen resumes the sequence.
	b2, err := CreateBackend("pebble", cfg)
	require.NoError(t, err)
	require.NoError(t, b2.Open())
	defer b2.Close()
	s3, err := b2.Append([]byte("gamma"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s3)
}

func TestUnknownBackend(t *testing.T) {
	_, err := CreateBackend("bolt", nil)
	assert.Error(t, err)
}
