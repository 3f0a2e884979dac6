package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resale-repricer/internal/db"
)

func TestFileStore_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s := NewFileStore(dir)
	ctx := context.Background()

	_, err := s.Load(ctx, "seller@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, "seller@example.com", []byte("one")))
	require.NoError(t, s.Save(ctx, "seller@example.com", []byte("two")))

	b, err := s.Load(ctx, "seller@example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), b)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are renamed away")
	assert.Equal(t, "seller@example.com.session", entries[0].Name())
}

func TestFileStore_SanitizesAccount(t *testing.T) {
	s := NewFileStore("/tmp/x")
	assert.Equal(t, filepath.Join("/tmp/x", "a_b_c.session"), s.path("a/b c"))
}

type fakeRow struct {
	val []byte
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.val
	return nil
}

type fakeQuerier struct {
	rows  map[string][]byte
	execs int
}

func (f *fakeQuerier) Exec(_ context.Context, _ string, args ...any) error {
	f.execs++
	f.rows[args[0].(string)] = args[1].([]byte)
	return nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) db.Row {
	v, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{val: v}
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (db.Rows, error) {
	return nil, errors.New("not used")
}

func TestPostgresStore(t *testing.T) {
	q := &fakeQuerier{rows: map[string][]byte{}}
	s := NewPostgresStore(q)
	ctx := context.Background()

	_, err := s.Load(ctx, "seller")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, "seller", []byte("blob")))
	b, err := s.Load(ctx, "seller")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), b)
	assert.Equal(t, 1, q.execs)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "repricer:session:seller", RedisKey("seller"))
}

func TestCodec_RoundTripAndTamper(t *testing.T) {
	c := testCodec(t)
	in := Credential{
		AccountID:  "seller",
		State:      make([]byte, 10000),
		IssuedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Generation: 7,
	}
	blob, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, in.AccountID, out.AccountID)
	assert.Equal(t, in.State, out.State)
	assert.True(t, in.IssuedAt.Equal(out.IssuedAt))
	assert.Zero(t, out.Generation, "generation is process-local")

	blob[len(blob)/2] ^= 0x01
	_, err = c.Decode(blob)
	assert.Error(t, err)

	other, err := NewCodecFromSecret([]byte("another-secret-of-enough-length"))
	require.NoError(t, err)
	_, err = other.Decode(mustEncode(t, c, in))
	assert.Error(t, err)
}

func mustEncode(t *testing.T, c *Codec, cred Credential) []byte {
	t.Helper()
	b, err := c.Encode(cred)
	require.NoError(t, err)
	return b
}

func TestDeriveKeys(t *testing.T) {
	h1, b1, err := DeriveKeys([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Len(t, h1, 64)
	assert.Len(t, b1, 32)
	assert.NotEqual(t, h1[:32], b1)

	h2, b2, err := DeriveKeys([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, b1, b2)

	_, _, err = DeriveKeys([]byte("short"))
	assert.Error(t, err)
}

func TestCredentialValid(t *testing.T) {
	now := time.Now()
	assert.False(t, Credential{}.Valid(now))
	assert.True(t, Credential{State: []byte("x")}.Valid(now))
	assert.False(t, Credential{State: []byte("x"), ExpiresAt: now.Add(-time.Second)}.Valid(now))
}
