package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"orders/ORD-2025-001/dst/a.dst": "orders/ORD-2025-001/dst/a.dst",
		"/designs//1/normal.png":        "designs/1/normal.png",
		`designs\1\preview.png`:         "designs/1/preview.png",
	}
	for in, want := range cases {
		got, err := CleanKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "  ", "../etc/passwd", "orders/../../x", "/"} {
		_, err := CleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "my_logo.dst", SafeName("../../my logo.dst"))
	assert.Equal(t, "file", SafeName("..."))
	assert.Equal(t, "ab.pes", SafeName(`C:\tmp\a*b.pes`))
}

func TestLocalRoundTrip(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "orders/1/dst/logo.dst", strings.NewReader("stitches"), 8, "application/octet-stream"))

	body, obj, err := store.Get(ctx, "orders/1/dst/logo.dst")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "stitches", string(data))
	assert.Equal(t, int64(8), obj.Size)

	require.NoError(t, store.Put(ctx, "orders/1/dst/logo.dst", strings.NewReader("v2"), 2, ""))
	body, obj, err = store.Get(ctx, "orders/1/dst/logo.dst")
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, int64(2), obj.Size)

	require.NoError(t, store.Delete(ctx, "orders/1/dst/logo.dst"))
	_, _, err = store.Get(ctx, "orders/1/dst/logo.dst")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.NoError(t, store.Delete(ctx, "orders/1/dst/logo.dst"))
}
