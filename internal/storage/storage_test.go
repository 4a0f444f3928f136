package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), "/media/")
	require.NoError(t, err)

	name := QRName("abc")
	assert.Equal(t, "qr_codes/qr_abc.png", name)

	ref, err := store.Save(ctx, name, []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, "/media/qr_codes/qr_abc.png", store.URL(ref))

	_, err = store.Save(ctx, name, []byte("two"))
	require.NoError(t, err)

	rc, err := store.Open(ctx, ref)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	require.NoError(t, store.Delete(ctx, ref))
	require.NoError(t, store.Delete(ctx, ref))
	_, err = store.Open(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RejectsEscapingNames(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), "/media")
	require.NoError(t, err)

	for _, name := range []string{"", "../etc/passwd", "photos/../../x"} {
		_, err := store.Save(ctx, name, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	assert.Equal(t, "", store.URL(""))
}
