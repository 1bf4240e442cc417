package blobstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	attrs, err := m.Upload(ctx, "reports/a.pdf", "application/PDF; charset=binary", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), attrs.Size)
	assert.Equal(t, "application/pdf", attrs.ContentType)

	st, err := m.Stat(ctx, "reports/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, attrs.ETag, st.ETag)

	data, err := ReadAll(ctx, m, "reports/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	require.NoError(t, m.Delete(ctx, "reports/a.pdf"))
	_, err = m.Stat(ctx, "reports/a.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ReadAll(ctx, m, "reports/a.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRejectsEmptyKey(t *testing.T) {
	_, err := NewMemory().Upload(context.Background(), " ", "image/png", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", NormalizeContentType("IMAGE/JPG"))
	assert.True(t, AllowedContentTypes[NormalizeContentType("application/pdf;x=y")])
	assert.False(t, AllowedContentTypes[NormalizeContentType("text/plain")])
}
