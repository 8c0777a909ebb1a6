package importer

import (
	"bytes"
	"compress/gzip"
	"io"
	"mime/multipart"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

func TestDecompressIfGzipDetectsMagicBytes(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte("hello\nworld\n"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	r, err := decompressIfGzip(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello\nworld\n", string(out))
}

func TestDecompressIfGzipPassesThroughPlainText(t *testing.T) {
	r, err := decompressIfGzip(bytes.NewBufferString("plain text\n"))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "plain text\n", string(out))
}

type blockingReader struct{}

func (blockingReader) Read(p []byte) (int, error) {
	select {}
}

func TestStallReaderAbortsOnDeadline(t *testing.T) {
	sr := &stallReader{r: blockingReader{}, timeout: 20 * time.Millisecond}
	_, err := sr.Read(make([]byte, 16))
	require.Error(t, err)
	require.Equal(t, netwallerr.KindStorageUnavailable, netwallerr.KindOf(err))
}

func TestStallReaderPassesThroughFastRead(t *testing.T) {
	sr := &stallReader{r: bytes.NewBufferString("abc"), timeout: time.Second}
	buf := make([]byte, 3)
	n, err := sr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "abc", string(buf))
}

func TestStallReaderDisabledWhenTimeoutZero(t *testing.T) {
	sr := &stallReader{r: bytes.NewBufferString("xyz"), timeout: 0}
	buf := make([]byte, 3)
	n, err := sr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestValidateUploadSizeRejectsOversized(t *testing.T) {
	err := ValidateUploadSize(&multipart.FileHeader{Size: 2000}, 1000)
	require.Error(t, err)
	require.Equal(t, netwallerr.KindValidation, netwallerr.KindOf(err))
}

func TestValidateUploadSizeAcceptsWithinLimit(t *testing.T) {
	require.NoError(t, ValidateUploadSize(&multipart.FileHeader{Size: 500}, 1000))
}
