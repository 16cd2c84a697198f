package storage

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

const helloSHA256 = "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestDigest(t *testing.T) {
	sum, err := Digest("sha256", strings.NewReader("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, sum)

	sum, err = Digest("", strings.NewReader("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, sum)

	want := blake2b.Sum256([]byte("hello"))
	sum, err = Digest("blake2b", strings.NewReader("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, "blake2b:"+hex.EncodeToString(want[:]), sum)

	_, err = Digest("md5", strings.NewReader("hello"), 0)
	assert.Error(t, err)
}

func TestDigest_Limit(t *testing.T) {
	sum, err := Digest("sha256", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, sum)

	_, err = Digest("sha256", strings.NewReader("hello!"), 5)
	assert.ErrorIs(t, err, ErrContentTooLarge)
}

func TestChecksumHelpers(t *testing.T) {
	assert.Equal(t, helloSHA256, fromMetadata(map[string]string{"Checksum": strings.ToUpper(helloSHA256[7:])}))
	assert.Equal(t, "", fromMetadata(map[string]string{"checksum": "md5:abc"}))
	assert.Equal(t, "", fromMetadata(nil))

	assert.Equal(t, helloSHA256, fromBase64SHA256("LPJNul+wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ="))
	assert.Equal(t, "", fromBase64SHA256("not base64"))
	assert.Equal(t, "", fromBase64SHA256(""))
}

func TestParseLocator(t *testing.T) {
	tests := []struct {
		in      string
		want    Locator
		wantErr bool
	}{
		{in: "s3://docs/2026/a.pdf", want: Locator{Scheme: "s3", Bucket: "docs", Key: "2026/a.pdf"}},
		{in: "GS://docs/a.png", want: Locator{Scheme: "gs", Bucket: "docs", Key: "a.png"}},
		{in: "/2026/a.pdf", want: Locator{Bucket: "default", Key: "2026/a.pdf"}},
		{in: "s3://docs", wantErr: true},
		{in: "s3:///a.pdf", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocator(tt.in, "default")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
