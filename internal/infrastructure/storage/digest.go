// Package storage reads document content from object storage to confirm it
// exists and to obtain its checksum.
package storage

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/ledgerlink/backend/internal/domain/document"
	"golang.org/x/crypto/blake2b"
)

// MetadataChecksumKey is the object metadata entry holding an "algo:hex" checksum
const MetadataChecksumKey = "checksum"

// ErrContentTooLarge is returned when hashing would read past the configured limit
var ErrContentTooLarge = errors.New("content exceeds hash limit")

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case document.ChecksumSHA256, "":
		return sha256.New(), nil
	case document.ChecksumBLAKE2b:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
}

// Digest hashes r with algorithm and returns the "algo:hex" checksum. At most
// maxBytes are read when maxBytes > 0.
func Digest(algorithm string, r io.Reader, maxBytes int64) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	if algorithm == "" {
		algorithm = document.ChecksumSHA256
	}
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		return "", ErrContentTooLarge
	}
	return algorithm + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// fromMetadata returns the checksum stored in user metadata, if valid
func fromMetadata(meta map[string]string) string {
	for k, v := range meta {
		if strings.EqualFold(k, MetadataChecksumKey) {
			if sum, err := document.ParseChecksum(v); err == nil {
				return sum.String()
			}
		}
	}
	return ""
}

// fromBase64SHA256 converts a provider's base64 SHA-256 digest to "sha256:hex"
func fromBase64SHA256(b64 string) string {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(raw) != sha256.Size {
		return ""
	}
	return document.ChecksumSHA256 + ":" + hex.EncodeToString(raw)
}

// Locator is a parsed content locator
type Locator struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseLocator accepts "s3://bucket/key", "gs://bucket/key" or a bare object
// key, which resolves against defaultBucket.
func ParseLocator(locator, defaultBucket string) (Locator, error) {
	locator = strings.TrimSpace(locator)
	scheme, rest, found := strings.Cut(locator, "://")
	if !found {
		key := strings.TrimPrefix(locator, "/")
		if key == "" {
			return Locator{}, errors.New("content locator is empty")
		}
		return Locator{Bucket: defaultBucket, Key: key}, nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return Locator{}, fmt.Errorf("content locator %q must name a bucket and a key", locator)
	}
	return Locator{Scheme: strings.ToLower(scheme), Bucket: bucket, Key: key}, nil
}
