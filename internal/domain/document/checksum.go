package document

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ledgerlink/backend/internal/domain/shared"
)

// Supported checksum algorithms
const (
	ChecksumSHA256  = "sha256"
	ChecksumBLAKE2b = "blake2b"
)

// Checksum is a content digest in "algorithm:hex" form
type Checksum struct {
	Algorithm string
	Digest    string
}

// ParseChecksum parses "sha256:<64 hex>" or "blake2b:<64 hex>". A bare 64-char hex
// digest is read as sha256.
func ParseChecksum(s string) (Checksum, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	algo, digest, found := strings.Cut(s, ":")
	if !found {
		algo, digest = ChecksumSHA256, s
	}
	if algo != ChecksumSHA256 && algo != ChecksumBLAKE2b {
		return Checksum{}, shared.NewDomainError("INVALID_CHECKSUM", fmt.Sprintf("Unsupported checksum algorithm %q", algo))
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != 32 {
		return Checksum{}, shared.NewDomainError("INVALID_CHECKSUM", "Checksum digest must be 32 bytes of hex")
	}
	return Checksum{Algorithm: algo, Digest: digest}, nil
}

// String returns the canonical "algorithm:hex" form
func (c Checksum) String() string {
	return c.Algorithm + ":" + c.Digest
}

// Equal compares two checksums in canonical form
func (c Checksum) Equal(other Checksum) bool {
	return c.Algorithm == other.Algorithm && c.Digest == other.Digest
}
