package document

import "context"

// ContentStore exposes object metadata for document content. Content bytes
// are never read by the coordinator.
type ContentStore interface {
	// Exists reports whether an object is stored at locator.
	Exists(ctx context.Context, locator string) (bool, error)
	// Checksum returns the stored object's checksum in "algorithm:hex" form,
	// or "" when the backend recorded none.
	Checksum(ctx context.Context, locator string) (string, error)
}
