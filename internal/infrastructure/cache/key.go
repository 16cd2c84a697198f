package cache

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Tag names a generation group. Every cached entry carries one or more tags
// and bumping a tag's generation makes all of its entries unreachable.
type Tag string

const scopeLen = len("c/") + 36

// CompanyTag covers everything cached for a company
func CompanyTag(companyID uuid.UUID) Tag {
	return Tag("c/" + companyID.String())
}

// ProjectTag covers views filtered to one project
func ProjectTag(companyID, projectID uuid.UUID) Tag {
	return Tag("c/" + companyID.String() + "/p/" + projectID.String())
}

// CompanyViewTag covers company-wide views that are not filtered by project
func CompanyViewTag(companyID uuid.UUID) Tag {
	return Tag("c/" + companyID.String() + "/all")
}

// scope is the company part of the tag. Writes are serialized per scope.
func (t Tag) scope() string {
	if len(t) >= scopeLen {
		return string(t[:scopeLen])
	}
	return string(t)
}

// QueryTags returns the tags of a cached read for a company, optionally
// narrowed to a project.
func QueryTags(companyID uuid.UUID, projectID *uuid.UUID) []Tag {
	if projectID != nil {
		return []Tag{CompanyTag(companyID), ProjectTag(companyID, *projectID)}
	}
	return []Tag{CompanyTag(companyID), CompanyViewTag(companyID)}
}

// WriteTags returns the tags a write touching companyID (and projectID) must
// invalidate. Views of other projects stay cached.
func WriteTags(companyID uuid.UUID, projectID *uuid.UUID) []Tag {
	if projectID != nil {
		return []Tag{CompanyViewTag(companyID), ProjectTag(companyID, *projectID)}
	}
	return []Tag{CompanyViewTag(companyID)}
}

// Key is a logical cache key plus its tags. The first lookup pins the tag
// generations so a later Set stores under the same snapshot the value was
// loaded against. A Key belongs to one request and is not safe for
// concurrent use.
type Key struct {
	name string
	tags []Tag
	gens []uint64
}

// Name returns the logical key
func (k *Key) Name() string { return k.name }

// Tags returns the key's tags
func (k *Key) Tags() []Tag { return k.tags }

func (k *Key) pinned() bool { return k.gens != nil }

// physical renders the backend key for the pinned generations
func (k *Key) physical(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(k.name) + 8*len(k.gens) + 2)
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(k.name)
	b.WriteByte('@')
	for i, g := range k.gens {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(g, 10))
	}
	return b.String()
}

// KeyBuilder derives a key from the parts of a logical query. It is plain
// string concatenation: stable and cheap, with no hashing.
type KeyBuilder struct {
	b    strings.Builder
	tags []Tag
}

// NewKey starts a key in namespace
func NewKey(namespace string, tags ...Tag) *KeyBuilder {
	kb := &KeyBuilder{tags: tags}
	kb.b.WriteString(namespace)
	return kb
}

// Str appends a string part, length-prefixed so separators inside s cannot collide
func (kb *KeyBuilder) Str(s string) *KeyBuilder {
	kb.b.WriteByte(':')
	kb.b.WriteString(strconv.Itoa(len(s)))
	kb.b.WriteByte('=')
	kb.b.WriteString(s)
	return kb
}

// UUID appends an id
func (kb *KeyBuilder) UUID(id uuid.UUID) *KeyBuilder {
	kb.b.WriteByte(':')
	kb.b.WriteString(id.String())
	return kb
}

// OptUUID appends an optional id; nil renders as "-"
func (kb *KeyBuilder) OptUUID(id *uuid.UUID) *KeyBuilder {
	if id == nil {
		kb.b.WriteString(":-")
		return kb
	}
	return kb.UUID(*id)
}

// Int appends an integer part
func (kb *KeyBuilder) Int(n int) *KeyBuilder {
	kb.b.WriteByte(':')
	kb.b.WriteString(strconv.Itoa(n))
	return kb
}

// Key finishes the builder
func (kb *KeyBuilder) Key() *Key {
	return &Key{name: kb.b.String(), tags: kb.tags}
}
