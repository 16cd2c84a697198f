package document

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSum = "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestNewDocument(t *testing.T) {
	companyID := uuid.New()

	t.Run("creates uploaded document", func(t *testing.T) {
		doc, err := NewDocument(companyID, nil, "s3://bucket/a.pdf", validSum, "Application/PDF")
		require.NoError(t, err)
		assert.Equal(t, StatusUploaded, doc.Status)
		assert.Equal(t, "application/pdf", doc.MimeType)
		assert.Equal(t, companyID, doc.CompanyID)
		assert.False(t, doc.Corrupt)
	})

	t.Run("bare hex checksum is read as sha256", func(t *testing.T) {
		doc, err := NewDocument(companyID, nil, "s3://bucket/a.pdf", strings.TrimPrefix(validSum, "sha256:"), "application/pdf")
		require.NoError(t, err)
		assert.Equal(t, validSum, doc.Checksum)
	})

	tests := []struct {
		name     string
		company  uuid.UUID
		locator  string
		checksum string
		mime     string
	}{
		{"empty company", uuid.Nil, "s3://b/k", validSum, "application/pdf"},
		{"empty locator", companyID, "  ", validSum, "application/pdf"},
		{"unknown algorithm", companyID, "s3://b/k", "md5:abcd", "application/pdf"},
		{"short digest", companyID, "s3://b/k", "sha256:abcd", "application/pdf"},
		{"bad mime", companyID, "s3://b/k", validSum, "pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDocument(tt.company, nil, tt.locator, tt.checksum, tt.mime)
			assert.Error(t, err)
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusUploaded, StatusExtracting, true},
		{StatusExtracting, StatusExtracted, true},
		{StatusExtracting, StatusExtractionFailed, true},
		{StatusExtracted, StatusPosting, true},
		{StatusExtracted, StatusNeedsReview, true},
		{StatusNeedsReview, StatusPosting, true},
		{StatusPosting, StatusLinked, true},
		{StatusPosting, StatusPostingFailed, true},
		{StatusPostingFailed, StatusLinked, true},
		{StatusPostingFailed, StatusPosting, true},
		{StatusLinked, StatusExtracted, false},
		{StatusLinked, StatusPosting, false},
		{StatusUploaded, StatusLinked, false},
		{StatusNeedsReview, StatusLinked, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusVisible(t *testing.T) {
	assert.Equal(t, VisibleProcessing, StatusUploaded.Visible())
	assert.Equal(t, VisibleProcessing, StatusPosting.Visible())
	assert.Equal(t, VisibleProcessing, StatusPostingFailed.Visible())
	assert.Equal(t, VisibleLinked, StatusLinked.Visible())
	assert.Equal(t, VisibleNeedsReview, StatusNeedsReview.Visible())
	assert.Equal(t, VisibleNeedsReview, StatusExtractionFailed.Visible())
}

func TestAttributes(t *testing.T) {
	t.Run("decodes scalars", func(t *testing.T) {
		var attrs Attributes
		err := json.Unmarshal([]byte(`{"vendor":"ACME","total":"12.50","tax":1.25,"paid":true}`), &attrs)
		require.NoError(t, err)

		assert.Equal(t, ScalarString, attrs["vendor"].Kind)
		assert.Equal(t, ScalarNumber, attrs["tax"].Kind)
		assert.True(t, attrs["tax"].Num.Equal(decimal.RequireFromString("1.25")))
		assert.Equal(t, ScalarBool, attrs["paid"].Kind)
		assert.Equal(t, []string{"paid", "tax", "total", "vendor"}, attrs.Keys())
	})

	t.Run("rejects nested values", func(t *testing.T) {
		var attrs Attributes
		err := json.Unmarshal([]byte(`{"lines":[1,2]}`), &attrs)
		assert.Error(t, err)
	})

	t.Run("encodes numbers without quotes", func(t *testing.T) {
		data, err := json.Marshal(Attributes{"tax": NumberValue(decimal.RequireFromString("1.25"))})
		require.NoError(t, err)
		assert.JSONEq(t, `{"tax":1.25}`, string(data))
	})

	t.Run("enforces limits", func(t *testing.T) {
		attrs := Attributes{}
		for i := 0; i <= MaxAttributes; i++ {
			attrs[uuid.NewString()] = BoolValue(true)
		}
		assert.Error(t, attrs.Validate())

		assert.Error(t, Attributes{"k": StringValue(strings.Repeat("x", MaxAttributeValueLen+1))}.Validate())
		assert.Error(t, Attributes{strings.Repeat("k", MaxAttributeKeyLen+1): BoolValue(true)}.Validate())
		assert.NoError(t, Attributes{"k": StringValue("v")}.Validate())
	})
}

func TestExtractionResult(t *testing.T) {
	result := ExtractionResult{
		Amount:     decimal.RequireFromString("42.10"),
		Currency:   "usd",
		Confidence: 0.9,
		Entities:   Attributes{EntityDate: StringValue("2024-03-05"), EntityEntryType: StringValue("income")},
	}
	require.NoError(t, result.Validate())

	date, ok := result.TransactionDate()
	require.True(t, ok)
	assert.Equal(t, 2024, date.Year())
	assert.Equal(t, "income", result.Entity(EntityEntryType))
	assert.Equal(t, "", result.Entity("missing"))

	result.Confidence = 1.5
	assert.Error(t, result.Validate())
}

func TestCrossStoreLink(t *testing.T) {
	doc, err := NewDocument(uuid.New(), nil, "s3://b/k", validSum, "image/png")
	require.NoError(t, err)

	attempt := uuid.New()
	link := NewClaim(doc, nil, attempt)
	assert.Equal(t, int64(1), link.Version)
	assert.Equal(t, LinkStatePosting, link.State)
	assert.True(t, link.HeldBy(attempt))
	assert.False(t, link.IsLinked())

	next := link.Next(LinkStateLinked)
	entryID := uuid.New()
	next.LedgerEntryID = &entryID
	assert.Equal(t, int64(2), next.Version)
	assert.True(t, next.IsLinked())
	assert.Equal(t, int64(1), link.Version, "Next must not mutate the receiver")
}
