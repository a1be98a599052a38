package textsim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fieldscan/internal/textsim"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "acme corp ltd", textsim.Normalize("  ACME\tCorp \n Ltd "))
	assert.Equal(t, "", textsim.Normalize("   "))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, textsim.Similarity("Invoice No", "invoice   no"))
	assert.Equal(t, 0.0, textsim.Similarity("", "total"))
	assert.Greater(t, textsim.Similarity("Quantity", "Quantty"), 0.8)
	assert.Less(t, textsim.Similarity("Quantity", "Description"), 0.5)
}

func TestBestMatch(t *testing.T) {
	name, score := textsim.BestMatch("Qty", []string{"description", "qty", "unit_price"})
	assert.Equal(t, "qty", name)
	assert.Equal(t, 1.0, score)

	name, score = textsim.BestMatch("anything", nil)
	assert.Equal(t, "", name)
	assert.Equal(t, 0.0, score)
}

func TestIdentifier(t *testing.T) {
	tests := map[string]string{
		"Material No.":     "material_no",
		"Unit Price (USD)": "unit_price_usd",
		"  Total  ":        "total",
		"qty":              "qty",
		"---":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, textsim.Identifier(in), in)
	}
}

func TestVendorSignature(t *testing.T) {
	text := "\n\n  ACME   Industrial Supplies \nInvoice #123\n"
	assert.Equal(t, "acme industrial supplies", textsim.VendorSignature(text))
	assert.Equal(t, "", textsim.VendorSignature(" \n \n"))
	assert.Equal(t, "globex gmbh main st", textsim.VendorSignature("0042 / 2026-03-01\nGlobex GmbH, 12 Main St"))
}

func TestVendorSignature_IgnoresPerDocumentText(t *testing.T) {
	first := textsim.VendorSignature("ACME Corp  Invoice INV-001 dated 2026-01-05\nTotal 10.00")
	second := textsim.VendorSignature("ACME Corp Invoice #INV-002 dated 2026-02-11\nTotal 99.00")

	assert.Equal(t, "acme corp invoice dated", first)
	assert.Equal(t, first, second)
	assert.True(t, textsim.SignatureMatches(second, first))
}

func TestSignatureMatches(t *testing.T) {
	assert.True(t, textsim.SignatureMatches("ACME Industrial", "acme industrial supplies gmbh"))
	assert.False(t, textsim.SignatureMatches("Globex", "acme industrial supplies gmbh"))
	assert.False(t, textsim.SignatureMatches("", "acme"))
}
