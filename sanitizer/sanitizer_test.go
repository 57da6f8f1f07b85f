package sanitizer_test

import (
	"strings"
	"testing"

	"abandonment-service/sanitizer"

	"github.com/stretchr/testify/assert"
)

var samples = []string{
	"",
	"plain text",
	"<b>Bold</b> claim: contact seller@shop.example.com or visit https://shop.example.com/p?id=9",
	"Order 123456 for user_42 ref 2b1e6a9e-4c7d-4f0b-9a53-0b7f4ce7f0aa #sale @bob",
	"Don't be a fool, LAST CHANCE! You'll regret missing out on 50% off $20 items.",
	"What's wrong with you?? act now or never!!! *** ~~~",
	"[EMAIL_REMOVED] already redacted [URL_REMOVED]",
	"Café crème  —  naïve résumé ✓",
	"id:77 account-1234 uid99",
}

func TestSanitize_IdempotentInBothModes(t *testing.T) {
	s := sanitizer.New(nil)
	for _, mode := range []sanitizer.Mode{sanitizer.ModeCatalog, sanitizer.ModeMessage} {
		for _, in := range samples {
			once := s.Sanitize(in, mode)
			twice := s.Sanitize(once, mode)
			assert.Equal(t, once, twice, "mode=%s input=%q", mode, in)
		}
	}
}

func TestSanitize_CatalogHasNoPlaceholders(t *testing.T) {
	s := sanitizer.New(nil)
	for _, in := range samples {
		out := s.Sanitize(in, sanitizer.ModeCatalog)
		assert.NotContains(t, out, "REMOVED", "input=%q", in)
		assert.NotContains(t, out, "[")
		assert.Equal(t, strings.ToLower(out), out)
	}
}

func TestSanitize_MessageKeepsPlaceholders(t *testing.T) {
	s := sanitizer.New(nil)

	res := s.Clean("Write to seller@shop.example.com or see https://shop.example.com now.", sanitizer.ModeMessage)

	assert.Contains(t, res.Text, sanitizer.PlaceholderEmail)
	assert.Contains(t, res.Text, sanitizer.PlaceholderURL)
	assert.NotContains(t, res.Text, "seller@")
	assert.NotContains(t, res.Text, "https://")
	assert.True(t, res.Has(sanitizer.RemovedEmail))
	assert.True(t, res.Has(sanitizer.RemovedURL))
	assert.False(t, res.Has(sanitizer.RemovedUUID))
}

func TestSanitize_MessageRemovesManipulativePhrases(t *testing.T) {
	s := sanitizer.New(nil)

	res := s.Clean("Hi Sam, LAST CHANCE! Don't be a fool, you'll regret it.", sanitizer.ModeMessage)

	lower := strings.ToLower(res.Text)
	assert.NotContains(t, lower, "last chance")
	assert.NotContains(t, lower, "fool")
	assert.NotContains(t, lower, "regret")
	assert.True(t, strings.HasPrefix(res.Text, "Hi Sam,"))
	assert.True(t, res.Has(sanitizer.RemovedManipulative))
}

func TestSanitize_MessagePreservesCaseAndPunctuation(t *testing.T) {
	s := sanitizer.New(nil)

	out := s.Sanitize("Great news, Alex! Save 10% ($11) today? Yes - it's true.", sanitizer.ModeMessage)

	assert.Equal(t, "Great news, Alex! Save 10% $11 today? Yes - it's true.", out)
}

func TestSanitize_StripsIdentifiers(t *testing.T) {
	s := sanitizer.New(nil)

	res := s.Clean("<p>ref 2b1e6a9e-4c7d-4f0b-9a53-0b7f4ce7f0aa for user_42, order 123456 #promo @bob</p>", sanitizer.ModeMessage)

	assert.Contains(t, res.Text, sanitizer.PlaceholderUUID)
	assert.Contains(t, res.Text, sanitizer.PlaceholderUserID)
	assert.Contains(t, res.Text, sanitizer.PlaceholderNumber)
	assert.NotContains(t, res.Text, "#promo")
	assert.NotContains(t, res.Text, "@bob")
	assert.NotContains(t, res.Text, "<p>")
	for _, c := range []sanitizer.Category{
		sanitizer.RemovedMarkup, sanitizer.RemovedUUID, sanitizer.RemovedUserID,
		sanitizer.RemovedNumber, sanitizer.RemovedMention,
	} {
		assert.True(t, res.Has(c), "expected %s", c)
	}
}

func TestSanitize_CatalogLowercasesAndStrips(t *testing.T) {
	s := sanitizer.New(nil)

	out := s.Sanitize("Running Shoes - Size 10! Contact: help@example.com", sanitizer.ModeCatalog)

	assert.Equal(t, "running shoes size 10 contact", out)
}

func TestSanitize_Empty(t *testing.T) {
	s := sanitizer.New(nil)
	res := s.Clean("", sanitizer.ModeMessage)
	assert.Empty(t, res.Text)
	assert.Empty(t, res.Removed)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "run shoe", sanitizer.Normalize("Running Shoes!"))
	assert.Equal(t, []string{"laptop", "bag"}, sanitizer.Stems("  laptops,  BAGS "))
	assert.Empty(t, sanitizer.Normalize("!!! ---"))
}
