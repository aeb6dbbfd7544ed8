package reservation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyHasCartPrefix(t *testing.T) {
	a, b := NewKey(), NewKey()
	assert.True(t, strings.HasPrefix(a, KeyPrefix))
	assert.NotEqual(t, a, b)
}

func TestParseAdjustWithReserveContext(t *testing.T) {
	key := "CART|3f0c"
	ref := Adjust{Before: 10, After: 7, User: "42", Note: "hold", Context: Reserve{Key: key}}.String()
	assert.Equal(t, "ADJ|10|7|42|hold|RESV|CART|3f0c", ref)

	tag, ok := Parse(ref).(Adjust)
	require.True(t, ok)
	assert.Equal(t, 10, tag.Before)
	assert.Equal(t, 7, tag.After)
	assert.Equal(t, "42", tag.User)
	assert.Equal(t, "hold", tag.Note)

	got, ok := ReservationKey(tag)
	require.True(t, ok)
	assert.Equal(t, key, got)
}

func TestParseSale(t *testing.T) {
	ref := Sale{OrderID: 9, Consumed: 3, User: "7", Key: "CART|abc"}.String()
	assert.Equal(t, "SALE|9|3|7|CART|abc", ref)
	assert.Equal(t, Sale{OrderID: 9, Consumed: 3, User: "7", Key: "CART|abc"}, Parse(ref))
}

func TestParseTransfer(t *testing.T) {
	ref := Transfer{From: "branch 1", To: "section 2"}.String()
	assert.Equal(t, Transfer{From: "branch 1", To: "section 2"}, Parse(ref))
}

func TestFreeTextCannotBreakLayout(t *testing.T) {
	ref := Adjust{Before: 1, After: 2, User: "a|b", Note: "x|y"}.String()
	tag, ok := Parse(ref).(Adjust)
	require.True(t, ok)
	assert.Equal(t, "a/b", tag.User)
	assert.Equal(t, "x/y", tag.Note)
	assert.Nil(t, tag.Context)
}

func TestMalformedReferencesArePlain(t *testing.T) {
	for _, ref := range []string{
		"",
		"12345",
		"RESV|",
		"ADJ|x|1|u|n|",
		"ADJ|1|2",
		"SALE|abc|1|u|k",
		"XFER|only-one",
		"SOMETHING|else",
	} {
		_, ok := Parse(ref).(Plain)
		assert.True(t, ok, "expected Plain for %q", ref)
	}
}

func TestReservationKeyIgnoresOtherContexts(t *testing.T) {
	_, ok := ReservationKey(Adjust{Context: Plain{Value: "PO-1"}})
	assert.False(t, ok)
	_, ok = ReservationKey(Sale{Key: "CART|x"})
	assert.False(t, ok)
}
