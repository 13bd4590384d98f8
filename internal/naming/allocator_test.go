package naming_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/localnerve/doctypesdb/internal/naming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	tables map[string]bool
	owned  map[string]bool
}

func (f *fakeRegistry) TableExists(name string) (bool, error)     { return f.tables[name], nil }
func (f *fakeRegistry) TableNameInUse(name string) (bool, error) { return f.owned[name], nil }

func newRegistry() *fakeRegistry {
	return &fakeRegistry{tables: map[string]bool{}, owned: map[string]bool{}}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "invoice", naming.Slug("Invoice"))
	assert.Equal(t, "purchase_orders_2024", naming.Slug("  Purchase Orders -- 2024!"))
	assert.Equal(t, "a_b", naming.Slug("a__b"))
	assert.Equal(t, "", naming.Slug("日本"))
}

func TestAllocateDeterministic(t *testing.T) {
	a := naming.NewAllocator("dt_", 64)
	reg := newRegistry()

	first, err := a.Allocate("Invoice", reg)
	require.NoError(t, err)
	assert.Equal(t, "dt_invoice", first)

	again, err := a.Allocate("Invoice", reg)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestAllocateCollisions(t *testing.T) {
	a := naming.NewAllocator("dt_", 64)
	reg := newRegistry()
	reg.tables["dt_invoice"] = true
	reg.tables[naming.Parked("dt_invoice_2")] = true
	reg.owned["dt_invoice_3"] = true

	name, err := a.Allocate("invoice", reg)
	require.NoError(t, err)
	assert.Equal(t, "dt_invoice_4", name)
}

func TestAllocateExhausted(t *testing.T) {
	a := naming.NewAllocator("dt_", 64)
	reg := newRegistry()
	reg.tables["dt_x"] = true
	for n := 2; n <= naming.MaxCollisions; n++ {
		reg.owned["dt_x_"+strconv.Itoa(n)] = true
	}
	_, err := a.Allocate("x", reg)
	assert.Error(t, err)
}

func TestAllocateReservedSystemTable(t *testing.T) {
	a := naming.NewAllocator("document_", 64)
	name, err := a.Allocate("Types", newRegistry())
	require.NoError(t, err)
	assert.Equal(t, "document_types_2", name)

	a = naming.NewAllocator("f", 64)
	name, err = a.Allocate("iles", newRegistry())
	require.NoError(t, err)
	assert.Equal(t, "files_2", name)
}

func TestAllocateTruncates(t *testing.T) {
	a := naming.NewAllocator("dt_", 63)
	long := strings.Repeat("very long name ", 10)
	name, err := a.Allocate(long, newRegistry())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(naming.Parked(name)), 63)
	assert.True(t, strings.HasPrefix(name, "dt_very_long"))

	other, err := a.Allocate(long+"x", newRegistry())
	require.NoError(t, err)
	assert.NotEqual(t, name, other)

	reg := newRegistry()
	reg.tables[name] = true
	second, err := a.Allocate(long, reg)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(second, "_2"))
	assert.LessOrEqual(t, len(naming.Parked(second)), 63)
}

func TestParkedRoundTrip(t *testing.T) {
	parked := naming.Parked("dt_invoice")
	assert.Equal(t, "dt_invoice__trashed", parked)
	assert.True(t, naming.IsParked(parked))
	active, ok := naming.Unpark(parked)
	assert.True(t, ok)
	assert.Equal(t, "dt_invoice", active)

	_, ok = naming.Unpark("dt_invoice")
	assert.False(t, ok)

	a := naming.NewAllocator("", 64)
	assert.True(t, a.IsManaged(parked))
	assert.False(t, a.IsManaged("document_types"))
}

