package bid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resale-repricer/internal/internaltypes"
)

func TestItem_Transitions(t *testing.T) {
	it := &Item{ID: "1", Brand: "ASICS", SKU: "1291A041", Size: "245", FloorPrice: 58900, Status: StatusPending}

	require.NoError(t, it.Begin())
	assert.Equal(t, StatusInProgress, it.Status)

	require.NoError(t, it.Interrupt())
	assert.Equal(t, StatusInterrupted, it.Status)
	assert.Equal(t, internaltypes.ReasonInterrupted, it.Reason)

	require.NoError(t, it.Begin())
	require.NoError(t, it.Succeed(57900, "JP 24.5"))
	assert.Equal(t, StatusSucceeded, it.Status)
	assert.Empty(t, it.Reason)
	assert.Equal(t, int64(57900), it.Price)
}

func TestItem_TerminalIsImmutable(t *testing.T) {
	it := &Item{ID: "1", Status: StatusPending}
	require.NoError(t, it.Fail(internaltypes.ReasonSoldOut))

	assert.ErrorIs(t, it.Begin(), internaltypes.ErrTerminal)
	assert.ErrorIs(t, it.Succeed(1, "x"), internaltypes.ErrTerminal)
	assert.ErrorIs(t, it.Fail("other"), internaltypes.ErrTerminal)
	assert.ErrorIs(t, it.Interrupt(), internaltypes.ErrTerminal)
	assert.Equal(t, StatusFailed, it.Status)
	assert.Equal(t, internaltypes.ReasonSoldOut, it.Reason)
}

func TestItem_Validate(t *testing.T) {
	ok := &Item{ID: "1", Brand: "ASICS", SKU: "1291A041", Size: "245", FloorPrice: 58900}
	assert.NoError(t, ok.Validate())

	tests := []struct {
		name string
		it   Item
		want string
	}{
		{"missing sku", Item{ID: "1", Brand: "A", Size: "1", FloorPrice: 1}, "SKU"},
		{"zero floor", Item{ID: "1", Brand: "A", SKU: "S", Size: "1"}, "FloorPrice"},
		{"missing size", Item{ID: "1", Brand: "A", SKU: "S", FloorPrice: 1}, "Size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.it.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestItem_LockKey(t *testing.T) {
	it := &Item{Brand: "ASICS", SKU: "1291A041", Size: "245"}
	assert.Equal(t, "ASICS|1291A041|245", it.LockKey())
}
