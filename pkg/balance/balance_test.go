package balance

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, initial, minimum, maximum int64, scale int) *Balance {
	t.Helper()
	b, err := New(big.NewInt(initial), big.NewInt(minimum), big.NewInt(maximum), scale)
	require.NoError(t, err)
	return b
}

func TestNewRejectsInvertedBounds(t *testing.T) {
	_, err := New(big.NewInt(0), big.NewInt(10), big.NewInt(-10), 0)
	assert.ErrorIs(t, err, ErrInvalidBounds)

	_, err = New(big.NewInt(50), big.NewInt(-10), big.NewInt(10), 0)
	assert.ErrorIs(t, err, ErrInvalidBounds)
}

func TestUpdateIsAllOrNothing(t *testing.T) {
	b := mustNew(t, 0, -100, 100, 0)

	require.NoError(t, b.Update(big.NewInt(60)))
	assert.ErrorIs(t, b.Update(big.NewInt(41)), ErrExceedsMaximum)
	assert.Equal(t, "60", b.Value().String())

	require.NoError(t, b.Update(big.NewInt(-160)))
	assert.ErrorIs(t, b.Update(big.NewInt(-1)), ErrBelowMinimum)
	assert.Equal(t, "-100", b.Value().String())
}

func TestHoldCommitAndRelease(t *testing.T) {
	b := mustNew(t, 0, -1000, 1000, 0)

	h, err := b.Hold(big.NewInt(-100))
	require.NoError(t, err)
	assert.Equal(t, "0", b.Value().String())
	h.Commit()
	h.Release()
	assert.Equal(t, "-100", b.Value().String())

	h, err = b.Hold(big.NewInt(500))
	require.NoError(t, err)
	h.Release()
	h.Commit()
	assert.Equal(t, "-100", b.Value().String())
}

func TestOutstandingHoldsReserveRoom(t *testing.T) {
	b := mustNew(t, 0, -100, 100, 0)

	first, err := b.Hold(big.NewInt(-70))
	require.NoError(t, err)
	_, err = b.Hold(big.NewInt(-40))
	assert.ErrorIs(t, err, ErrBelowMinimum)

	// Direct updates cannot eat into held room either.
	assert.ErrorIs(t, b.Update(big.NewInt(-40)), ErrBelowMinimum)

	first.Release()
	_, err = b.Hold(big.NewInt(-40))
	assert.NoError(t, err)
}

func TestConcurrentHoldsNeverCrossBounds(t *testing.T) {
	b := mustNew(t, 0, -1000, 1000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			diff := big.NewInt(-10)
			if i%2 == 0 {
				diff = big.NewInt(15)
			}
			h, err := b.Hold(diff)
			if err != nil {
				return
			}
			if i%3 == 0 {
				h.Release()
				return
			}
			h.Commit()
		}(i)
	}
	wg.Wait()

	v := b.Value()
	assert.True(t, v.Cmp(big.NewInt(-1000)) >= 0, "value %s below minimum", v)
	assert.True(t, v.Cmp(big.NewInt(1000)) <= 0, "value %s above maximum", v)
}

func TestRescale(t *testing.T) {
	got, ok := Rescale(big.NewInt(5), 0, 2)
	require.True(t, ok)
	assert.Equal(t, "500", got.String())

	_, ok = Rescale(big.NewInt(5), 2, 0)
	assert.False(t, ok)
}

func TestBookUpdateScaled(t *testing.T) {
	book := NewBook()
	book.Add("alice", mustNew(t, 0, -1000, 1000, 0))

	applied, err := book.UpdateScaled("alice", big.NewInt(5), 2)
	require.NoError(t, err)
	assert.False(t, applied)
	b, err := book.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "0", b.Value().String())

	applied, err = book.UpdateScaled("alice", big.NewInt(7), 0)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "7", book.Summaries()["alice"].Value)

	_, err = book.UpdateScaled("bob", big.NewInt(1), 0)
	assert.ErrorIs(t, err, ErrPeerNotFound)

	book.Remove("alice")
	_, err = book.Get("alice")
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestReduceTo(t *testing.T) {
	b := mustNew(t, 0, -1000, 1000, 0)

	_, ok := b.ReduceTo(big.NewInt(100), big.NewInt(10))
	assert.False(t, ok)

	require.NoError(t, b.Update(big.NewInt(150)))
	amount, ok := b.ReduceTo(big.NewInt(100), big.NewInt(10))
	require.True(t, ok)
	assert.Equal(t, "140", amount.String())
	assert.Equal(t, "10", b.Value().String())

	// target below minimum is refused
	require.NoError(t, b.Update(big.NewInt(200)))
	_, ok = b.ReduceTo(big.NewInt(100), big.NewInt(-2000))
	assert.False(t, ok)
	assert.Equal(t, "210", b.Value().String())
}
