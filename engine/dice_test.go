package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomRollerStaysInRange(t *testing.T) {
	r := NewSeededRoller(42)
	for i := 0; i < 1000; i++ {
		d1, d2 := r.Roll()
		assert.True(t, d1 >= 1 && d1 <= 6)
		assert.True(t, d2 >= 1 && d2 <= 6)
	}
}

func TestFixedRollerReplaysScript(t *testing.T) {
	r := NewFixedRoller([2]int{3, 3}, [2]int{2, 5})

	d1, d2 := r.Roll()
	assert.Equal(t, [2]int{3, 3}, [2]int{d1, d2})
	d1, d2 = r.Roll()
	assert.Equal(t, [2]int{2, 5}, [2]int{d1, d2})
	// script exhausted: last pair repeats
	d1, d2 = r.Roll()
	assert.Equal(t, [2]int{2, 5}, [2]int{d1, d2})

	r.Push([2]int{1, 4})
	d1, d2 = r.Roll()
	assert.Equal(t, [2]int{1, 4}, [2]int{d1, d2})
}
