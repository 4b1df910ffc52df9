package middleware

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedTable_UpdateCreate(t *testing.T) {
	table := newKeyedTable[int]()

	ran := table.update("a", false, func(v *int) bool { return false })
	assert.False(t, ran, "missing key without create")
	assert.Equal(t, 0, table.len())

	ran = table.update("a", true, func(v *int) bool {
		*v = 7
		return false
	})
	assert.True(t, ran)
	assert.Equal(t, 1, table.len())

	var got int
	table.update("a", false, func(v *int) bool {
		got = *v
		return true
	})
	assert.Equal(t, 7, got)
	assert.Equal(t, 0, table.len())
}

func TestKeyedTable_Sweep(t *testing.T) {
	table := newKeyedTable[int]()
	for i, key := range []string{"a", "b", "c", "d"} {
		i := i
		table.update(key, true, func(v *int) bool {
			*v = i
			return false
		})
	}

	removed := table.sweep(func(v *int) bool { return *v%2 == 0 })

	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, table.len())
	assert.False(t, table.update("a", false, func(*int) bool { return false }))
	assert.True(t, table.update("b", false, func(*int) bool { return false }))
}

func TestKeyedTable_ConcurrentUpdateAndSweep(t *testing.T) {
	table := newKeyedTable[int]()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				table.update("shared", true, func(v *int) bool {
					*v++
					return false
				})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				table.sweep(func(v *int) bool { return *v > 50 })
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, table.len(), 1)
}
