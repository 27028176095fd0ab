package ids

import (
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7_ValidFormat(t *testing.T) {
	id := UUIDv7{}.Generate()

	assert.Len(t, id, 36)
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7_SortableAndUnique(t *testing.T) {
	gen := UUIDv7{}
	const n = 1000

	ids := make([]string, n)
	seen := make(map[string]bool, n)
	for i := range ids {
		ids[i] = gen.Generate()
		require.False(t, seen[ids[i]], "id %s generated twice", ids[i])
		seen[ids[i]] = true
	}

	assert.True(t, sort.StringsAreSorted(ids), "ids minted in sequence sort in sequence")
}

func TestUUIDv7_Concurrent(t *testing.T) {
	gen := UUIDv7{}
	const goroutines = 100

	out := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- gen.Generate()
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[string]bool)
	for id := range out {
		require.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, goroutines)
}

func TestFixed_Sequential(t *testing.T) {
	gen := NewFixed("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Equal(t, 2, gen.Used())
	assert.PanicsWithValue(t, "ids.Fixed: all ids exhausted", func() { gen.Generate() })
}

func TestSequence_Unbounded(t *testing.T) {
	gen := NewSequence("tmp")
	assert.Equal(t, "tmp-1", gen.Generate())
	assert.Equal(t, "tmp-2", gen.Generate())
	assert.Equal(t, "tmp-3", gen.Generate())
}

func TestGenerator_Interface(t *testing.T) {
	var _ Generator = UUIDv7{}
	var _ Generator = (*Fixed)(nil)
}
