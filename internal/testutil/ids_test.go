package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs_Order(t *testing.T) {
	gen := NewSequentialIDs("scenario")

	assert.Equal(t, "scenario-1", gen.Generate())
	assert.Equal(t, "scenario-2", gen.Generate())
	assert.Equal(t, "scenario-3", gen.Generate())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "tx-1", NewSequentialIDs("").Generate())
}

func TestSequentialIDs_Unique(t *testing.T) {
	gen := NewSequentialIDs("")
	const n = 200

	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			id := gen.Generate()
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[id], "id %s generated twice", id)
			seen[id] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}
