package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDSequence_FormatsWithPrefix(t *testing.T) {
	seq := NewIDSequence("ver")

	assert.Equal(t, "ver-0001", seq.NewID())
	assert.Equal(t, "ver-0002", seq.NewID())
	assert.Equal(t, "ver-0003", seq.NewID())
}

func TestIDSequence_DefaultPrefix(t *testing.T) {
	seq := NewIDSequence("")
	assert.Equal(t, "id-0001", seq.NewID())
}

func TestIDSequence_Reset(t *testing.T) {
	seq := NewIDSequence("ver")
	seq.NewID()
	seq.NewID()
	seq.Reset()

	assert.Equal(t, "ver-0001", seq.NewID())
}

func TestIDSequence_ThreadSafe(t *testing.T) {
	seq := NewIDSequence("ver")
	const goroutines = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	ids := make(chan string, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			ids <- seq.NewID()
		}()
	}
	wg.Wait()
	close(ids)

	unique := make(map[string]bool)
	for id := range ids {
		assert.False(t, unique[id], "duplicate id %s", id)
		unique[id] = true
	}
	assert.Len(t, unique, goroutines)
}
