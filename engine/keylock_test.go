package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	const writers = 32
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("acme.+5511999.flow")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, writers, counter)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Lock("a")
	unlockB := km.Lock("b")

	km.mu.Lock()
	assert.Len(t, km.locks, 2)
	km.mu.Unlock()

	unlockA()
	unlockB()

	km.mu.Lock()
	assert.Empty(t, km.locks, "entries must not accumulate per key")
	km.mu.Unlock()
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Lock("a")
	defer unlockA()

	// A different key must not block behind "a".
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
}
