package go_func_utils

import (
	"bytes"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeGoGroup_WaitsForAll(t *testing.T) {
	logger := log.New(&bytes.Buffer{}, "", 0)
	var wg sync.WaitGroup
	var count atomic.Int32

	for i := 0; i < 10; i++ {
		SafeGoGroup(logger, &wg, func() {
			time.Sleep(5 * time.Millisecond)
			count.Add(1)
		})
	}
	wg.Wait()

	assert.Equal(t, int32(10), count.Load())
}

func TestSafeGo_Runs(t *testing.T) {
	logger := log.New(&bytes.Buffer{}, "", 0)
	done := make(chan struct{})
	SafeGo(logger, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
