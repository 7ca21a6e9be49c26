package testutil

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		called := false
		Eventually(t, func() bool {
			called = true
			return true
		}, 100*time.Millisecond, 10*time.Millisecond)

		if !called {
			t.Error("condition function should be called")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		var counter int32
		go func() {
			time.Sleep(30 * time.Millisecond)
			atomic.StoreInt32(&counter, 1)
		}()

		Eventually(t, func() bool {
			return atomic.LoadInt32(&counter) == 1
		}, time.Second, 5*time.Millisecond)
	})
}

func TestWaitForInt32(t *testing.T) {
	var value int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&value, 42)
	}()

	WaitForInt32(t, &value, 42, time.Second)
}

func TestWaitForInt64(t *testing.T) {
	var value int64
	go func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt64(&value, 100)
	}()

	WaitForInt64(t, &value, 100, time.Second)
}

func TestWaitClosed(t *testing.T) {
	ch := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(ch)
	}()
	WaitClosed(t, ch)
}

func TestRecorder(t *testing.T) {
	var rec Recorder[int]
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			rec.Record(v)
		}(i)
	}
	wg.Wait()

	AssertEqual(t, rec.Len(), 10)
	AssertEqual(t, len(rec.Values()), 10)
}

func TestMockWriter(t *testing.T) {
	w := NewMockWriter()
	_, err := w.Write([]byte("{\"a\":1}\n{\"b\":"))
	AssertNoError(t, err)
	_, err = w.Write([]byte("2}\n"))
	AssertNoError(t, err)

	lines := w.Lines()
	AssertEqual(t, len(lines), 2)
	AssertEqual(t, strings.TrimSpace(lines[1]), `{"b":2}`)

	w.SetErrorOnNth(3)
	_, err = w.Write([]byte("x\n"))
	AssertError(t, err)
	AssertEqual(t, w.WriteCount(), 3)
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(time.Second)
	AssertEqual(t, clock.Now(), start.Add(time.Second))
}
