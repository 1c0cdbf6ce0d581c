package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type started struct{ name string }
type finished struct{ name string }

func TestOnAndEmit(t *testing.T) {
	b := New()
	var got []string
	offA := On(b, func(_ context.Context, e started) { got = append(got, "a:"+e.name) })
	On(b, func(_ context.Context, e started) { got = append(got, "b:"+e.name) })
	On(b, func(_ context.Context, e finished) { got = append(got, "finished:"+e.name) })

	Emit(context.Background(), b, started{"x"})
	require.Equal(t, []string{"a:x", "b:x"}, got)
	require.Equal(t, 2, Len[started](b))

	offA()
	offA()
	Emit(context.Background(), b, started{"y"})
	Emit(context.Background(), b, finished{"y"})
	require.Equal(t, []string{"a:x", "b:x", "b:y", "finished:y"}, got)
	require.Equal(t, 1, Len[started](b))
}

func TestUnsubscribeFromHandler(t *testing.T) {
	b := New()
	calls := 0
	var off func()
	off = On(b, func(context.Context, started) {
		calls++
		off()
	})
	Emit(context.Background(), b, started{})
	Emit(context.Background(), b, started{})
	require.Equal(t, 1, calls)
	require.Zero(t, Len[started](b))
}

func TestNilBus(t *testing.T) {
	var b *Bus
	off := On(b, func(context.Context, started) { t.Fatal("unexpected event") })
	off()
	Emit(context.Background(), b, started{})
	require.Zero(t, Len[started](b))
}

func TestGlobal(t *testing.T) {
	Use(nil)
	require.Nil(t, Global())
	Publish(context.Background(), started{})

	b := New()
	Use(b)
	t.Cleanup(func() { Use(nil) })
	var got string
	off := Subscribe(func(_ context.Context, e started) { got = e.name })
	Publish(context.Background(), started{"global"})
	require.Equal(t, "global", got)
	off()
	require.Zero(t, Len[started](Global()))
}

func TestConcurrentPublish(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := New()
	var mu sync.Mutex
	count := 0
	On(b, func(context.Context, started) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Emit(context.Background(), b, started{})
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 800, count)
}
