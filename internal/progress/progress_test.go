package progress

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWireFormat(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Notification("Preparing..."), `{"type":"Notification","data":"Preparing..."}`},
		{QueuePosition(3), `{"type":"QueuePosition","data":3}`},
		{End("done"), `{"type":"End","data":"done"}`},
		{Fail("PlanFormatError", "bad"), `{"type":"Error","data":{"kind":"PlanFormatError","message":"bad"}}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.ev)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(b))
	}
}

func TestEventDecoders(t *testing.T) {
	n, ok := QueuePosition(2).Position()
	require.True(t, ok)
	assert.Equal(t, 2, n)

	_, ok = Notification("x").Position()
	assert.False(t, ok)

	f, ok := Fail("NoResultProduced", "nothing ran").Failure()
	require.True(t, ok)
	assert.Equal(t, "NoResultProduced", f.Kind)

	assert.Equal(t, "hello", Chunk("hello").Text())
	assert.True(t, End("x").Terminal())
	assert.False(t, Notification("x").Terminal())
}

func TestStreamDeliversInOrder(t *testing.T) {
	s := NewStream(0)
	go func() {
		ctx := context.Background()
		_ = s.Emit(ctx, Notification("a"))
		_ = s.Emit(ctx, Notification("b"))
		_ = s.Emit(ctx, End("c"))
		s.Close()
	}()
	var got []string
	for ev := range s.Events() {
		got = append(got, ev.Text())
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestStreamDetachUnblocksProducer(t *testing.T) {
	s := NewStream(0)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Emit(context.Background(), Notification("never read")) }()

	time.Sleep(10 * time.Millisecond)
	s.Detach()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDetached)
	case <-time.After(time.Second):
		t.Fatal("Emit stayed blocked after Detach")
	}
	assert.ErrorIs(t, s.Emit(context.Background(), Notification("late")), ErrDetached)
}

func TestStreamRespectsContext(t *testing.T) {
	s := NewStream(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Emit(ctx, Notification("x")), context.Canceled)
}

func TestFanoutJoinsErrors(t *testing.T) {
	var rec Recorder
	boom := errors.New("boom")
	f := Fanout{&rec, SinkFunc(func(context.Context, Event) error { return boom }), nil}
	err := f.Emit(context.Background(), Notification("x"))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.Events(), 1)
}

func TestNotifyUsesContextSink(t *testing.T) {
	Notify(context.Background(), "dropped")

	var rec Recorder
	ctx := WithSink(context.Background(), &rec)
	Notify(ctx, "Planning...")
	got := rec.OfType(TypeNotification)
	require.Len(t, got, 1)
	assert.Equal(t, "Planning...", got[0].Text())
}
