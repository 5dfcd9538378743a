package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLiveRequestQueue_ContentThenCloseInOrder(t *testing.T) {
	q := NewLiveRequestQueue()
	x := NewTextContent(RoleUser, "X")

	q.SendContent(x)
	q.Close()

	ctx := context.Background()

	first, err := q.Get(ctx)
	if err != nil || first.Content != x || first.Close {
		t.Fatalf("first get = %+v, %v", first, err)
	}

	second, err := q.Get(ctx)
	if err != nil || !second.Close {
		t.Fatalf("second get = %+v, %v", second, err)
	}
}

func TestLiveRequestQueue_GetWaitsForSend(t *testing.T) {
	q := NewLiveRequestQueue()

	got := make(chan LiveRequest, 1)
	go func() {
		r, _ := q.Get(context.Background())
		got <- r
	}()

	time.Sleep(10 * time.Millisecond)
	q.SendRealtime(Blob{MIMEType: "audio/pcm", Data: []byte{1}})

	select {
	case r := <-got:
		if r.Blob == nil || r.Blob.MIMEType != "audio/pcm" {
			t.Fatalf("unexpected request %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not wake up")
	}
}

func TestLiveRequestQueue_GetHonoursContext(t *testing.T) {
	q := NewLiveRequestQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestLiveRequestQueue_ManySendsPreserveFIFO(t *testing.T) {
	q := NewLiveRequestQueue()
	for i := range 100 {
		q.Send(LiveRequest{Content: &Content{Role: RoleUser, Parts: []Part{DataPart{Data: map[string]any{"i": i}}}}})
	}

	for i := range 100 {
		r, err := q.Get(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		if got := r.Content.Parts[0].(DataPart).Data["i"]; got != i {
			t.Fatalf("position %d got %v", i, got)
		}
	}

	if q.Len() != 0 {
		t.Error("queue should be drained")
	}
}
