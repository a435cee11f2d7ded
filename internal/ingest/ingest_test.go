package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"faceguard/internal/model"
)

func TestDecodeFrame(t *testing.T) {
	pix := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	msg := `{"session_id":"s-1","seq":3,"faces":[{"landmarks":[{"x":1,"y":2}],"box":{"x":0,"y":0,"w":10,"h":10},"confidence":0.9}],` +
		`"image":{"width":2,"height":2,"pix":"` + pix + `"}}`
	in, err := DecodeFrame([]byte(msg))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.SessionID != "s-1" || in.Seq != 3 || len(in.Faces) != 1 || in.Faces[0].Landmarks[0].Y != 2 {
		t.Fatalf("unexpected frame %+v", in)
	}
	if in.Image == nil || in.Image.At(1, 1) != 4 {
		t.Fatalf("image not decoded: %+v", in.Image)
	}
}

func TestDecodeFrameRejects(t *testing.T) {
	for _, msg := range []string{
		`not json`,
		`{"seq":1}`,
		`{"session_id":"s","image":{"width":4,"height":4,"pix":"AQID"}}`,
		`{"session_id":"s","image":{"width":4294967296,"height":4294967296,"pix":"AQID"}}`,
		`{"session_id":"s","image":{"width":65536,"height":1,"pix":"AQID"}}`,
	} {
		if _, err := DecodeFrame([]byte(msg)); !errors.Is(err, ErrInvalidFrame) {
			t.Fatalf("expected invalid frame for %s, got %v", msg, err)
		}
	}
}

type scriptedReader struct {
	msgs   [][]byte
	cancel context.CancelFunc
	closed bool
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return kafka.Message{Value: m}, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

type collectSubmitter struct {
	mu  sync.Mutex
	got []model.FrameInput
}

func (c *collectSubmitter) Submit(_ context.Context, in model.FrameInput, done func(model.FrameResult, error)) error {
	c.mu.Lock()
	c.got = append(c.got, in)
	c.mu.Unlock()
	if done != nil {
		done(model.FrameResult{SessionID: in.SessionID}, nil)
	}
	return nil
}

func TestKafkaSourceSkipsBadMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &scriptedReader{
		msgs: [][]byte{
			[]byte(`{"session_id":"s-1","seq":1}`),
			[]byte(`garbage`),
			[]byte(`{"session_id":"s-1","seq":2}`),
		},
		cancel: cancel,
	}
	sub := &collectSubmitter{}
	src := NewKafkaSourceWithReader(func() MessageReader { return reader }, sub, nil)
	if err := src.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(sub.got) != 2 || sub.got[1].Seq != 2 {
		t.Fatalf("expected two frames submitted, got %+v", sub.got)
	}
	if !reader.closed {
		t.Fatalf("reader must be closed on exit")
	}
}
