package httpclient

import (
	"io"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// spanBody wraps a response body so that the exchange span covers body
// consumption. It counts the bytes read, records read errors on the span
// and ends the span on EOF or Close, whichever comes first.
type spanBody struct {
	span    trace.Span
	body    io.ReadCloser
	started time.Time

	read  atomic.Int64
	ended atomic.Bool

	// onEnd receives the bytes read and the time since the headers arrived.
	onEnd func(bytesRead int64, transfer time.Duration)
}

func newSpanBody(span trace.Span, body io.ReadCloser, onEnd func(int64, time.Duration)) io.ReadCloser {
	if body == nil {
		span.End()
		return nil
	}
	return &spanBody{
		span:    span,
		body:    body,
		started: time.Now(),
		onEnd:   onEnd,
	}
}

func (b *spanBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	b.read.Add(int64(n))

	switch err {
	case nil:
	case io.EOF:
		b.end()
	default:
		b.span.RecordError(err)
		b.span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

// Close closes the underlying body first, so the span also covers the
// connector release.
func (b *spanBody) Close() error {
	err := b.body.Close()
	b.end()
	return err
}

func (b *spanBody) end() {
	if !b.ended.CompareAndSwap(false, true) {
		return
	}
	n := b.read.Load()
	if b.onEnd != nil {
		b.onEnd(n, time.Since(b.started))
	}
	b.span.SetAttributes(attribute.Int64("http.response.body.read", n))
	b.span.End()
}
