package stream

import (
	"bufio"
	"context"
	"io"
)

const maxLineSize = 1024 * 1024 // 1 MB

// Parse reads NDJSON lines from r and sends classified events on the
// returned channel. The channel is closed when the reader reaches EOF or
// the context is cancelled. Parse keeps reading past terminal events so the
// producing process never blocks on a full stdout pipe; stopping at the
// first terminal event is the consumer's decision.
func Parse(ctx context.Context, r io.Reader) <-chan RawEvent {
	ch := make(chan RawEvent, 64)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, maxLineSize), maxLineSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			raw := make([]byte, len(line))
			copy(raw, line)

			ev, err := Classify(raw)
			out := RawEvent{Raw: raw, Event: ev, Err: err}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- RawEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}
