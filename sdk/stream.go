package sdk

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"research/internals/schemas"
)

const streamBufferSize = 1024 * 1024

// Stream is the live event feed of one interaction. Events arrive in the
// order the service emitted them; the feed ends with a terminal event or,
// on transport failure, with ErrStreamDisconnected.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newStream(ctx context.Context, body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), streamBufferSize)
	return &Stream{ctx: ctx, body: body, scanner: scanner}
}

// Next blocks until the next event. A malformed frame, an early close or a
// transport error all surface as ErrStreamDisconnected; a cancelled context
// surfaces as the context's error.
func (s *Stream) Next() (schemas.StreamEvent, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event schemas.StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return schemas.StreamEvent{}, fmt.Errorf("%w: malformed frame: %v", ErrStreamDisconnected, err)
		}
		switch event.Kind {
		case schemas.EventThought, schemas.EventContentDelta:
			return event, nil
		case schemas.EventTerminal:
			event.Status = schemas.ParseRemoteStatus(string(event.Status))
			return event, nil
		default:
			// Unknown event kinds are forward-compatible noise.
			continue
		}
	}

	if err := s.ctx.Err(); err != nil {
		return schemas.StreamEvent{}, err
	}
	if err := s.scanner.Err(); err != nil {
		return schemas.StreamEvent{}, fmt.Errorf("%w: %v", ErrStreamDisconnected, err)
	}
	return schemas.StreamEvent{}, ErrStreamDisconnected
}

func (s *Stream) Close() error {
	return s.body.Close()
}
