package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"chainlist-backend/model"

	"go.uber.org/zap"
)

const streamBuffer = 64

// ErrStreamEnded means the server closed the event stream without saying why.
var ErrStreamEnded = errors.New("event stream ended")

// Stream is a live event subscription read from the server's SSE endpoint.
type Stream struct {
	ch     chan model.Event
	cancel context.CancelFunc
	closed atomic.Bool
	logger *zap.Logger

	mu  sync.Mutex
	err error
}

func (s *Stream) Events() <-chan model.Event {
	return s.ch
}

// Err explains why Events was closed. It is nil after Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() {
	s.closed.Store(true)
	s.cancel()
}

// Subscribe opens the event stream. When it returns without error the
// server has registered the subscription, so every commit from then on
// will be delivered.
func (c *Client) Subscribe(ctx context.Context) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		defer cancel()
		return nil, decodeError(resp)
	}

	s := &Stream{
		ch:     make(chan model.Event, streamBuffer),
		cancel: cancel,
		logger: c.logger,
	}
	go s.read(ctx, resp.Body)
	return s, nil
}

type frame struct {
	event string
	data  strings.Builder
}

func (s *Stream) read(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	err := s.consume(ctx, body)
	switch {
	case s.closed.Load():
		err = nil
	case ctx.Err() != nil:
		err = ctx.Err()
	case err == nil:
		err = ErrStreamEnded
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// consume parses SSE frames until the body ends, the server reports an
// error frame or ctx is done. It returns nil on a clean end of body.
func (s *Stream) consume(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var f frame
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if f.event == "" && f.data.Len() == 0 {
				continue
			}
			if err := s.dispatch(ctx, &f); err != nil {
				return err
			}
			f = frame{}
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				f.event = value
			case "data":
				if f.data.Len() > 0 {
					f.data.WriteByte('\n')
				}
				f.data.WriteString(value)
			}
		}
	}
	return scanner.Err()
}

func (s *Stream) dispatch(ctx context.Context, f *frame) error {
	if f.event == "error" {
		var body errorBody
		if err := json.Unmarshal([]byte(f.data.String()), &body); err != nil {
			return fmt.Errorf("%w: malformed error frame", ErrStreamEnded)
		}
		return &APIError{Status: http.StatusServiceUnavailable, Code: body.Code, Message: body.Error}
	}

	// Events are never skipped: an undecodable frame ends the stream.
	var e model.Event
	if err := json.Unmarshal([]byte(f.data.String()), &e); err != nil {
		s.logger.Warn("malformed event frame", zap.String("event", f.event), zap.Error(err))
		return fmt.Errorf("%w: malformed %s frame: %v", ErrStreamEnded, f.event, err)
	}

	select {
	case s.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
