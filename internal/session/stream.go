package session

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Stream is a Channel for server-sent events, used by clients that cannot
// hold a websocket. The HTTP handler drains Messages and writes them with
// WriteEvent.
type Stream struct {
	send chan Message
	done chan struct{}
	once sync.Once
}

func NewStream() *Stream {
	return &Stream{
		send: make(chan Message, sendBuffer),
		done: make(chan struct{}),
	}
}

func (s *Stream) Send(msg Message) error {
	select {
	case <-s.done:
		return ErrChannelClosed
	default:
	}

	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrChannelClosed
	default:
		return ErrBufferFull
	}
}

func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *Stream) Messages() <-chan Message {
	return s.send
}

func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// WriteEvent writes msg as one SSE frame named after its event.
func WriteEvent(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
	return err
}
