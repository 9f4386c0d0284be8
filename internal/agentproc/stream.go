package agentproc

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/adjutant/schema"
)

const stderrTailLines = 8

// procStream reads the agent CLI's stdout as JSONL events and its
// stderr as diagnostic lines. Malformed stdout lines are logged and
// skipped. The events channel closes once both pipes are drained.
type procStream struct {
	events chan schema.AgentEvent
	wg     sync.WaitGroup
	log    pslog.Logger

	mu      sync.Mutex
	err     error
	tail    []string
	skipped int
}

func newProcStream(stdout, stderr io.Reader, log pslog.Logger) *procStream {
	stream := &procStream{
		events: make(chan schema.AgentEvent, 256),
		log:    log,
	}
	stream.wg.Add(2)
	go stream.readEvents(stdout)
	go stream.readStderr(stderr)
	go func() {
		stream.wg.Wait()
		close(stream.events)
	}()
	return stream
}

func (s *procStream) readEvents(reader io.Reader) {
	defer s.wg.Done()
	buffered := bufio.NewReader(reader)
	for {
		line, err := buffered.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			event, decodeErr := decodeEvent(line)
			if decodeErr != nil {
				s.mu.Lock()
				s.skipped++
				s.mu.Unlock()
				if s.log != nil {
					s.log.Warn("agent event decode failed", "preview", previewText(string(line), 200), "err", decodeErr)
				}
			} else {
				s.events <- event
			}
		}
		if err != nil {
			if err != io.EOF {
				if s.log != nil {
					s.log.Warn("agent stdout read failed", "err", err)
				}
				s.setErr(err)
			}
			return
		}
	}
}

func (s *procStream) readStderr(reader io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if s.log != nil {
			s.log.Trace("agent stderr", "text_len", len(text), "preview", previewText(text, 200))
		}
		s.mu.Lock()
		s.tail = append(s.tail, text)
		if len(s.tail) > stderrTailLines {
			s.tail = s.tail[len(s.tail)-stderrTailLines:]
		}
		s.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		if s.log != nil {
			s.log.Warn("agent stderr read failed", "err", err)
		}
		s.setErr(err)
	}
}

func (s *procStream) setErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first pipe read failure, if any. Valid after the
// events channel closes.
func (s *procStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StderrTail returns the last few stderr lines for failure reporting.
func (s *procStream) StderrTail() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tail...)
}

func previewText(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}
