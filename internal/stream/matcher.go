// Package stream buffers one output stream of a child process and resolves
// pattern-match requests against it with timeout-bounded blocking waits.
package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/marcohefti/blackbox-lab/internal/failure"
)

// Matcher accumulates stream data and serves Match requests. At most one
// request may be outstanding at a time; a second concurrent Match is a
// programming error and panics.
//
// Matcher is an io.Writer so it can sit directly behind a pipe pump.
type Matcher struct {
	name string

	mu      sync.Mutex
	buf     []byte
	total   strings.Builder
	ended   bool
	pending *request
}

type outcome struct {
	text string
	err  error
}

type request struct {
	pat    Pattern
	strict bool
	done   chan outcome
}

func NewMatcher(name string) *Matcher {
	return &Matcher{name: name}
}

func (m *Matcher) Name() string { return m.name }

// Write appends chunk to the buffer and the total capture, then attempts to
// resolve a pending request. It always reports success so pipes keep draining.
func (m *Matcher) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, p...)
	m.total.Write(p)
	m.resolvePendingLocked()
	return len(p), nil
}

// End marks the stream finished. A pending request fails with no-match,
// carrying the full captured output. End is idempotent.
func (m *Matcher) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	if req := m.pending; req != nil {
		m.pending = nil
		req.done <- outcome{err: m.noMatchLocked(req.pat)}
	}
}

// Match blocks until the earliest occurrence of pat appears in the buffer,
// the stream ends, or timeout elapses. On success the buffer is consumed
// through the end of the match and the matched text is returned. With strict
// set, an occurrence not anchored at the current consumption point fails with
// junk-before.
func (m *Matcher) Match(pat Pattern, timeout time.Duration, strict bool) (string, error) {
	m.mu.Lock()
	if m.pending != nil {
		m.mu.Unlock()
		panic("stream: concurrent match request on " + m.name)
	}
	if out, ok := m.tryMatchLocked(pat, strict); ok {
		m.mu.Unlock()
		return out.text, out.err
	}
	if m.ended {
		err := m.noMatchLocked(pat)
		m.mu.Unlock()
		return "", err
	}
	req := &request{pat: pat, strict: strict, done: make(chan outcome, 1)}
	m.pending = req
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	select {
	case out := <-req.done:
		timer.Stop()
		return out.text, out.err
	case <-timer.C:
		m.mu.Lock()
		if m.pending == req {
			m.pending = nil
			err := failure.New(failure.MatchTimeout, map[string]string{
				"stream":  m.name,
				"pattern": pat.String(),
				"timeout": timeout.String(),
			})
			m.mu.Unlock()
			return "", err
		}
		m.mu.Unlock()
		// Resolved concurrently with the timer firing; the result stands.
		out := <-req.done
		return out.text, out.err
	}
}

// MatchEmpty fails with junk-at-end when unconsumed data remains. It assumes
// no request is pending.
func (m *Matcher) MatchEmpty() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buf) == 0 {
		return nil
	}
	return failure.New(failure.JunkAtEnd, map[string]string{
		"stream": m.name,
		"junk":   string(m.buf),
	})
}

// TotalOutput returns everything ever written to the matcher.
func (m *Matcher) TotalOutput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total.String()
}

func (m *Matcher) resolvePendingLocked() {
	req := m.pending
	if req == nil {
		return
	}
	if out, ok := m.tryMatchLocked(req.pat, req.strict); ok {
		m.pending = nil
		req.done <- out
	}
}

// tryMatchLocked resolves a request against the current buffer. A found
// occurrence resolves either way: success consumes the matched prefix,
// a strict mismatch fails with junk-before. An absent pattern leaves the
// request unresolved.
func (m *Matcher) tryMatchLocked(pat Pattern, strict bool) (outcome, bool) {
	start, end, ok := pat.find(string(m.buf))
	if !ok {
		return outcome{}, false
	}
	if strict && start > 0 {
		return outcome{err: failure.New(failure.JunkBefore, map[string]string{
			"stream":  m.name,
			"pattern": pat.String(),
			"junk":    string(m.buf[:start]),
		})}, true
	}
	text := string(m.buf[start:end])
	m.buf = m.buf[end:]
	return outcome{text: text}, true
}

func (m *Matcher) noMatchLocked(pat Pattern) error {
	return failure.New(failure.NoMatch, map[string]string{
		"stream":  m.name,
		"pattern": pat.String(),
		"output":  m.total.String(),
	})
}
