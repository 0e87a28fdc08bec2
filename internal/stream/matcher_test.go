package stream

import (
	"strings"
	"testing"
	"time"

	"github.com/marcohefti/blackbox-lab/internal/failure"
)

func mustSignal(t *testing.T, err error, reason failure.Reason) *failure.Signal {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s failure, got nil", reason)
	}
	sig, ok := failure.Of(err)
	if !ok {
		t.Fatalf("expected failure signal, got %v", err)
	}
	if sig.Reason != reason {
		t.Fatalf("expected reason %s, got %s (%v)", reason, sig.Reason, err)
	}
	return sig
}

func TestMatch_ConsumesExactPrefix(t *testing.T) {
	m := NewMatcher("stdout")
	if _, err := m.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := m.Match(Text("hello"), time.Second, true)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected match text: %q", got)
	}

	// The remainder is preserved verbatim for the next call.
	got, err = m.Match(Text(" world"), time.Second, true)
	if err != nil {
		t.Fatalf("Match remainder: %v", err)
	}
	if got != " world" {
		t.Fatalf("unexpected remainder match: %q", got)
	}
	if err := m.MatchEmpty(); err != nil {
		t.Fatalf("MatchEmpty after full consume: %v", err)
	}
}

func TestMatch_StrictRejectsJunkBefore(t *testing.T) {
	m := NewMatcher("stdout")
	_, _ = m.Write([]byte("junk target"))

	sig := mustSignal(t, errOf(m.Match(Text("target"), time.Second, true)), failure.JunkBefore)
	if sig.Detail("junk") != "junk " {
		t.Fatalf("unexpected junk detail: %q", sig.Detail("junk"))
	}
}

func TestMatch_NonStrictConsumesThroughMatchEnd(t *testing.T) {
	m := NewMatcher("stdout")
	_, _ = m.Write([]byte("junk target tail"))

	got, err := m.Match(Text("target"), time.Second, false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got != "target" {
		t.Fatalf("unexpected match text: %q", got)
	}
	// junk before the match is consumed along with it.
	got, err = m.Match(Text(" tail"), time.Second, true)
	if err != nil {
		t.Fatalf("Match tail: %v", err)
	}
	if got != " tail" {
		t.Fatalf("unexpected tail: %q", got)
	}
}

func TestMatch_RegexpEarliestOccurrence(t *testing.T) {
	m := NewMatcher("stdout")
	_, _ = m.Write([]byte("x=1 y=22 z=333"))

	got, err := m.Match(Regexp(`\w=\d+`), time.Second, false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got != "x=1" {
		t.Fatalf("expected earliest occurrence, got %q", got)
	}
}

func TestMatch_ResolvedByLaterWrite(t *testing.T) {
	m := NewMatcher("stdout")
	_, _ = m.Write([]byte("par"))

	done := make(chan string, 1)
	go func() {
		got, err := m.Match(Text("partial"), 2*time.Second, true)
		if err != nil {
			done <- "err: " + err.Error()
			return
		}
		done <- got
	}()

	time.Sleep(50 * time.Millisecond)
	_, _ = m.Write([]byte("tial trailing"))

	select {
	case got := <-done:
		if got != "partial" {
			t.Fatalf("unexpected resolution: %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("match never resolved")
	}
}

func TestMatch_TimeoutClearsPendingRequest(t *testing.T) {
	m := NewMatcher("stdout")

	start := time.Now()
	mustSignal(t, errOf(m.Match(Text("never"), 30*time.Millisecond, false)), failure.MatchTimeout)
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took too long")
	}

	// The request is gone: a new match works and data can still resolve it.
	_, _ = m.Write([]byte("now here"))
	if _, err := m.Match(Text("here"), time.Second, false); err != nil {
		t.Fatalf("Match after timeout: %v", err)
	}
}

func TestMatch_SecondConcurrentRequestPanics(t *testing.T) {
	m := NewMatcher("stdout")

	go func() {
		_, _ = m.Match(Text("never"), time.Second, false)
	}()
	time.Sleep(50 * time.Millisecond)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on second concurrent match")
		}
	}()
	_, _ = m.Match(Text("also never"), time.Second, false)
}

func TestEnd_FailsPendingWithFullOutput(t *testing.T) {
	m := NewMatcher("stderr")
	_, _ = m.Write([]byte("line one\nline two\n"))

	done := make(chan error, 1)
	go func() {
		_, err := m.Match(Text("absent"), 2*time.Second, false)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	m.End()

	sig := mustSignal(t, <-done, failure.NoMatch)
	if sig.Detail("output") != "line one\nline two\n" {
		t.Fatalf("expected full captured output, got %q", sig.Detail("output"))
	}
	if sig.Detail("stream") != "stderr" {
		t.Fatalf("expected stream detail, got %q", sig.Detail("stream"))
	}
}

func TestMatch_AfterEndFailsWithoutBlocking(t *testing.T) {
	m := NewMatcher("stdout")
	_, _ = m.Write([]byte("leftover"))
	m.End()

	start := time.Now()
	mustSignal(t, errOf(m.Match(Text("absent"), 5*time.Second, false)), failure.NoMatch)
	if time.Since(start) > time.Second {
		t.Fatalf("match after end should not block")
	}

	// Data already buffered still matches after End.
	if _, err := m.Match(Text("left"), time.Second, false); err != nil {
		t.Fatalf("Match buffered after end: %v", err)
	}
}

func TestMatchEmpty(t *testing.T) {
	m := NewMatcher("stdout")
	if err := m.MatchEmpty(); err != nil {
		t.Fatalf("MatchEmpty on empty buffer: %v", err)
	}
	m.End()
	if err := m.MatchEmpty(); err != nil {
		t.Fatalf("MatchEmpty after end with empty buffer: %v", err)
	}

	m2 := NewMatcher("stdout")
	_, _ = m2.Write([]byte("junk"))
	sig := mustSignal(t, m2.MatchEmpty(), failure.JunkAtEnd)
	if sig.Detail("junk") != "junk" {
		t.Fatalf("unexpected junk detail: %q", sig.Detail("junk"))
	}
}

func TestTotalOutput_GrowsAcrossConsumption(t *testing.T) {
	m := NewMatcher("stdout")
	_, _ = m.Write([]byte("abc"))
	if _, err := m.Match(Text("abc"), time.Second, true); err != nil {
		t.Fatalf("Match: %v", err)
	}
	_, _ = m.Write([]byte("def"))

	if got := m.TotalOutput(); got != "abcdef" {
		t.Fatalf("total output %q, want abcdef", got)
	}
}

func TestPattern_String(t *testing.T) {
	if s := Text("abc").String(); s != `"abc"` {
		t.Fatalf("unexpected literal string: %s", s)
	}
	if s := Regexp(`a+`).String(); !strings.Contains(s, "a+") {
		t.Fatalf("unexpected regexp string: %s", s)
	}
}

// errOf drops the matched-text half so mustSignal reads cleanly at call sites.
func errOf(_ string, err error) error { return err }
