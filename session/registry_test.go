package session

import (
	"sync"
	"testing"

	"github.com/lipsignal/lipsignal-go/domain"
)

type fakeSocket struct{ addr string }

func (f *fakeSocket) Send([]byte) error     { return nil }
func (f *fakeSocket) RemoteAddr() string    { return f.addr }

func TestPutGetRemove(t *testing.T) {
	r := NewRegistry()
	sock := &fakeSocket{addr: "1.2.3.4"}
	s := &Session{UserID: "u1", Socket: sock, ModelPreference: domain.DefaultModelPreference}
	if prev := r.Put(s); prev != nil {
		t.Fatalf("expected no previous session")
	}
	got, ok := r.Get("u1")
	if !ok || got != s {
		t.Fatalf("expected to find session for u1")
	}
	if found, ok := r.FindBySocket(sock); !ok || found != s {
		t.Fatalf("expected to find session by socket")
	}
	r.Remove("u1", s)
	if _, ok := r.Get("u1"); ok {
		t.Fatalf("expected session removed")
	}
}

func TestPutReplacesAtomically(t *testing.T) {
	r := NewRegistry()
	s1 := &Session{UserID: "u1", Socket: &fakeSocket{addr: "a"}}
	s2 := &Session{UserID: "u1", Socket: &fakeSocket{addr: "b"}}
	r.Put(s1)
	prev := r.Put(s2)
	if prev != s1 {
		t.Fatalf("expected Put to return the replaced session")
	}
	got, _ := r.Get("u1")
	if got != s2 {
		t.Fatalf("expected current session to be s2")
	}
	// A stale remove keyed by the old session must not evict s2.
	r.Remove("u1", s1)
	if got, ok := r.Get("u1"); !ok || got != s2 {
		t.Fatalf("stale remove must not evict the replacement session")
	}
}

func TestConcurrentPutGet(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Put(&Session{UserID: "u", Socket: &fakeSocket{}})
			r.Get("u")
		}(i)
	}
	wg.Wait()
}
