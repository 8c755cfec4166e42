package undo

import (
	"sync"

	"github.com/xeptore/albumshelf/album"
)

// Entry is a deleted album together with the position it was deleted from.
type Entry struct {
	Record album.Record
	Index  int
}

// Stack holds deletions that have not been undone yet, most recent first.
// Undone entries are gone for good; there is no redo.
type Stack struct {
	mux     sync.Mutex
	entries []Entry
}

func NewStack() *Stack {
	return &Stack{
		mux:     sync.Mutex{},
		entries: nil,
	}
}

func (s *Stack) RecordDeletion(r album.Record, originalIndex int) {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.entries = append(s.entries, Entry{Record: r, Index: originalIndex})
}

// UndoLast pops the most recent deletion. ok is false when there is nothing
// to undo.
func (s *Stack) UndoLast() (e Entry, ok bool) {
	s.mux.Lock()
	defer s.mux.Unlock()

	n := len(s.entries)
	if n == 0 {
		return Entry{}, false
	}

	e = s.entries[n-1]
	s.entries[n-1] = Entry{}
	s.entries = s.entries[:n-1]

	return e, true
}

func (s *Stack) Peek() (Entry, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()

	n := len(s.entries)
	if n == 0 {
		return Entry{}, false
	}

	return s.entries[n-1], true
}

func (s *Stack) Len() int {
	s.mux.Lock()
	defer s.mux.Unlock()

	return len(s.entries)
}
