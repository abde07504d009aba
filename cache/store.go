package cache

import (
	"fmt"
	"sync/atomic"
)

// nilIndex marks the absence of a neighbour in the recency list.
const nilIndex = -1

// entry is a single cached response.
// Its position in the recency list is given by prev/next, which are indexes into the store arena.
type entry struct {
	key  string
	body []byte
	// marked is set by readers that hit this entry during the current wave.
	// Many readers of a wave may set it at the same time.
	marked atomic.Bool
	prev   int
	next   int
}

// store is the LRU ordered collection of entries.
// It is not safe for concurrent use on its own, all access goes through the Guard (see Cache).
// The only operation allowed concurrently with other readers is find.
type store struct {
	capacity int
	size     int
	// arena holds every entry ever allocated, free slots are reused
	arena []*entry
	free  []int
	index map[string]int
	head  int
	tail  int
}

func newStore(capacity int) *store {
	return &store{
		capacity: capacity,
		index:    make(map[string]int),
		head:     nilIndex,
		tail:     nilIndex,
	}
}

// find returns the body stored for the uri and marks the entry as accessed.
// The returned slice is owned by the store and is valid only while the caller holds the guard.
func (s *store) find(uri string) ([]byte, bool) {
	i, ok := s.index[uri]
	if !ok {
		return nil, false
	}
	e := s.arena[i]
	e.marked.Store(true)
	return e.body, true
}

// peek is find without marking the entry.
func (s *store) peek(uri string) ([]byte, bool) {
	i, ok := s.index[uri]
	if !ok {
		return nil, false
	}
	return s.arena[i].body, true
}

// insert stores body under uri at the head of the list, evicting from the tail until it fits.
// The caller must have checked that len(body) <= capacity.
// It returns the number of evicted entries.
func (s *store) insert(uri string, body []byte) int {
	if len(body) > s.capacity {
		panic(fmt.Sprintf("cache: object of %d bytes can never fit into capacity %d", len(body), s.capacity))
	}
	// replace the previous response for the same uri
	if i, ok := s.index[uri]; ok {
		s.remove(i)
	}
	evicted := 0
	for s.size+len(body) > s.capacity {
		if !s.evictTail() {
			break
		}
		evicted++
	}
	i := s.alloc(uri, body)
	s.insertFront(i)
	s.index[uri] = i
	s.size += len(body)
	s.checkSize()
	return evicted
}

// evictTail removes the least recently used entry.
// It returns false if the store is empty.
func (s *store) evictTail() bool {
	if s.tail == nilIndex {
		return false
	}
	s.remove(s.tail)
	return true
}

// promote moves every marked entry to the head of the list and clears the marks.
// Marked entries keep their relative order, i.e. the first marked entry in the list ends up first.
func (s *store) promote() {
	var marked []int
	for i := s.head; i != nilIndex; i = s.arena[i].next {
		if s.arena[i].marked.Swap(false) {
			marked = append(marked, i)
		}
	}
	for j := len(marked) - 1; j >= 0; j-- {
		s.moveToFront(marked[j])
	}
}

// keys returns the keys and sizes in recency order, most recent first.
func (s *store) keys() []EntryInfo {
	infos := make([]EntryInfo, 0, len(s.index))
	for i := s.head; i != nilIndex; i = s.arena[i].next {
		e := s.arena[i]
		infos = append(infos, EntryInfo{Key: e.key, Size: len(e.body)})
	}
	return infos
}

func (s *store) len() int {
	return len(s.index)
}

// remove unlinks the entry at i, forgets its key and releases its slot.
func (s *store) remove(i int) {
	e := s.arena[i]
	s.unlink(i)
	delete(s.index, e.key)
	s.size -= len(e.body)
	if s.size < 0 {
		panic(fmt.Sprintf("cache: size accounting underflow (%d) after removing %q", s.size, e.key))
	}
	s.arena[i] = nil
	s.free = append(s.free, i)
}

func (s *store) alloc(uri string, body []byte) int {
	e := &entry{key: uri, body: body, prev: nilIndex, next: nilIndex}
	if n := len(s.free); n > 0 {
		i := s.free[n-1]
		s.free = s.free[:n-1]
		s.arena[i] = e
		return i
	}
	s.arena = append(s.arena, e)
	return len(s.arena) - 1
}

func (s *store) insertFront(i int) {
	e := s.arena[i]
	e.prev = nilIndex
	e.next = s.head
	if s.head != nilIndex {
		s.arena[s.head].prev = i
	}
	s.head = i
	if s.tail == nilIndex {
		s.tail = i
	}
}

func (s *store) unlink(i int) {
	e := s.arena[i]
	if e.prev != nilIndex {
		s.arena[e.prev].next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nilIndex {
		s.arena[e.next].prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nilIndex
	e.next = nilIndex
}

func (s *store) moveToFront(i int) {
	if s.head == i {
		return
	}
	s.unlink(i)
	s.insertFront(i)
}

// checkSize panics if the running total broke the capacity invariant.
func (s *store) checkSize() {
	if s.size > s.capacity || s.size < 0 {
		panic(fmt.Sprintf("cache: size %d outside of [0, %d]", s.size, s.capacity))
	}
}
