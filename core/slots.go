package core

import (
	"fmt"
	"sync"
)

// slotTable holds every connection slot. The first active entries are in
// use; releasing a slot swaps it with the last active one so the active set
// stays dense. Each slot's index always equals its position.
type slotTable struct {
	mu     sync.Mutex
	conns  []*Connection
	active int
	nextID uint64
}

func newSlotTable(capacity int) *slotTable {
	t := &slotTable{conns: make([]*Connection, capacity)}
	for i := range t.conns {
		t.conns[i] = newConnection(i)
	}
	return t
}

// acquire takes a free slot, or returns nil when all are in use. The slot's
// generation is bumped and a new connection ID assigned.
func (t *slotTable) acquire() (*Connection, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == len(t.conns) {
		return nil, 0
	}
	c := t.conns[t.active]
	if c.index != t.active {
		panic(fmt.Sprintf("core: slot %d holds connection indexed %d", t.active, c.index))
	}
	t.active++
	t.nextID++
	c.gen.Add(1)
	return c, t.nextID
}

// release resets c and returns its slot to the free part of the table.
func (t *slotTable) release(c *Connection) {
	c.reset()

	t.mu.Lock()
	defer t.mu.Unlock()

	i := c.index
	if i < 0 || i >= t.active || t.conns[i] != c {
		panic(fmt.Sprintf("core: releasing connection with index %d out of %d active", i, t.active))
	}
	last := t.active - 1
	if i != last {
		moved := t.conns[last]
		t.conns[i], t.conns[last] = moved, c
		moved.index = i
		c.index = last
	}
	t.active--
	c.gen.Add(1)
}

// len is the number of active slots.
func (t *slotTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// at returns the active slot at position i, or nil past the end.
func (t *slotTable) at(i int) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= t.active {
		return nil
	}
	return t.conns[i]
}

func (t *slotTable) capacity() int {
	return len(t.conns)
}
