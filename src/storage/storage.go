// Package storage persists the provisions blob a NEA hands to its driver.
package storage

import "sync"

// Storage reads and writes the opaque provisions blob. Writes are
// last-writer-wins.
type Storage interface {
	Read() (string, error)
	Write(provisions string) error
}

// Memory keeps the blob in memory.
type Memory struct {
	mu         sync.Mutex
	provisions string
	writes     int
}

func NewMemory(provisions string) *Memory {
	return &Memory{provisions: provisions}
}

func (m *Memory) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provisions, nil
}

func (m *Memory) Write(provisions string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provisions = provisions
	m.writes++
	return nil
}

// Writes reports how many times Write was called.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
