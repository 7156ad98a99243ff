package memory

import "sync"

// Mapping is a region obtained from MapFile or MapAnonymous. Bytes is invalid
// after Close.
type Mapping struct {
	data    []byte
	path    string
	unmap   func([]byte) error
	onClose func(int)
	once    sync.Once
}

// Bytes returns the mapped region.
func (m *Mapping) Bytes() []byte { return m.data }

// Len returns the region size in bytes.
func (m *Mapping) Len() int { return len(m.data) }

// Path returns the backing file, empty for anonymous mappings.
func (m *Mapping) Path() string { return m.path }

// Close releases the region. It is safe to call more than once.
func (m *Mapping) Close() error {
	var err error
	m.once.Do(func() {
		n := len(m.data)
		if m.unmap != nil && n > 0 {
			err = m.unmap(m.data)
		}
		m.data = nil
		if m.onClose != nil {
			m.onClose(n)
		}
	})
	return err
}
