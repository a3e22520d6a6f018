// Package naming provides an in-memory device-name table that satisfies the
// registry's NamePublisher interface. It stands in for a filesystem device
// node facility: names map to device identifiers, and a name can be bound to
// only one device at a time.
package naming

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blkdev/diskreg"
)

// Table maps published device names to identifiers. Safe for concurrent
// use.
type Table struct {
	mu     sync.RWMutex
	byName map[string]diskreg.DeviceID
}

var _ diskreg.NamePublisher = (*Table)(nil)

func New() *Table {
	return &Table{byName: make(map[string]diskreg.DeviceID)}
}

// Publish binds name to id. Rebinding an existing name is an error; the
// registry treats that as a creation failure.
func (t *Table) Publish(name string, id diskreg.DeviceID) error {
	if name == "" {
		return fmt.Errorf("device name must not be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byName[name]; ok {
		return fmt.Errorf("name %q is already bound to device %s", name, existing)
	}
	t.byName[name] = id
	return nil
}

// Unpublish removes a binding. Unpublishing a name that was never published
// is an error, since it means registry and name table disagree.
func (t *Table) Unpublish(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byName[name]; !ok {
		return fmt.Errorf("name %q is not published", name)
	}
	delete(t.byName, name)
	return nil
}

// Lookup resolves a published name to its device identifier.
func (t *Table) Lookup(name string) (diskreg.DeviceID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.byName[name]
	return id, ok
}

// Names returns all published names in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
