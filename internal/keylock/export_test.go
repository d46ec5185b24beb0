// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package keylock

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
