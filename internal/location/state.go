// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import "sync"

// LastDelivered tracks the freshest sample that was successfully delivered. Deliveries may
// complete out of order, so the sample with the newest capture time wins, not the most
// recently completed one.
type LastDelivered struct {
	mu       sync.RWMutex
	last     Sample
	haveLast bool
}

// Update stores s if no sample is known yet or if s was captured after the stored sample.
// It returns true if the stored sample was replaced.
func (l *LastDelivered) Update(s Sample) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.haveLast && s.Timestamp <= l.last.Timestamp {
		return false
	}
	l.last = s
	l.haveLast = true
	return true
}

// Get returns a copy of the last delivered sample or nil if none has been delivered yet.
func (l *LastDelivered) Get() *Sample {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.haveLast {
		return nil
	}
	last := l.last
	return &last
}

// Reset forgets the last delivered sample.
func (l *LastDelivered) Reset() {
	l.mu.Lock()
	l.last = Sample{}
	l.haveLast = false
	l.mu.Unlock()
}
