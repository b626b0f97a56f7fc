package session

import (
	"math"

	"github.com/signac/viewer/internal/protocol"
)

// Default filter domain, used until the backend reports a field's native range.
const (
	DefaultDomainMin = 0.0
	DefaultDomainMax = 100.0
)

// FilterSlot is one entry of the shared range filter pool.
type FilterSlot struct {
	Index     int
	Field     string // empty when unbound
	Low, High float64
	DomainMin float64
	DomainMax float64
}

// Bound reports whether a field is bound to the slot.
func (s FilterSlot) Bound() bool {
	return s.Field != ""
}

func (s *FilterSlot) reset() {
	s.DomainMin, s.DomainMax = DefaultDomainMin, DefaultDomainMax
	s.Low, s.High = DefaultDomainMin, DefaultDomainMax
}

// FilterSlots is the fixed pool of range filters shared by every plot.
type FilterSlots struct {
	slots []FilterSlot
	out   *outbox
}

func newFilterSlots(n int, out *outbox) *FilterSlots {
	slots := make([]FilterSlot, n)
	for i := range slots {
		slots[i].Index = i
		slots[i].reset()
	}
	return &FilterSlots{slots: slots, out: out}
}

// Len returns the pool size.
func (f *FilterSlots) Len() int {
	return len(f.slots)
}

// Slot returns a copy of slot i.
func (f *FilterSlots) Slot(i int) (FilterSlot, error) {
	if err := f.check(i); err != nil {
		return FilterSlot{}, err
	}
	return f.slots[i], nil
}

// Slots returns a copy of the whole pool.
func (f *FilterSlots) Slots() []FilterSlot {
	out := make([]FilterSlot, len(f.slots))
	copy(out, f.slots)
	return out
}

// Bind attaches field to slot i, resetting its range to the default domain,
// and tells the backend.
func (f *FilterSlots) Bind(i int, field string) error {
	if err := f.check(i); err != nil {
		return err
	}
	s := &f.slots[i]
	s.Field = field
	s.reset()
	f.out.send(protocol.MethodSetFilter, protocol.FilterRequest{Slot: i, Field: field})
	return nil
}

// SetRange commits [low, high] on slot i. Every commit on a bound slot is
// forwarded, changed or not; unbound slots ignore it.
func (f *FilterSlots) SetRange(i int, low, high float64) error {
	if err := f.check(i); err != nil {
		return err
	}
	if low > high || math.IsNaN(low) || math.IsNaN(high) {
		return &SlotError{Slot: i, Err: ErrInvalidRange}
	}
	s := &f.slots[i]
	if !s.Bound() {
		return nil
	}
	s.Low, s.High = low, high
	f.out.send(protocol.MethodSetFilterRange, protocol.FilterRangeRequest{Slot: i, Low: low, High: high})
	return nil
}

// ApplyDomain adopts the backend's native range for the field bound to slot i.
// Reports for a field the slot no longer holds are ignored.
func (f *FilterSlots) ApplyDomain(d protocol.FilterDomain) bool {
	if f.check(d.Slot) != nil {
		return false
	}
	s := &f.slots[d.Slot]
	if s.Field != d.Field || d.Min > d.Max {
		return false
	}
	s.DomainMin, s.DomainMax = d.Min, d.Max
	s.Low, s.High = d.Min, d.Max
	return true
}

func (f *FilterSlots) check(i int) error {
	if i < 0 || i >= len(f.slots) {
		return &SlotError{Slot: i, Err: ErrInvalidSlot}
	}
	return nil
}
