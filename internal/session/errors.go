package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSlot is returned for a filter slot index outside the pool.
	ErrInvalidSlot = errors.New("invalid filter slot")
	// ErrInvalidRange is returned when a range has low > high.
	ErrInvalidRange = errors.New("invalid filter range")
	// ErrUnknownPlot is returned for operations on a closed or never-created plot.
	ErrUnknownPlot = errors.New("unknown plot")
	// ErrInvalidPayload is returned for malformed drag/drop payloads.
	ErrInvalidPayload = errors.New("invalid drop payload")
	// ErrSelfLink is returned when a plot's brush is dropped on its own selection slot.
	ErrSelfLink = errors.New("plot cannot filter itself")
	// ErrInvalidAxis is returned for an axis other than x or y.
	ErrInvalidAxis = errors.New("invalid axis")
)

// SlotError ties a filter pool error to the slot it concerns.
type SlotError struct {
	Slot int
	Err  error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("filter slot %d: %v", e.Slot, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}

// PlotError ties an error to a plot id.
type PlotError struct {
	PlotID int
	Err    error
}

func (e *PlotError) Error() string {
	return fmt.Sprintf("plot %d: %v", e.PlotID, e.Err)
}

func (e *PlotError) Unwrap() error {
	return e.Err
}
