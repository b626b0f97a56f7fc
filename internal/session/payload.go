package session

import (
	"fmt"
	"strconv"
	"strings"
)

// PayloadKind tags what is being dragged.
type PayloadKind string

const (
	PayloadField PayloadKind = "field"
	PayloadBrush PayloadKind = "brush"
)

// Payload is a validated drag payload.
type Payload struct {
	Kind  PayloadKind
	Value string
}

// FieldPayload is dragged from the field list.
func FieldPayload(label string) Payload {
	return Payload{Kind: PayloadField, Value: label}
}

// BrushPayload is dragged from a plot's brush handle.
func BrushPayload(plotID int) Payload {
	return Payload{Kind: PayloadBrush, Value: strconv.Itoa(plotID)}
}

// ParsePayload decodes the whitespace-delimited text form "<kind> <value...>".
func ParsePayload(text string) (Payload, error) {
	tokens := strings.Fields(text)
	if len(tokens) < 2 {
		return Payload{}, fmt.Errorf("%w: %q", ErrInvalidPayload, text)
	}
	p := Payload{Kind: PayloadKind(tokens[0]), Value: strings.Join(tokens[1:], " ")}
	switch p.Kind {
	case PayloadField:
	case PayloadBrush:
		if _, err := p.PlotID(); err != nil {
			return Payload{}, err
		}
	default:
		return Payload{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, tokens[0])
	}
	return p, nil
}

// PlotID returns the source plot of a brush payload.
func (p Payload) PlotID() (int, error) {
	if p.Kind != PayloadBrush {
		return 0, fmt.Errorf("%w: %s payload has no plot", ErrInvalidPayload, p.Kind)
	}
	id, err := strconv.Atoi(p.Value)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: bad plot id %q", ErrInvalidPayload, p.Value)
	}
	return id, nil
}

// String encodes the payload in its text form.
func (p Payload) String() string {
	return string(p.Kind) + " " + p.Value
}

// TargetKind names a drop slot.
type TargetKind int

const (
	TargetFilterSlot TargetKind = iota
	TargetX
	TargetY
	TargetSelection
)

func (k TargetKind) String() string {
	switch k {
	case TargetFilterSlot:
		return "filter"
	case TargetX:
		return "x"
	case TargetY:
		return "y"
	case TargetSelection:
		return "selection"
	default:
		return "unknown"
	}
}

// DropTarget is a slot that accepts payloads. Index is the filter slot for
// TargetFilterSlot and the plot id otherwise.
type DropTarget struct {
	Kind  TargetKind
	Index int
}

func FilterSlotTarget(slot int) DropTarget { return DropTarget{Kind: TargetFilterSlot, Index: slot} }
func XSlot(plotID int) DropTarget { return DropTarget{Kind: TargetX, Index: plotID} }
func YSlot(plotID int) DropTarget { return DropTarget{Kind: TargetY, Index: plotID} }
func SelectionSlot(plotID int) DropTarget { return DropTarget{Kind: TargetSelection, Index: plotID} }

// accepts reports whether the target takes payloads of kind k.
func (t DropTarget) accepts(k PayloadKind) bool {
	if t.Kind == TargetSelection {
		return k == PayloadBrush
	}
	return k == PayloadField
}
