// Package protocol defines the wire contract between viewer clients and the render server.
//
// Frames are JSON envelopes carried over a WebSocket. Clients send calls, the
// server pushes events; no call has a synchronous reply.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound call methods.
const (
	MethodRequestFieldList = "requestFieldList"
	MethodRequestNewPlot   = "requestNewPlot"
	MethodRequestImage     = "requestImage"
	MethodSetAxis          = "setAxis"
	MethodSetFilter        = "setFilter"
	MethodSetFilterRange   = "setFilterRange"
	MethodSetSelection     = "setSelection"
	MethodSetBrushFilter   = "setBrushFilter"
	MethodSetBrushEnabled  = "setBrushEnabled"
)

// Inbound events.
const (
	EventFieldList    = "receiveFieldList"
	EventImage        = "receiveImage"
	EventFilterDomain = "receiveFilterDomain"
)

// Envelope types.
const (
	TypeCall  = "call"
	TypeEvent = "event"
	TypeError = "error"
)

// Axis names a plot axis.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

// Valid reports whether a is a known axis.
func (a Axis) Valid() bool {
	return a == AxisX || a == AxisY
}

// Envelope wraps every frame on the channel.
type Envelope struct {
	Type     string          `json:"type"`
	ID       uint64          `json:"id,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Method   string          `json:"method,omitempty"`
	Event    string          `json:"event,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Field is one data column as exposed to clients.
type Field struct {
	Label string `json:"label"`
}

// AxisInfo is the data domain and labels of a rendered image.
type AxisInfo struct {
	XMin   float64 `json:"xmin"`
	XMax   float64 `json:"xmax"`
	YMin   float64 `json:"ymin"`
	YMax   float64 `json:"ymax"`
	XLabel string  `json:"xlabel"`
	YLabel string  `json:"ylabel"`
}

// DefaultAxisInfo is sent for plots without both axes bound.
func DefaultAxisInfo() AxisInfo {
	return AxisInfo{XMin: -1, XMax: 1, YMin: -1, YMax: 1, XLabel: "X", YLabel: "Y"}
}

// Call arguments.

type FieldListRequest struct{}

type NewPlotRequest struct {
	PlotID int `json:"plot_id"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ImageRequest struct {
	PlotID int `json:"plot_id"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type AxisRequest struct {
	PlotID int    `json:"plot_id"`
	Axis   Axis   `json:"axis"`
	Field  string `json:"field"`
}

type FilterRequest struct {
	Slot  int    `json:"slot"`
	Field string `json:"field"`
}

type FilterRangeRequest struct {
	Slot int     `json:"slot"`
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type SelectionRequest struct {
	PlotID int     `json:"plot_id"`
	X0     float64 `json:"x0"`
	X1     float64 `json:"x1"`
	Y0     float64 `json:"y0"`
	Y1     float64 `json:"y1"`
}

// BrushFilterRequest makes Target's selection brush follow Source's brush.
type BrushFilterRequest struct {
	Target int `json:"target"`
	Source int `json:"source"`
}

type BrushEnabledRequest struct {
	PlotID  int  `json:"plot_id"`
	Enabled bool `json:"enabled"`
}

// Event payloads.

type FieldList struct {
	Fields []Field `json:"fields"`
}

// Image carries one rendered plot. Width == 0 means the pixels did not change
// since the previous request; Data and Axis are then empty.
type Image struct {
	PlotID int       `json:"plot_id"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Data   string    `json:"data"`
	Axis   *AxisInfo `json:"axis,omitempty"`
}

// Unchanged reports whether the image is the "no pixel change" sentinel.
func (i Image) Unchanged() bool {
	return i.Width == 0
}

// FilterDomain reports the native range of the field bound to a filter slot.
type FilterDomain struct {
	Slot  int     `json:"slot"`
	Field string  `json:"field"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Event is a decoded inbound event. Exactly one payload field is set.
type Event struct {
	Name         string
	FieldList    *FieldList
	Image        *Image
	FilterDomain *FilterDomain
}

// NewCall builds a call envelope.
func NewCall(id uint64, clientID, method string, args any) (*Envelope, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", method, err)
	}
	return &Envelope{Type: TypeCall, ID: id, ClientID: clientID, Method: method, Args: raw}, nil
}

// NewEvent builds an event envelope.
func NewEvent(name string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return &Envelope{Type: TypeEvent, Event: name, Payload: raw}, nil
}

// DecodeEvent turns an event envelope into a typed Event.
func DecodeEvent(env *Envelope) (Event, error) {
	ev := Event{Name: env.Event}
	var target any
	switch env.Event {
	case EventFieldList:
		ev.FieldList = &FieldList{}
		target = ev.FieldList
	case EventImage:
		ev.Image = &Image{}
		target = ev.Image
	case EventFilterDomain:
		ev.FilterDomain = &FilterDomain{}
		target = ev.FilterDomain
	default:
		return ev, fmt.Errorf("unknown event %q", env.Event)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return ev, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return ev, nil
}
