package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_Image(t *testing.T) {
	env, err := NewEvent(EventImage, Image{
		PlotID: 3, Width: 400, Height: 300, Data: "aGVsbG8=",
		Axis: &AxisInfo{XMin: 0, XMax: 10, YMin: -5, YMax: 5, XLabel: "A", YLabel: "B"},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TypeEvent, decoded.Type)

	ev, err := DecodeEvent(&decoded)
	require.NoError(t, err)
	require.NotNil(t, ev.Image)
	assert.Equal(t, 3, ev.Image.PlotID)
	assert.False(t, ev.Image.Unchanged())
	assert.Equal(t, "B", ev.Image.Axis.YLabel)
}

func TestDecodeEvent_SentinelImage(t *testing.T) {
	env, err := NewEvent(EventImage, Image{PlotID: 1})
	require.NoError(t, err)
	assert.NotContains(t, string(env.Payload), "axis")

	ev, err := DecodeEvent(env)
	require.NoError(t, err)
	assert.True(t, ev.Image.Unchanged())
	assert.Nil(t, ev.Image.Axis)
}

func TestDecodeEvent_Unknown(t *testing.T) {
	_, err := DecodeEvent(&Envelope{Type: TypeEvent, Event: "createPlot", Payload: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestNewCall(t *testing.T) {
	env, err := NewCall(7, "client-1", MethodSetFilterRange, FilterRangeRequest{Slot: 2, Low: 10, High: 20})
	require.NoError(t, err)
	assert.Equal(t, TypeCall, env.Type)
	assert.Equal(t, uint64(7), env.ID)
	assert.JSONEq(t, `{"slot":2,"low":10,"high":20}`, string(env.Args))
}

func TestAxisValid(t *testing.T) {
	assert.True(t, AxisX.Valid())
	assert.True(t, AxisY.Valid())
	assert.False(t, Axis("z").Valid())
}
