package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Payload
		wantErr bool
	}{
		{name: "field", text: "field Age", want: Payload{Kind: PayloadField, Value: "Age"}},
		{name: "field with spaces", text: "field  Body   Mass ", want: Payload{Kind: PayloadField, Value: "Body Mass"}},
		{name: "brush", text: "brush 3", want: Payload{Kind: PayloadBrush, Value: "3"}},
		{name: "leading whitespace", text: "\tbrush\n12", want: Payload{Kind: PayloadBrush, Value: "12"}},
		{name: "empty", text: "", wantErr: true},
		{name: "tag only", text: "field", wantErr: true},
		{name: "unknown tag", text: "plot 1", wantErr: true},
		{name: "brush not a number", text: "brush abc", wantErr: true},
		{name: "brush negative", text: "brush -1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPayload))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPayload_RoundTrip(t *testing.T) {
	p, err := ParsePayload(BrushPayload(7).String())
	require.NoError(t, err)
	id, err := p.PlotID()
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	_, err = FieldPayload("Age").PlotID()
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestDropTarget_Accepts(t *testing.T) {
	assert.True(t, FilterSlotTarget(0).accepts(PayloadField))
	assert.True(t, XSlot(0).accepts(PayloadField))
	assert.True(t, YSlot(0).accepts(PayloadField))
	assert.False(t, YSlot(0).accepts(PayloadBrush))
	assert.True(t, SelectionSlot(0).accepts(PayloadBrush))
	assert.False(t, SelectionSlot(0).accepts(PayloadField))
	assert.Equal(t, "selection", SelectionSlot(0).Kind.String())
}
