package session

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/signac/viewer/internal/protocol"
	"github.com/signac/viewer/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_LogsQueueFull(t *testing.T) {
	var buf bytes.Buffer
	out := &outbox{
		ctx:    context.Background(),
		caller: &fakeCaller{err: rpc.ErrQueueFull},
		logger: slog.New(slog.NewTextHandler(&buf, nil)),
	}

	call := out.send(protocol.MethodRequestImage, protocol.ImageRequest{PlotID: 1, Width: 10, Height: 10})
	require.ErrorIs(t, call.Error, rpc.ErrQueueFull)
	assert.Contains(t, buf.String(), "backend call failed")
	assert.Contains(t, buf.String(), "method="+protocol.MethodRequestImage)
	assert.Contains(t, buf.String(), "write queue full")
}
