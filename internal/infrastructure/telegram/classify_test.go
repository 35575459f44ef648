package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    monitor.ErrorKind
		assumed bool
	}{
		{"peer id invalid", tgerr.New(400, "PEER_ID_INVALID"), monitor.KindStaleHandle, false},
		{"channel invalid", tgerr.New(400, "CHANNEL_INVALID"), monitor.KindStaleHandle, false},
		{"channel private", tgerr.New(400, "CHANNEL_PRIVATE"), monitor.KindPermanent, false},
		{"chat forbidden", tgerr.New(403, "CHAT_FORBIDDEN"), monitor.KindPermanent, false},
		{"server timeout", tgerr.New(500, "TIMEOUT"), monitor.KindTransient, false},
		{"internal", tgerr.New(500, "SOMETHING_BROKE"), monitor.KindTransient, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), monitor.KindTransient, false},
		{"eof", io.ErrUnexpectedEOF, monitor.KindTransient, false},
		{"not connected", errNotConnected, monitor.KindTransient, false},
		{"unknown rpc", tgerr.New(400, "WHATEVER_NEW"), monitor.KindPermanent, true},
		{"unknown", errors.New("boom"), monitor.KindPermanent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(discardLogger(), "get_history", -100, tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.kind, monitor.KindOf(err))

			var e *monitor.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.assumed, e.Assumed)
			assert.Equal(t, int64(-100), e.ConversationID)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassify_FloodWait(t *testing.T) {
	err := Classify(discardLogger(), "get_history", -100, tgerr.New(420, "FLOOD_WAIT_17"))
	assert.Equal(t, monitor.KindTransient, monitor.KindOf(err))
	assert.Equal(t, 17*time.Second, monitor.RetryAfterOf(err))
}

func TestClassify_PassThrough(t *testing.T) {
	assert.NoError(t, Classify(discardLogger(), "op", 0, nil))
	assert.Equal(t, context.Canceled, Classify(discardLogger(), "op", 0, context.Canceled))

	already := monitor.Permanent("resolve", errors.New("gone"))
	assert.Same(t, already, Classify(discardLogger(), "op", 0, already))
}
