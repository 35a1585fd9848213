package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newBufferedLogger() (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	return NewZerologLogger(&zl), &buf
}

func TestProtocolLoggerWritesThroughZerolog(t *testing.T) {
	log, buf := newBufferedLogger()
	adapter := NewProtocolLogger(log)

	adapter.Infof("connected to %s", "c.whatsapp.net")
	adapter.Warnf("stream closing")
	adapter.Errorf("handshake failed: %d", 401)

	out := buf.String()
	assert.Contains(t, out, "connected to c.whatsapp.net")
	assert.Contains(t, out, "stream closing")
	assert.Contains(t, out, "handshake failed: 401")
}

func TestProtocolLoggerSubAddsComponent(t *testing.T) {
	log, buf := newBufferedLogger()
	adapter := NewProtocolLogger(log)

	adapter.Sub("Client").Debugf("retry queued")

	out := buf.String()
	assert.Contains(t, out, `"component":"Client"`)
	assert.Contains(t, out, "retry queued")
}

func TestProtocolLoggerSubEmptyModuleReturnsSame(t *testing.T) {
	log, _ := newBufferedLogger()
	adapter := NewProtocolLogger(log)

	assert.Same(t, adapter, adapter.Sub(""))
}

func TestBunQueryHookSanitizesQuery(t *testing.T) {
	hook := &BunQueryHook{logger: SetupForTesting()}

	got := hook.sanitizeQuery("SELECT *\n\tFROM   messages\nWHERE session_id = ?")
	assert.Equal(t, "SELECT * FROM messages WHERE session_id = ?", got)
}
