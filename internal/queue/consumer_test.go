package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleAppendsLines(t *testing.T) {
	dir := t.TempDir()
	c := &Consumer{LogDir: dir, Log: zap.NewNop()}

	first := `{"type":"payment_completed","payment_id":4,"booking_id":9,"provider":"payme","amount":"50000.00","occurred_at":"2026-05-02T12:00:00Z"}`
	second := `{"type":"payment_refunded","payment_id":4,"booking_id":9,"provider":"payme","amount":"50000.00","occurred_at":"2026-05-02T13:00:00Z"}`
	require.NoError(t, c.handle([]byte(first)))
	require.NoError(t, c.handle([]byte(second)))

	raw, err := os.ReadFile(filepath.Join(dir, "payments.log"))
	require.NoError(t, err)
	assert.Equal(t,
		"[2026-05-02T12:00:00Z] payment_completed | payment_id=4 | booking_id=9 | provider=payme | amount=50000.00\n"+
			"[2026-05-02T13:00:00Z] payment_refunded | payment_id=4 | booking_id=9 | provider=payme | amount=50000.00\n",
		string(raw))
}

func TestHandleRejectsBadMessages(t *testing.T) {
	c := &Consumer{LogDir: t.TempDir(), Log: zap.NewNop()}
	assert.Error(t, c.handle([]byte(`{`)))
	assert.Error(t, c.handle([]byte(`{"type":"payment_completed"}`)))
}
