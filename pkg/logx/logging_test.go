package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) Send(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.raw, zerolog.InfoLevel), "raw=%q", tt.raw)
	}
}

func TestWriterLoggerCarriesFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "join"))
	log.Warn("join failed", Int64("account_id", 7), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "join", m["comp"])
	assert.Equal(t, "join failed", m["message"])
	assert.Equal(t, "boom", m["err"])
	assert.EqualValues(t, 7, m["account_id"])
	assert.Contains(t, m["caller"], "logging_test.go")
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var log Logger
	require.True(t, log.IsZero())
	log.Info("nothing happens")
	assert.False(t, log.With(String("a", "b")).IsZero())
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte(`{"level":"warn","time":"x","message":"stream lost","room":"264"}` + "\n"))
	assert.True(t, strings.HasPrefix(got, "[WARN] stream lost"))
	assert.Contains(t, got, "- room=264")
	assert.NotContains(t, got, "time=")

	assert.Equal(t, "plain text", formatAlert([]byte("  plain text \n")))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestAlertSinkRespectsMinLevelAndRate(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 1},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("below threshold")
	log.Warn("first warning")
	log.Error("second alert within the same second")

	require.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sender.count())

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Contains(t, sender.msgs[0], "first warning")
}

func TestNewConsoleLevel(t *testing.T) {
	l := NewConsole("warn").With(String("comp", "main"))
	assert.False(t, l.IsZero())
	assert.True(t, l.Enabled(zerolog.ErrorLevel))
	assert.False(t, l.Enabled(zerolog.InfoLevel))

	assert.True(t, NewConsole("").Enabled(zerolog.InfoLevel))
	assert.False(t, NewConsole("").Enabled(zerolog.DebugLevel))
}
