package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/admindash/internal/config"
	"github.com/pitabwire/admindash/model"
)

func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
		infoOn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", tt.level, err)
			}
			defer logger.Sync()

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.debugOn {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugOn)
			}
			if got := logger.Core().Enabled(zapcore.InfoLevel); got != tt.infoOn {
				t.Errorf("info enabled = %v, want %v", got, tt.infoOn)
			}
		})
	}
}

func TestLoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	fallback := zap.NewNop()

	if got := LoggerFrom(WithLogger(context.Background(), logger), fallback); got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when no logger in context")
	}
}

func TestRequestLogger_enrichesWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID:     "admin-7",
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
	})
	RequestLogger(ctx, logger).Info("served")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	for key, want := range map[string]string{
		"subject_id":     "admin-7",
		"correlation_id": "corr-abc",
		"trace_id":       "trace-xyz",
		"msg":            "served",
	} {
		if got := entry[key]; got != want {
			t.Errorf("%s = %v, want %q", key, got, want)
		}
	}
}

func TestRequestLogger_noRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	RequestLogger(context.Background(), logger).Info("bare")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if _, ok := entry["subject_id"]; ok {
		t.Error("subject_id should be absent without a request context")
	}
}

func TestRedactBody(t *testing.T) {
	body := map[string]any{
		"name":     "Ada",
		"Password": "hunter2",
		"pin":      "1234",
		"profile": map[string]any{
			"token": "abc",
			"city":  "London",
		},
	}

	got := RedactBody(body, []string{"pin"})
	if got["name"] != "Ada" {
		t.Errorf("name = %v", got["name"])
	}
	if got["Password"] != "[REDACTED]" {
		t.Errorf("Password = %v, want case-insensitive redaction", got["Password"])
	}
	if got["pin"] != "[REDACTED]" {
		t.Errorf("pin = %v, want extra field redacted", got["pin"])
	}
	nested := got["profile"].(map[string]any)
	if nested["token"] != "[REDACTED]" || nested["city"] != "London" {
		t.Errorf("profile = %v", nested)
	}
	if body["Password"] != "hunter2" {
		t.Error("original body was mutated")
	}
	if RedactBody(nil, nil) != nil {
		t.Error("RedactBody(nil) should be nil")
	}
}
