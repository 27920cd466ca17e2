package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, " lendingd ", "staging", slog.LevelInfo)
	logger.Info("loan funded", slog.String("loan_id", "loan-1"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"service":  "lendingd",
		"env":      "staging",
		"severity": "INFO",
		"message":  "loan funded",
		"loan_id":  "loan-1",
	} {
		if got, _ := line[key].(string); got != want {
			t.Fatalf("%s = %q want %q", key, got, want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
}

func TestNewHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "lendingd", "", slog.LevelWarn)
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn line missing")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %s want %s", raw, got, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	addr := "0x52908400098527886E0F7030069857D2E4169EE7"
	if attr := MaskField("borrower", addr); attr.Value.String() != "0x5290…9EE7" {
		t.Fatalf("borrower address not shortened: %s", attr.Value)
	}
	if attr := MaskField("borrower", "0xabc"); attr.Value.String() != RedactedValue {
		t.Fatalf("malformed borrower not redacted: %s", attr.Value)
	}
	if attr := MaskField("Loan_ID", "loan-1"); attr.Value.String() != "loan-1" {
		t.Fatalf("identifier key masked: %s", attr.Value)
	}
	if attr := MaskField("borrower", " "); attr.Value.String() != " " {
		t.Fatalf("empty values should pass through")
	}
	if got := ShortAddress("alice"); got != RedactedValue {
		t.Fatalf("non-address shortened: %s", got)
	}
}
