package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/sncast/internal/config"
	"github.com/ggonzalez94/sncast/internal/model"
)

type result struct {
	TransactionHash string `json:"transaction_hash"`
	Polls           int    `json:"polls"`
}

func TestRenderJSONHex(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    result{TransactionHash: "0x1f", Polls: 3},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now(), Command: "invoke"},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "json", ValueFormat: config.ValueFormatHex}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if !out.Success || out.Data["transaction_hash"] != "0x1f" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestRenderIntFormat(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []result{{TransactionHash: "0xff"}},
		Error:   &model.ErrorBody{Code: 7, Type: "transaction_rejected", Message: "reverted", Data: map[string]string{"transaction_hash": "0x10"}},
		Meta:    model.EnvelopeMeta{RequestID: "0xabc", Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "json", ValueFormat: config.ValueFormatInt}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	s := buf.String()
	if !strings.Contains(s, `"transaction_hash": "255"`) || !strings.Contains(s, `"transaction_hash": "16"`) {
		t.Fatalf("expected decimal values: %s", s)
	}
	if !strings.Contains(s, `"request_id": "0xabc"`) {
		t.Fatalf("meta must not be rewritten: %s", s)
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    map[string]any{"address": "0x2", "deployed": false},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "address=0x2") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestFormatValue(t *testing.T) {
	cases := map[string]string{
		"0x0":   "0",
		"0xA":   "10",
		"alpha": "alpha",
		"0x":    "0x",
		"0xzz":  "0xzz",
	}
	for in, want := range cases {
		if got := FormatValue(in, true); got != want {
			t.Fatalf("FormatValue(%q) = %q, want %q", in, got, want)
		}
	}
	if FormatValue("0xA", false) != "0xA" {
		t.Fatal("hex format must keep values")
	}
}
