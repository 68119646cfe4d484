package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestFromContextAddsConversation(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, true)
	defer Configure(&bytes.Buffer{}, true)

	ctx := WithConversation(context.Background(), 17)
	FromContext(ctx).Info("stream settled", "state", "done")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if line["conversation_id"] != float64(17) {
		t.Fatalf("expected conversation_id=17, got %v", line["conversation_id"])
	}
	if line["msg"] != "stream settled" || line["state"] != "done" {
		t.Fatalf("unexpected log line %v", line)
	}
}
