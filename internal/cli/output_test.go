package cli

import (
	"bufio"
	"os"
	"strings"
	"testing"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old

	scanner := bufio.NewScanner(r)
	var sb strings.Builder
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestWriteJSONWritesSingleLine(t *testing.T) {
	out := captureStdout(t, func() {
		if err := WriteJSON(map[string]any{"success": true, "id": "tx-1"}); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
	})
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected exactly one line of output, got %q", out)
	}
	if !strings.Contains(out, `"success":true`) || !strings.Contains(out, `"id":"tx-1"`) {
		t.Fatalf("unexpected JSON output: %q", out)
	}
}

func TestWriteJSONRejectsUnmarshalableValue(t *testing.T) {
	if err := WriteJSON(func() {}); err == nil {
		t.Fatal("expected an error marshaling a function value")
	}
}
