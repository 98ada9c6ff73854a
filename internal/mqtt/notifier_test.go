package mqtt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nugget/think-ai-agent/internal/config"
)

func TestLoadOrCreateInstanceID_CreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != id {
		t.Errorf("file content = %q, want %q", got, id)
	}
	if parts := strings.Split(id, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", id)
	}
}

func TestLoadOrCreateInstanceID_ReturnsExisting(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestLoadOrCreateInstanceID_ReplacesCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "instance_id"), []byte("not-a-uuid\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if id == "not-a-uuid" {
		t.Error("corrupt instance ID was returned")
	}
}

func testNotifier() *Notifier {
	cfg := config.MQTTConfig{
		Broker:      "mqtt://localhost:1883",
		TopicPrefix: "think",
		DeviceName:  "study",
	}
	return New(cfg, "0192b3c4-5d6e-7f80-9a1b-2c3d4e5f6a7b", nil)
}

func TestNotifier_TopicPaths(t *testing.T) {
	n := testNotifier()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", n.baseTopic(), "think/study"},
		{"availabilityTopic", n.availabilityTopic(), "think/study/availability"},
		{"headTopic", n.headTopic("abc"), "think/study/chats/abc/head"},
		{"clientID", n.clientID(), "study-4e5f6a7b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNotifier_HeadPayload(t *testing.T) {
	n := testNotifier()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return at }

	data, err := n.headPayload("abc", 42)
	if err != nil {
		t.Fatal(err)
	}
	var got HeadUpdate
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	want := HeadUpdate{ChatID: "abc", Head: 42, InstanceID: n.instanceID, At: at}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestNotifier_ChatUpdatedWithoutConnection(t *testing.T) {
	// Must not block or panic before Start has connected.
	done := make(chan struct{})
	go func() {
		testNotifier().ChatUpdated(context.Background(), "abc", 1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ChatUpdated() blocked without a connection")
	}
}

func TestNotifier_StartRejectsBadURL(t *testing.T) {
	n := New(config.MQTTConfig{Broker: "://bad"}, "id", nil)
	if err := n.Start(context.Background()); err == nil {
		t.Error("Start() with an unparsable broker URL succeeded")
	}
}
