package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNATSPublisher_RunCompletedRoundTrip(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe("platform.ingest.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	event := RunCompleted{RunID: "run-abc123", Stage: "qa", Succeeded: 4, Failed: 1, ElapsedMS: 250}
	if err := pub.Publish(context.Background(), TopicRunCompleted, event); err != nil {
		t.Fatalf("publishing: %v", err)
	}

	select {
	case msg := <-ch:
		var got RunCompleted
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("unmarshaling: %v", err)
		}
		if got != event {
			t.Errorf("got %+v, want %+v", got, event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestNATSSubscriber_Cancel(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe("platform.ingest.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	cancel()

	// Channel should be closed.
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}

func TestNoopPublisher(t *testing.T) {
	p := &NoopPublisher{}
	if err := p.Publish(context.Background(), TopicObjectFailed, ObjectFailed{Key: "k"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
