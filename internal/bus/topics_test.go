package bus

import (
	"testing"
	"time"
)

func TestEventTopics_Unique(t *testing.T) {
	topics := map[string]bool{
		TopicFactsExtracted:   true,
		TopicEpisodeRecorded:  true,
		TopicProcedureMined:   true,
		TopicCorrectionStored: true,
		TopicFailureStored:    true,
		TopicProactiveAlert:   true,
		TopicIndexUpdated:     true,
	}
	if len(topics) != 7 {
		t.Fatalf("expected 7 unique topics, got %d", len(topics))
	}
	for topic := range topics {
		if topic == "" {
			t.Fatal("empty topic constant")
		}
	}
}

func TestProactiveAlertEvent_Delivery(t *testing.T) {
	b := New()
	sub := b.Subscribe("trigger.")
	defer b.Unsubscribe(sub)

	b.Publish(TopicProactiveAlert, ProactiveAlertEvent{
		OwnerID: "main",
		Types:   []string{"stale_task", "repeated_failure"},
		Block:   "## Proactive Alerts\n- task stalled",
	})

	select {
	case event := <-sub.Ch():
		alert, ok := event.Payload.(ProactiveAlertEvent)
		if !ok {
			t.Fatalf("payload type %T, want ProactiveAlertEvent", event.Payload)
		}
		if alert.OwnerID != "main" {
			t.Fatalf("owner = %q, want main", alert.OwnerID)
		}
		if len(alert.Types) != 2 {
			t.Fatalf("types = %v, want 2 entries", alert.Types)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for alert event")
	}
}
