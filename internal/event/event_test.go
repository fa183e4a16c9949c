package event

import (
	"encoding/json"
	"testing"
)

func TestOrderUID_Deterministic(t *testing.T) {
	// sha1 over the event type concatenated with the decimal order id.
	got := OrderUID(TypeMessage, 500)
	want := "202f8035497d4f82bda999b2eecadabdc199fd88"
	if got != want {
		t.Errorf("OrderUID(message, 500) = %s, want %s", got, want)
	}

	if OrderUID(TypeMessage, 500) != got {
		t.Error("uid must be stable across calls")
	}
	if OrderUID(TypeMessage, 501) == got {
		t.Error("different orders must produce different uids")
	}
}

func TestDefaults_ApplyFillsOnlyEmptyFields(t *testing.T) {
	d := Defaults{Type: "info", Position: "top-right", Timeout: 5000, Icon: "bell"}

	p := d.Apply(Payload{Title: "t", Message: "m", Type: "warning"})
	if p.Type != "warning" {
		t.Errorf("explicit type must win, got %s", p.Type)
	}
	if p.Position != "top-right" || p.Timeout != 5000 || p.Icon != "bell" {
		t.Errorf("empty fields must take defaults, got %+v", p)
	}
}

func TestOrderLinked(t *testing.T) {
	ev := Event{UID: "welcome_x"}
	if ev.OrderLinked() {
		t.Error("event without order id must not be order-linked")
	}
	ev.OrderID = 500
	if !ev.OrderLinked() {
		t.Error("event with order id must be order-linked")
	}
}

func TestEvent_JSONShape(t *testing.T) {
	ev := Event{
		UID:       OrderUID(TypeMessage, 500),
		Timestamp: 1700000000,
		EventType: TypeMessage,
		OrderID:   500,
		Payload:   Payload{Title: "Nova narudžba #500"},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"uid", "timestamp", "event_type", "order_id", "reload", "is_processed", "payload"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing %q in wire shape", key)
		}
	}
}

func TestSystemEvent_Discriminator(t *testing.T) {
	ping := NewPing()
	if ping.EventType != TypeSystem || ping.Type != SystemPing {
		t.Errorf("unexpected ping shape: %+v", ping)
	}
	if ping.Timestamp == 0 {
		t.Error("ping must be timestamped")
	}
}
