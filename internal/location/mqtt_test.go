package location

import (
	"testing"

	"clocktrack/internal/config"
	"clocktrack/internal/tracker"
)

func TestNewMQTTProvider(t *testing.T) {
	if _, err := NewMQTTProvider(config.LocationConfig{Type: "mqtt"}, tracker.NewNopLogger()); err == nil {
		t.Error("NewMQTTProvider() expected error without broker and topic")
	}
	if _, err := NewMQTTProvider(config.LocationConfig{Type: "mqtt", MQTTBroker: "tcp://localhost:1883", MQTTTopic: "owntracks/alice/phone"}, tracker.NewNopLogger()); err != nil {
		t.Errorf("NewMQTTProvider() error = %v", err)
	}
}

func TestMQTTProvider_Handle(t *testing.T) {
	p, err := NewMQTTProvider(config.LocationConfig{MQTTBroker: "tcp://localhost:1883", MQTTTopic: "owntracks/alice/phone"}, tracker.NewNopLogger())
	if err != nil {
		t.Fatalf("NewMQTTProvider() error = %v", err)
	}
	sub := p.hub.subscribe(nil)

	p.handle([]byte(`{"_type":"location","lat":48.85,"lon":2.35,"tst":1705314600}`))
	p.handle([]byte(`{"_type":"lwt"}`))
	p.handle([]byte(`not json`))
	p.handle([]byte(`{"_type":"location","lat":48.86,"lon":2.36}`))

	first := <-sub.Fixes()
	if first.Latitude != 48.85 {
		t.Errorf("first fix latitude = %f, want 48.85", first.Latitude)
	}
	second := <-sub.Fixes()
	if second.Timestamp.IsZero() {
		t.Error("report without tst should be stamped on receipt")
	}
	select {
	case f := <-sub.Fixes():
		t.Errorf("unexpected extra fix %+v", f)
	default:
	}

	p.hub.closeAll()
	if _, ok := <-sub.Fixes(); ok {
		t.Error("stream should end when the connection is lost")
	}
}
