package location

import (
	"math"
	"testing"
	"time"
)

func TestDecodeReport(t *testing.T) {
	t.Run("location message", func(t *testing.T) {
		f, ok, err := DecodeReport([]byte(`{"_type":"location","lat":51.5,"lon":-0.12,"acc":8,"vel":36,"cog":90,"tst":1705314600}`))
		if err != nil {
			t.Fatalf("DecodeReport() error = %v", err)
		}
		if !ok {
			t.Fatal("DecodeReport() ok = false for location message")
		}
		if f.Latitude != 51.5 || f.Longitude != -0.12 {
			t.Errorf("position = %f,%f", f.Latitude, f.Longitude)
		}
		if f.Speed == nil || math.Abs(*f.Speed-10) > 1e-9 {
			t.Errorf("Speed = %v, want 10 m/s", f.Speed)
		}
		want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
		if !f.Timestamp.Equal(want) {
			t.Errorf("Timestamp = %s, want %s", f.Timestamp, want)
		}
	})

	t.Run("untyped message is a location", func(t *testing.T) {
		_, ok, err := DecodeReport([]byte(`{"lat":1,"lon":2}`))
		if err != nil || !ok {
			t.Errorf("DecodeReport() = ok %v err %v", ok, err)
		}
	})

	t.Run("other message types are ignored", func(t *testing.T) {
		_, ok, err := DecodeReport([]byte(`{"_type":"transition","event":"enter"}`))
		if err != nil {
			t.Fatalf("DecodeReport() error = %v", err)
		}
		if ok {
			t.Error("DecodeReport() ok = true for transition message")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, _, err := DecodeReport([]byte(`{"lat":`)); err == nil {
			t.Error("DecodeReport() expected error")
		}
	})
}
