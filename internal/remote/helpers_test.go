package remote

import (
	"encoding/json"
	"fmt"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

func testRecord(t model.RecordType, id string) tracker.Record {
	return tracker.Record{
		Type:    t,
		ID:      id,
		Key:     id,
		Payload: json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
	}
}

func testBatch(t model.RecordType, ids ...string) tracker.Batch {
	b := tracker.Batch{Type: t}
	for _, id := range ids {
		b.Records = append(b.Records, testRecord(t, id))
	}
	return b
}
