package messages

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewEnvelope(t *testing.T) {
	before := time.Now().UTC()
	env := NewEnvelope(TypeCollectionScan, "")
	after := time.Now().UTC()

	if env.ID == "" {
		t.Error("NewEnvelope() produced empty ID")
	}
	if env.MessageType != TypeCollectionScan {
		t.Errorf("MessageType = %q, want %q", env.MessageType, TypeCollectionScan)
	}
	if env.CorrelationID != env.ID {
		t.Errorf("empty correlation should default to message ID, got %q", env.CorrelationID)
	}
	if env.OccurredOn.Before(before) || env.OccurredOn.After(after) {
		t.Errorf("OccurredOn = %v, want between %v and %v", env.OccurredOn, before, after)
	}
	if env.Timestamp != env.OccurredOn.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", env.Timestamp, env.OccurredOn.UnixMilli())
	}
}

func TestNewEnvelopeKeepsCorrelation(t *testing.T) {
	env := NewEnvelope(TypeThumbnailGeneration, "root-id")
	if env.CorrelationID != "root-id" {
		t.Errorf("CorrelationID = %q, want %q", env.CorrelationID, "root-id")
	}
	if env.ID == "root-id" {
		t.Error("message ID should differ from correlation ID")
	}
}

func TestEnvelopeIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env := NewEnvelope(TypeCacheGeneration, "")
		if seen[env.ID] {
			t.Fatalf("duplicate envelope ID %q", env.ID)
		}
		seen[env.ID] = true
	}
}

func TestPayloadFieldsInlineWithEnvelope(t *testing.T) {
	msg := ThumbnailGeneration{
		Envelope:      NewEnvelope(TypeThumbnailGeneration, "corr-1"),
		ImageID:       "img-1",
		CollectionID:  "col-1",
		ImagePath:     "/lib/book.zip#page_001.jpg",
		ImageFilename: "page_001.jpg",
		Width:         256,
		Height:        256,
		JobID:         "job-1",
	}

	body, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Envelope and payload fields must sit at the same JSON level.
	var flat map[string]any
	if err := json.Unmarshal(body, &flat); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	for _, key := range []string{"id", "occurredOn", "timestamp", "messageType", "correlationId", "imageId", "collectionId", "imagePath", "width", "height", "jobId"} {
		if _, ok := flat[key]; !ok {
			t.Errorf("wire form missing top-level field %q", key)
		}
	}
	if _, ok := flat["Envelope"]; ok {
		t.Error("embedded envelope leaked as nested object")
	}
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	body := []byte(`{
		"id": "m-1",
		"occurredOn": "2026-08-25T10:00:00Z",
		"timestamp": 1787997600000,
		"messageType": "collection.scan",
		"collectionId": "col-9",
		"forceRescan": true,
		"someFutureField": {"nested": [1, 2, 3]}
	}`)

	var msg CollectionScan
	if err := Decode(body, &msg); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.CollectionID != "col-9" {
		t.Errorf("CollectionID = %q, want %q", msg.CollectionID, "col-9")
	}
	if !msg.ForceRescan {
		t.Error("ForceRescan = false, want true")
	}
	if msg.MessageType != TypeCollectionScan {
		t.Errorf("MessageType = %q, want %q", msg.MessageType, TypeCollectionScan)
	}
}

func TestDecodeRejectsMalformedBody(t *testing.T) {
	var msg CollectionScan
	err := Decode([]byte(`{"collectionId": `), &msg)
	if err == nil {
		t.Fatal("Decode() error = nil, want error for malformed JSON")
	}
	if !strings.Contains(err.Error(), "decoding message") {
		t.Errorf("error %q should wrap decode context", err)
	}
}

func TestPeekType(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "valid message",
			body: `{"messageType": "cache.generation", "imageId": "i"}`,
			want: TypeCacheGeneration,
		},
		{
			name: "missing type",
			body: `{"imageId": "i"}`,
			want: "",
		},
		{
			name: "malformed body",
			body: `not json`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PeekType([]byte(tt.body))
			if got != tt.want {
				t.Errorf("PeekType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoundTripArchivePathWithHash(t *testing.T) {
	// Paths containing '#' must survive the wire verbatim.
	path := "/lib/[Artist] Title #3.zip#page_001.jpg"
	msg := CacheGeneration{
		Envelope:     NewEnvelope(TypeCacheGeneration, ""),
		ImageID:      "img-1",
		CollectionID: "col-1",
		ImagePath:    path,
		Width:        1920,
		Height:       1080,
		Quality:      85,
		Format:       "webp",
		JobID:        "job-1",
	}

	body, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var got CacheGeneration
	if err := Decode(body, &got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.ImagePath != path {
		t.Errorf("ImagePath = %q, want %q", got.ImagePath, path)
	}
}
