// Package messages defines the wire format shared by every queue: a common
// JSON envelope plus one payload type per queue. Payload fields sit inline
// with the envelope fields in the encoded document (struct embedding), and
// consumers tolerate unknown fields.
package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"imageviewer-pipeline/internal/models"
)

// Message type identifiers. These double as routing keys on the topic
// exchange; dispatch is by type, one consumer group per type.
const (
	TypeCollectionCreation  = "collection.creation"
	TypeCollectionScan      = "collection.scan"
	TypeImageProcessing     = "image.processing"
	TypeThumbnailGeneration = "thumbnail.generation"
	TypeCacheGeneration     = "cache.generation"
)

// PropScanJobID keys the scan job's identity in Envelope.Properties on
// republished collection.scan messages, so a resumed scan lands on its
// original job state instead of minting a new one.
const PropScanJobID = "scanJobId"

// Envelope carries the fields common to every message. OccurredOn is the
// event time in RFC 3339; Timestamp is the same instant in Unix milliseconds
// for consumers that prefer numeric clocks.
type Envelope struct {
	ID            string            `json:"id"`
	OccurredOn    time.Time         `json:"occurredOn"`
	Timestamp     int64             `json:"timestamp"`
	MessageType   string            `json:"messageType"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// NewEnvelope stamps a fresh envelope for the given message type. An empty
// correlationID gets the message's own ID so related messages can always be
// traced to a root.
func NewEnvelope(messageType, correlationID string) Envelope {
	now := time.Now().UTC()
	id := uuid.New().String()
	if correlationID == "" {
		correlationID = id
	}
	return Envelope{
		ID:            id,
		OccurredOn:    now,
		Timestamp:     now.UnixMilli(),
		MessageType:   messageType,
		CorrelationID: correlationID,
	}
}

// CollectionCreation asks the creation worker to expand parentPath into
// collection candidates.
type CollectionCreation struct {
	Envelope
	ParentPath        string                    `json:"parentPath"`
	LibraryID         string                    `json:"libraryId"`
	Prefix            string                    `json:"prefix,omitempty"`
	IncludeSubfolders bool                      `json:"includeSubfolders"`
	AutoAdd           bool                      `json:"autoAdd"`
	Settings          models.CollectionSettings `json:"settings"`
}

// CollectionScan asks the scan worker to (re)enumerate one collection.
type CollectionScan struct {
	Envelope
	CollectionID string `json:"collectionId"`
	ForceRescan  bool   `json:"forceRescan"`
}

// ImageProcessing is the optional fan-out stage: one message per image that
// the processing worker expands into thumbnail and cache messages. The job
// IDs ride along so the fan-out stage does not need a store lookup.
type ImageProcessing struct {
	Envelope
	ImageID        string `json:"imageId"`
	CollectionID   string `json:"collectionId"`
	ImagePath      string `json:"imagePath"`
	ThumbnailJobID string `json:"thumbnailJobId,omitempty"`
	CacheJobID     string `json:"cacheJobId,omitempty"`
}

// ThumbnailGeneration asks a generation worker to produce one thumbnail.
type ThumbnailGeneration struct {
	Envelope
	ImageID       string `json:"imageId"`
	CollectionID  string `json:"collectionId"`
	ImagePath     string `json:"imagePath"`
	ImageFilename string `json:"imageFilename"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	JobID         string `json:"jobId"`
}

// CacheGeneration asks a generation worker to produce one cache derivative.
type CacheGeneration struct {
	Envelope
	ImageID      string `json:"imageId"`
	CollectionID string `json:"collectionId"`
	ImagePath    string `json:"imagePath"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Quality      int    `json:"quality"`
	Format       string `json:"format"`
	JobID        string `json:"jobId"`
}

// Encode marshals a message to its UTF-8 JSON wire form.
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return body, nil
}

// Decode unmarshals a wire body into the given message struct. Unknown
// fields are ignored so older consumers keep working as producers grow the
// payloads.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// PeekType extracts just the messageType from a wire body, used for logging
// and for dead-letter inspection without committing to a payload type.
func PeekType(body []byte) string {
	var probe struct {
		MessageType string `json:"messageType"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.MessageType
}
