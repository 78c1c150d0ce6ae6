// Package model defines the platform event types shared by the ingestion
// pipeline: the parsed payload, its classification, the composite identity
// used for idempotent persistence, and the stored document shape.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EventKind is the business classification of a platform event.
type EventKind string

const (
	KindDeclarePT     EventKind = "DECLARE_PT"
	KindConsumirVasot EventKind = "CONSUMIR_VASOT"
)

var (
	// ErrMalformedPayload marks a payload that cannot be decoded or is
	// missing one of the required identity fields.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnclassifiableEvent marks a payload whose discriminator matches
	// no known event kind.
	ErrUnclassifiableEvent = errors.New("unclassifiable event")
)

// ParsedEvent is a decoded platform drop. The three identity fields are
// derived from the payload; Payload keeps the full original document so
// nothing the platform sends is lost on the way to the store.
type ParsedEvent struct {
	WorkOrder      string
	DocumentNumber string
	IDLPN          string
	Payload        map[string]any
}

// CompositeKey uniquely identifies a stored record. Re-ingesting an object
// with the same key replaces the existing document, never duplicates it.
type CompositeKey struct {
	Stage          string
	WorkOrder      string
	DocumentNumber string
	IDLPN          string
}

// ParseEvent decodes a raw platform JSON drop and derives the required
// identity fields. Invalid JSON, a non-object document, or a missing or
// empty required field all fail with ErrMalformedPayload.
func ParseEvent(data []byte) (*ParsedEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: document is null", ErrMalformedPayload)
	}

	ev := &ParsedEvent{Payload: payload}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"work_order", &ev.WorkOrder},
		{"document_number", &ev.DocumentNumber},
		{"idlpn", &ev.IDLPN},
	} {
		v, err := stringField(payload, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return ev, nil
}

// stringField extracts a required field as a string. The platform is not
// consistent about quoting numeric identifiers, so JSON numbers are accepted
// and rendered back to their literal form.
func stringField(payload map[string]any, name string) (string, error) {
	raw, ok := payload[name]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedPayload, name)
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		s = v.String()
	default:
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformedPayload, name)
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformedPayload, name)
	}
	return s, nil
}

// Classify maps a parsed event to exactly one EventKind based on the
// tipoEvento discriminator. An absent discriminator classifies as
// DECLARE_PT: the platform's DECLARE_PT drops historically omit the field.
// Any other value fails with ErrUnclassifiableEvent; the caller routes the
// file to the errors prefix rather than guessing.
func Classify(ev *ParsedEvent) (EventKind, error) {
	raw, ok := ev.Payload["tipoEvento"]
	if !ok || raw == nil {
		return KindDeclarePT, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: tipoEvento is not a string", ErrUnclassifiableEvent)
	}
	switch EventKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindDeclarePT:
		return KindDeclarePT, nil
	case KindConsumirVasot:
		return KindConsumirVasot, nil
	default:
		return "", fmt.Errorf("%w: tipoEvento %q", ErrUnclassifiableEvent, s)
	}
}

// NewRecord builds the document persisted for a parsed event: the original
// payload passed through untouched, plus the derived identity fields and the
// ingestion provenance. source_s3_key survives archival of the source file.
func NewRecord(ev *ParsedEvent, sourceKey, stage string, kind EventKind, ingestedAt time.Time) map[string]any {
	doc := make(map[string]any, len(ev.Payload)+7)
	for k, v := range ev.Payload {
		doc[k] = v
	}
	doc["work_order"] = ev.WorkOrder
	doc["document_number"] = ev.DocumentNumber
	doc["idlpn"] = ev.IDLPN
	doc["tipoEvento"] = string(kind)
	doc["stage"] = stage
	doc["source_s3_key"] = sourceKey
	doc["ingested_at"] = ingestedAt.UTC().Format(time.RFC3339)
	return doc
}

// Key returns the composite identity of the event within a stage.
func (ev *ParsedEvent) Key(stage string) CompositeKey {
	return CompositeKey{
		Stage:          stage,
		WorkOrder:      ev.WorkOrder,
		DocumentNumber: ev.DocumentNumber,
		IDLPN:          ev.IDLPN,
	}
}

// idlpnRe matches the trailing LPN token of a platform file name,
// e.g. DECLAREPT_OT100_LPN1.json.
var idlpnRe = regexp.MustCompile(`(?i)_([^_/]+)\.json$`)

// IDLPNFromKey extracts the LPN embedded in an object key's file name.
// Returns "" when the name does not follow the platform convention. Used
// for operator-facing logs only; identity always comes from the payload.
func IDLPNFromKey(key string) string {
	m := idlpnRe.FindStringSubmatch(key)
	if m == nil {
		return ""
	}
	return m[1]
}
