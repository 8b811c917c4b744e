package domain

import (
	"encoding/json"
	"time"
)

// RawRecord is a row of a tenant/route raw table.
type RawRecord struct {
	ID          int64           `json:"id"`
	CollectedAt time.Time       `json:"collected_at"`
	Payload     json.RawMessage `json:"payload"`
	ContentHash *string         `json:"content_hash,omitempty"`
}

// RawItem is a canonicalized payload waiting to be written to a raw table.
type RawItem struct {
	Payload     json.RawMessage
	ContentHash string
}

// NewRawItem canonicalizes v and computes its content hash.
func NewRawItem(v any) (RawItem, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return RawItem{}, err
	}
	return RawItem{Payload: canonical, ContentHash: ContentHash(canonical)}, nil
}

// DetailItem is an enrichment response waiting to be written to a detail table.
type DetailItem struct {
	ParentID    int64
	Payload     json.RawMessage
	ContentHash string
}

// NewDetailItem canonicalizes v for the record identified by parentID.
func NewDetailItem(parentID int64, v any) (DetailItem, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return DetailItem{}, err
	}
	return DetailItem{ParentID: parentID, Payload: canonical, ContentHash: ContentHash(canonical)}, nil
}
