package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventPriceUpdate  EventType = "price_update"
	EventNewCoin      EventType = "new_coin"
	EventNewFutures   EventType = "new_futures"
	EventDataSync     EventType = "data_sync"
	EventNotification EventType = "notification"
)

// Broker channel names, one per event kind.
const (
	ChannelPriceUpdate  = "price:update"
	ChannelNewCoin      = "coin:new"
	ChannelNewFutures   = "futures:new"
	ChannelDataSync     = "data:sync"
	ChannelNotification = "notification"
)

// ChannelFor returns the channel an event type is published on.
func ChannelFor(t EventType) string {
	switch t {
	case EventPriceUpdate:
		return ChannelPriceUpdate
	case EventNewCoin:
		return ChannelNewCoin
	case EventNewFutures:
		return ChannelNewFutures
	case EventDataSync:
		return ChannelDataSync
	case EventNotification:
		return ChannelNotification
	}
	return ""
}

// Event is the broker wire envelope. Data holds the JSON payload for Type.
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// DataSync is the payload of a data_sync event.
type DataSync struct {
	RunID            string `json:"run_id"`
	RecordsProcessed int    `json:"records_processed"`
}

func newEvent(t EventType, data any, at time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", t, err)
	}
	return Event{Type: t, Data: raw, Timestamp: at}, nil
}

func NewPriceUpdateEvent(records []AssetRecord, at time.Time) (Event, error) {
	if records == nil {
		records = []AssetRecord{}
	}
	return newEvent(EventPriceUpdate, records, at)
}

func NewCoinEvent(record AssetRecord, at time.Time) (Event, error) {
	return newEvent(EventNewCoin, record, at)
}

func NewFuturesEvent(record AssetRecord, at time.Time) (Event, error) {
	return newEvent(EventNewFutures, record, at)
}

func NewDataSyncEvent(sync DataSync, at time.Time) (Event, error) {
	return newEvent(EventDataSync, sync, at)
}

func NewNotificationEvent(n Notification, at time.Time) (Event, error) {
	return newEvent(EventNotification, n, at)
}

// Records decodes the payload of a price_update event.
func (e Event) Records() ([]AssetRecord, error) {
	if e.Type != EventPriceUpdate {
		return nil, fmt.Errorf("event %s carries no record batch", e.Type)
	}
	var out []AssetRecord
	if err := json.Unmarshal(e.Data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Record decodes the payload of a new_coin or new_futures event.
func (e Event) Record() (AssetRecord, error) {
	var out AssetRecord
	if e.Type != EventNewCoin && e.Type != EventNewFutures {
		return out, fmt.Errorf("event %s carries no single record", e.Type)
	}
	err := json.Unmarshal(e.Data, &out)
	return out, err
}

func (e Event) Sync() (DataSync, error) {
	var out DataSync
	if e.Type != EventDataSync {
		return out, fmt.Errorf("event %s is not a data sync", e.Type)
	}
	err := json.Unmarshal(e.Data, &out)
	return out, err
}

func (e Event) Notification() (Notification, error) {
	var out Notification
	if e.Type != EventNotification {
		return out, fmt.Errorf("event %s is not a notification", e.Type)
	}
	err := json.Unmarshal(e.Data, &out)
	return out, err
}

// Encode returns the JSON envelope.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a JSON envelope.
func DecodeEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" {
		return e, fmt.Errorf("decode event: missing type")
	}
	return e, nil
}
