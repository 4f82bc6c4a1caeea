// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package delivery

import (
	"encoding/json"

	"github.com/wneessen/geotrack/internal/location"
)

// Payload is the JSON body posted to the location endpoint.
type Payload struct {
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Accuracy  *float64          `json:"accuracy"`
	Timestamp int64             `json:"timestamp"`
	AppState  location.AppState `json:"app_state"`
	Provider  string            `json:"provider"`
}

// NewPayload builds the request body for a sample.
func NewPayload(sample location.Sample, appState location.AppState) Payload {
	return Payload{
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Accuracy:  sample.Accuracy,
		Timestamp: sample.Timestamp,
		AppState:  appState,
		Provider:  sample.Provider,
	}
}

// Ack is the backend's acknowledgment of a delivered sample. The body is opaque to us.
type Ack struct {
	StatusCode int
	Payload    json.RawMessage
}
