package types

// WSStatusResponse is sent to clients with the full pipeline status.
type WSStatusResponse struct {
	Type    string         `json:"type"`              // "status"
	Status  PipelineStatus `json:"status"`            // Pipeline and device status
	Version VersionInfo    `json:"version"`           // Version information
	Input   string         `json:"input"`             // Configured audio input
	Devices []AudioDevice  `json:"devices,omitempty"` // Available capture devices
}

// WSUpdateResponse is sent to clients with the most recent analysed frame.
type WSUpdateResponse struct {
	Type        string  `json:"type"` // "update"
	FrequencyHz float64 `json:"frequency_hz"`
	Magnitude   float64 `json:"magnitude"`
	Brightness  uint8   `json:"brightness"`
	Color       RGB     `json:"color"`
	Hex         string  `json:"hex"`
	Levels      Levels  `json:"levels"`
}
