package resilienttelemetry

type HealthResponse struct {
	Status string `json:"status"`
}

type CreateProjectRequest struct {
	Name string `json:"name"`
}

type CreateProjectResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	APIKey  string `json:"api_key"`
	OwnerID string `json:"owner_id"`
}

type CreateOrUpdateDeviceRequest struct {
	Identifier      string `json:"identifier"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	AppVersion      string `json:"app_version"`
}

type CreateOrUpdateDeviceResponse struct {
	DeviceID        string `json:"device_id"`
	Identifier      string `json:"identifier"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	AppVersion      string `json:"app_version"`
	FirstSeen       string `json:"first_seen"`
	LastSeen        string `json:"last_seen"`
	IPAddress       string `json:"ip_address"`
	Country         string `json:"country"`
}

type BeginSessionRequest struct {
	Identifier string `json:"identifier"`
}

type BeginSessionResponse struct {
	SessionID string `json:"session_id"`
}

type FinishSessionRequest struct {
	SessionID string `json:"session_id"`
}

type FinishSessionResponse struct {
	Message string `json:"message"`
}

type RecordEventResponse struct {
	Message string `json:"message"`
}

type RecordEventsRequest struct {
	Events []Event `json:"events"`
}

type RecordEventsResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}
