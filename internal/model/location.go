package model

// LocationUpdate is the inbound payload of the live-location stream.
// Timestamp is RFC 3339 (unlike chat, which uses TimeLayout). LateFee is
// computed server-side from the group's meeting time.
type LocationUpdate struct {
	GroupID     string  `json:"groupId"`
	MemberEmail string  `json:"memberEmail"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timestamp   string  `json:"timestamp"`
	LateFee     int64   `json:"lateFee"`
}

// LocationReport is the outbound payload. The server stamps the sender
// identity from the access token, so the client never sends it.
type LocationReport struct {
	GroupID   string  `json:"groupId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
}
