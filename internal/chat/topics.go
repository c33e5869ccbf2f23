package chat

// Destination layout shared with the server. Subscriptions use the topic
// forms; outbound sends use the app form.

// TopicMessages is the chat-event topic for a room.
func TopicMessages(roomID string) string {
	return "/topic/rooms/" + roomID + "/messages"
}

// TopicRead is the read-receipt topic for a room.
func TopicRead(roomID string) string {
	return "/topic/rooms/" + roomID + "/read"
}

// SendDestination is the outbound destination for a room's messages.
func SendDestination(roomID string) string {
	return "/app/rooms/" + roomID + "/messages"
}
