package model

// HistoryPage is one page of the paginated history endpoint, already
// converted out of the transport envelope. Messages are newest-first;
// page 0 is the most recent window.
type HistoryPage struct {
	Messages []Message
	Members  []Participant
	Page     int
	Size     int
	Total    int
}
