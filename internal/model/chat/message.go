package chat

import "time"

// MessageRecord is one question/answer exchange unit. A record is created
// locally with only the question populated the moment the user submits it;
// the answer and duration are filled in when the responder's reply arrives.
type MessageRecord struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Duration  *float64  `json:"duration,omitempty"`
}

// Resolved reports whether the record has received its answer.
// Once resolved, a record is immutable.
func (m MessageRecord) Resolved() bool {
	return m.Answer != ""
}
