package events

// Public event names published for session outcomes.
const (
	TopicSuccess = "success"
	TopicError   = "error"
	TopicCancel  = "cancel"
)

// DefaultTopics returns the event names subscribers may register for.
func DefaultTopics() []string {
	return []string{TopicSuccess, TopicError, TopicCancel}
}

// IsTopic reports whether name is one of DefaultTopics.
func IsTopic(name string) bool {
	switch name {
	case TopicSuccess, TopicError, TopicCancel:
		return true
	default:
		return false
	}
}
