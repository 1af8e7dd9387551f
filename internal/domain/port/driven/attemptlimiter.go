package driven

// AttemptLimiter throttles registration login attempts per chat identity.
type AttemptLimiter interface {
	CheckAttemptAllowed(id int64) bool
	RecordAttempt(id int64, success bool)
}
