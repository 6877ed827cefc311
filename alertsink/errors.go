package alertsink

import "errors"

var (
	// ErrNoBrokers indicates a publisher was configured without brokers.
	ErrNoBrokers = errors.New("alertsink: at least one broker is required")

	// ErrNoTopic indicates a publisher was configured without a topic.
	ErrNoTopic = errors.New("alertsink: topic is required")

	// ErrNilSubscription indicates Forward was given no subscription.
	ErrNilSubscription = errors.New("alertsink: subscription is nil")
)
