package events

import "strings"

// NewPublisher returns an AMQP publisher, or a no-op one when url is empty.
func NewPublisher(url, exchange string) (Publisher, string, error) {
	if strings.TrimSpace(url) == "" {
		return NopPublisher{}, "disabled", nil
	}
	p, err := NewAMQPPublisher(url, exchange)
	if err != nil {
		return nil, "", err
	}
	return p, "amqp", nil
}
