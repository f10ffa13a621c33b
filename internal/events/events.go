// Package events defines the publisher port used to announce terminal job
// milestones to downstream consumers.
package events

import "context"

// Publisher delivers one event payload to an external topic. kind labels the
// payload for consumers routing on message attributes.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}
