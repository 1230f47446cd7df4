// Package realtime carries change notifications from store writes to live
// subscriptions. The payload is deliberately thin: an event says "something
// under this topic changed", and subscribers re-read the record themselves.
package realtime

import "context"

type Event struct {
	Topic string
	Ref   string // identifier of the record that changed
}

type Bus interface {
	Publish(ctx context.Context, topic, ref string) error
	// Subscribe returns a channel of events for one topic plus a release
	// function. The channel is closed after release is called.
	Subscribe(topic string) (<-chan Event, func())
}

func ProfileTopic(userID string) string    { return "profiles:" + userID }
func ChildrenTopic(parentID string) string { return "children:" + parentID }
func EntriesTopic(childID string) string   { return "entries:" + childID }
func DocumentsTopic(childID string) string { return "documents:" + childID }
