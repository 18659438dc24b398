// Package stream implements the Redis-streams pipeline connecting trigger
// receivers, the router, the reputation engine, and action pushers. Delivery
// is at least once; ordering is preserved per entity_id.
package stream

import "strings"

// Logical stream names.
const (
	Inbound   = "events:inbound"
	Commands  = "events:commands"
	Actions   = "events:actions"
	Responses = "events:responses"
)

// DLQ returns the dead-letter stream for a primary stream:
// events:inbound -> events:dlq:inbound.
func DLQ(stream string) string {
	suffix := strings.TrimPrefix(stream, "events:")
	return "events:dlq:" + suffix
}
