package events

import (
	"fmt"
	"strings"
)

// MakeEntityID builds the canonical <platform>:<server>:<channel> identifier.
func MakeEntityID(platform Platform, serverID, channelID string) string {
	return fmt.Sprintf("%s:%s:%s", platform, serverID, channelID)
}

// ParseEntityID splits an entity id into its parts.
func ParseEntityID(entityID string) (platform Platform, serverID, channelID string, err error) {
	parts := strings.SplitN(entityID, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%w: malformed entity_id %q", ErrValidation, entityID)
	}
	return Platform(parts[0]), parts[1], parts[2], nil
}
