package journal

import (
	"fmt"
	"regexp"
)

// Redis key pattern helpers
//
// All keys and channels are namespaced by instance name so several arenas
// can share one Redis server.
//
// Key pattern: arena:{instance}:{entity}
// Channel pattern: arena:{instance}:space:{space}:events

// SpaceEventsChannel returns the Pub/Sub channel for one space's mutations.
// Pattern: arena:{instance}:space:{space}:events
func SpaceEventsChannel(instance, space string) string {
	return fmt.Sprintf("arena:%s:space:%s:events", instance, space)
}

// AllSpaceEventsPattern matches the event channel of every space.
// Pattern: arena:{instance}:space:*:events
func AllSpaceEventsPattern(instance string) string {
	return fmt.Sprintf("arena:%s:space:*:events", instance)
}

// SpaceHistoryKey returns the capped list holding a space's recent entries,
// newest first.
// Pattern: arena:{instance}:space:{space}:history
func SpaceHistoryKey(instance, space string) string {
	return fmt.Sprintf("arena:%s:space:%s:history", instance, space)
}

// SpacesKey returns the set of space names that have been journaled.
// Pattern: arena:{instance}:spaces
func SpacesKey(instance string) string {
	return fmt.Sprintf("arena:%s:spaces", instance)
}

// MaxInstanceLength bounds instance names so keys stay readable.
const MaxInstanceLength = 63

// InstancePattern accepts lowercase alphanumerics with inner hyphens.
// Colons and glob characters would corrupt the key and channel patterns.
var InstancePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateInstance checks that name can namespace journal keys.
func ValidateInstance(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxInstanceLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxInstanceLength)
	}
	if !InstancePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}
