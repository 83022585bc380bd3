package board

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several FlowBoard deployments can safely share one Redis server.
//
// Key pattern: flowboard:{instance_name}:{entity}:{id...}
// Channel pattern: flowboard:{instance_name}:{event_type}_events

// LayoutKey returns the cache key for a resolved layout. Both cache tiers use
// this key so an entry is addressed identically everywhere.
// Pattern: flowboard:{instance_name}:layout:{user_id}:{project_id}
func LayoutKey(instanceName, userID, projectID string) string {
	return fmt.Sprintf("flowboard:%s:layout:%s:%s", instanceName, userID, projectID)
}

// ChangeEventsChannel returns the Pub/Sub channel carrying change events.
// Pattern: flowboard:{instance_name}:change_events
func ChangeEventsChannel(instanceName string) string {
	return fmt.Sprintf("flowboard:%s:change_events", instanceName)
}
