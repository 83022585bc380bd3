package docker

import (
	"fmt"

	"github.com/google/uuid"
)

// Label keys used for FlowBoard resources
const (
	LabelManaged       = "flowboard.managed"
	LabelInstanceName  = "flowboard.instance.name"
	LabelInstanceRunID = "flowboard.instance.run_id"
	LabelComponent     = "flowboard.component"
	LabelRedisPort     = "flowboard.redis.port"
)

// ComponentRedis labels the development Redis container.
const ComponentRedis = "redis"

// BuildLabels creates the standard label set for FlowBoard resources.
// component is optional.
func BuildLabels(instanceName, runID, component string) map[string]string {
	labels := map[string]string{
		LabelManaged:       "true",
		LabelInstanceName:  instanceName,
		LabelInstanceRunID: runID,
	}

	if component != "" {
		labels[LabelComponent] = component
	}

	return labels
}

// GenerateRunID creates a new UUID for one `redis up`.
func GenerateRunID() string {
	return uuid.New().String()
}

// NetworkName returns the Docker network name for an instance
func NetworkName(instanceName string) string {
	return fmt.Sprintf("flowboard-network-%s", instanceName)
}

// RedisContainerName returns the Redis container name for an instance
func RedisContainerName(instanceName string) string {
	return fmt.Sprintf("flowboard-redis-%s", instanceName)
}

// InstanceFilter matches every resource labelled with instanceName.
func InstanceFilter(instanceName string) string {
	return fmt.Sprintf("%s=%s", LabelInstanceName, instanceName)
}
