package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	// DefaultRedisImage is used when no image is given.
	DefaultRedisImage = "redis:7-alpine"

	redisContainerPort = "6379/tcp"
	stopTimeoutSeconds = 10
)

// RedisOptions describe the development Redis for one instance.
type RedisOptions struct {
	Instance string
	Image    string
	Port     int
	RunID    string
}

// RedisURL is the address the engine uses to reach the container.
func (o RedisOptions) RedisURL() string {
	return fmt.Sprintf("redis://127.0.0.1:%d", o.Port)
}

// RedisContainerSpec builds the create-time configuration of the Redis
// container. The port is bound on loopback only.
func RedisContainerSpec(opts RedisOptions) (*container.Config, *container.HostConfig) {
	image := opts.Image
	if image == "" {
		image = DefaultRedisImage
	}

	labels := BuildLabels(opts.Instance, opts.RunID, ComponentRedis)
	labels[LabelRedisPort] = strconv.Itoa(opts.Port)

	cfg := &container.Config{
		Image:  image,
		Labels: labels,
		ExposedPorts: nat.PortSet{
			redisContainerPort: struct{}{},
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(NetworkName(opts.Instance)),
		PortBindings: nat.PortMap{
			redisContainerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: strconv.Itoa(opts.Port)},
			},
		},
	}
	return cfg, hostCfg
}

// InstanceExists reports whether any container carries the instance label.
func InstanceExists(ctx context.Context, cli *client.Client, instanceName string) (bool, error) {
	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", InstanceFilter(instanceName))),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list containers: %w", err)
	}
	return len(containers) > 0, nil
}

// StartRedis creates the instance network and starts Redis on it, pulling
// the image if it is missing. On failure, whatever was created is removed.
func StartRedis(ctx context.Context, cli *client.Client, opts RedisOptions, progress io.Writer) error {
	if opts.RunID == "" {
		opts.RunID = GenerateRunID()
	}
	cfg, hostCfg := RedisContainerSpec(opts)

	if err := ensureImage(ctx, cli, cfg.Image, progress); err != nil {
		return err
	}

	networkName := NetworkName(opts.Instance)
	if _, err := cli.NetworkCreate(ctx, networkName, types.NetworkCreate{
		Driver: "bridge",
		Labels: BuildLabels(opts.Instance, opts.RunID, ""),
	}); err != nil {
		return fmt.Errorf("failed to create network '%s': %w", networkName, err)
	}
	fmt.Fprintf(progress, "✓ Created network: %s\n", networkName)

	name := RedisContainerName(opts.Instance)
	resp, err := cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		_ = RemoveInstance(ctx, cli, opts.Instance, io.Discard)
		return fmt.Errorf("failed to create Redis container: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = RemoveInstance(ctx, cli, opts.Instance, io.Discard)
		return fmt.Errorf("failed to start Redis container: %w", err)
	}

	fmt.Fprintf(progress, "✓ Started Redis container: %s (port %d)\n", name, opts.Port)
	return nil
}

// RemoveInstance stops and removes every container and network of an
// instance. Stop failures are reported and skipped.
func RemoveInstance(ctx context.Context, cli *client.Client, instanceName string, progress io.Writer) error {
	instanceFilter := filters.NewArgs(filters.Arg("label", InstanceFilter(instanceName)))

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true, Filters: instanceFilter})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	timeout := stopTimeoutSeconds
	for _, c := range containers {
		fmt.Fprintf(progress, "→ Stopping %s...\n", c.Names[0])
		if err := cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			fmt.Fprintf(progress, "⚠️  failed to stop %s: %v\n", c.Names[0], err)
		}
		fmt.Fprintf(progress, "→ Removing %s...\n", c.Names[0])
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			return fmt.Errorf("failed to remove %s: %w", c.Names[0], err)
		}
	}

	networks, err := cli.NetworkList(ctx, types.NetworkListOptions{Filters: instanceFilter})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range networks {
		fmt.Fprintf(progress, "→ Removing network %s...\n", n.Name)
		if err := cli.NetworkRemove(ctx, n.ID); err != nil {
			return fmt.Errorf("failed to remove network %s: %w", n.Name, err)
		}
	}

	return nil
}

func ensureImage(ctx context.Context, cli *client.Client, image string, progress io.Writer) error {
	if _, _, err := cli.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}

	fmt.Fprintf(progress, "→ Pulling %s...\n", image)
	reader, err := cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to complete image pull %s: %w", image, err)
	}
	return nil
}

// PortAvailable reports whether port can be bound on localhost.
func PortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
