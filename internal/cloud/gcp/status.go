package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// StatusKey is the instance metadata key the controller status is written to.
const StatusKey = "gamepilot-status"

// StatusPublisher publishes controller status somewhere an operator can read it.
type StatusPublisher interface {
	Publish(ctx context.Context, status ControllerStatus) error
	Close() error
}

// ControllerStatus is the JSON document stored under StatusKey.
type ControllerStatus struct {
	State         string    `json:"state"`
	SessionID     string    `json:"session_id"`
	Cycle         int64     `json:"cycle"`
	Title         string    `json:"title,omitempty"`
	LastAction    string    `json:"last_action,omitempty"`
	LastRationale string    `json:"last_rationale,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	EpisodeTotal  float64   `json:"episode_total"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// InstanceAPI is the slice of the Compute API the publisher needs.
type InstanceAPI interface {
	GetInstance(ctx context.Context, project, zone, instance string) (*compute.Instance, error)
	SetMetadata(ctx context.Context, project, zone, instance string, metadata *compute.Metadata) error
}

type computeInstanceAPI struct {
	service *compute.Service
}

func (a *computeInstanceAPI) GetInstance(ctx context.Context, project, zone, instance string) (*compute.Instance, error) {
	return a.service.Instances.Get(project, zone, instance).Context(ctx).Do()
}

func (a *computeInstanceAPI) SetMetadata(ctx context.Context, project, zone, instance string, metadata *compute.Metadata) error {
	_, err := a.service.Instances.SetMetadata(project, zone, instance, metadata).Context(ctx).Do()
	return err
}

// MetadataPublisher writes status into the metadata of the VM it runs on.
type MetadataPublisher struct {
	api      InstanceAPI
	project  string
	zone     string
	instance string
}

// NewMetadataPublisher discovers project, zone and instance name from the
// metadata server and creates a Compute API client.
func NewMetadataPublisher(ctx context.Context, opts ...option.ClientOption) (*MetadataPublisher, error) {
	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}

	project, err := getMetadataField(ctx, "project/project-id")
	if err != nil {
		return nil, fmt.Errorf("failed to get project ID: %w", err)
	}
	zoneRaw, err := getMetadataField(ctx, "instance/zone")
	if err != nil {
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}
	instance, err := getMetadataField(ctx, "instance/name")
	if err != nil {
		return nil, fmt.Errorf("failed to get instance name: %w", err)
	}

	return NewMetadataPublisherWithAPI(&computeInstanceAPI{service: service}, project, zoneRaw, instance), nil
}

// NewMetadataPublisherWithAPI creates a publisher over an injected API. zone
// may be given in the "projects/P/zones/Z" form the metadata server returns.
func NewMetadataPublisherWithAPI(api InstanceAPI, project, zone, instance string) *MetadataPublisher {
	parts := strings.Split(zone, "/")
	return &MetadataPublisher{
		api:      api,
		project:  project,
		zone:     parts[len(parts)-1],
		instance: instance,
	}
}

// Publish upserts StatusKey. The instance is fetched first so the update
// carries the current fingerprint.
func (p *MetadataPublisher) Publish(ctx context.Context, status ControllerStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	inst, err := p.api.GetInstance(ctx, p.project, p.zone, p.instance)
	if err != nil {
		return fmt.Errorf("failed to get instance metadata: %w", err)
	}

	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	value := string(raw)

	metadata := inst.Metadata
	if metadata == nil {
		metadata = &compute.Metadata{}
	}
	found := false
	for _, item := range metadata.Items {
		if item.Key == StatusKey {
			item.Value = &value
			found = true
			break
		}
	}
	if !found {
		metadata.Items = append(metadata.Items, &compute.MetadataItems{Key: StatusKey, Value: &value})
	}

	if err := p.api.SetMetadata(ctx, p.project, p.zone, p.instance, metadata); err != nil {
		return fmt.Errorf("failed to set instance metadata: %w", err)
	}
	return nil
}

// Close is a no-op; the compute service holds no connections to release.
func (p *MetadataPublisher) Close() error {
	return nil
}

var _ StatusPublisher = (*MetadataPublisher)(nil)
