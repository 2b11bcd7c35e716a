package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

const metadataRoot = "http://metadata.google.internal/computeMetadata/v1/"

// ErrNoCredential is returned by Resolve when no source yields a value.
var ErrNoCredential = errors.New("no credential source configured")

// SecretFetcher defines the interface for fetching secrets
type SecretFetcher interface {
	FetchSecret(ctx context.Context, secretPath string) (string, error)
	Close() error
}

// SecretManagerClient wraps the GCP Secret Manager client
type SecretManagerClient struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretManagerClient creates a new Secret Manager client
func NewSecretManagerClient(ctx context.Context, opts ...option.ClientOption) (*SecretManagerClient, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	projectID, err := getProjectID(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to get project ID: %w", err)
	}

	return &SecretManagerClient{
		client:    client,
		projectID: projectID,
	}, nil
}

// FetchSecret reads the payload of a secret version. secretPath may be a
// full version name, a secret name under projects/, or a bare secret name
// resolved against the client's project; the latter two read "latest".
func (c *SecretManagerClient) FetchSecret(ctx context.Context, secretPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := c.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: normalizeSecretPath(c.projectID, secretPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}

	return strings.TrimSpace(string(result.Payload.Data)), nil
}

// Close closes the Secret Manager client
func (c *SecretManagerClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func normalizeSecretPath(projectID, secretPath string) string {
	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/versions/") {
		return secretPath
	}
	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/secrets/") {
		return secretPath + "/versions/latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, path.Base(secretPath))
}

// CredentialSource lists where a credential may come from. Sources are
// tried in order: environment variable, file, Secret Manager.
type CredentialSource struct {
	Env    string
	File   string
	Secret string
}

// Empty reports whether no source is configured at all.
func (s CredentialSource) Empty() bool {
	return s.Env == "" && s.File == "" && s.Secret == ""
}

// NeedsSecretManager reports whether resolving may reach Secret Manager.
func (s CredentialSource) NeedsSecretManager() bool {
	return s.Secret != ""
}

// Resolve returns the first non-empty value among the configured sources.
// fetcher may be nil when no Secret is configured.
func (s CredentialSource) Resolve(ctx context.Context, fetcher SecretFetcher) (string, error) {
	if s.Env != "" {
		if v := strings.TrimSpace(os.Getenv(s.Env)); v != "" {
			return v, nil
		}
	}

	if s.File != "" {
		data, err := os.ReadFile(s.File)
		if err != nil {
			return "", fmt.Errorf("failed to read credential file %s: %w", s.File, err)
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}

	if s.Secret != "" {
		if fetcher == nil {
			return "", fmt.Errorf("secret %s configured but no secret manager client", s.Secret)
		}
		v, err := fetcher.FetchSecret(ctx, s.Secret)
		if err != nil {
			return "", fmt.Errorf("failed to fetch secret %s: %w", s.Secret, err)
		}
		if v != "" {
			return v, nil
		}
	}

	return "", ErrNoCredential
}

// getProjectID retrieves the GCP project ID from environment variable or metadata server
func getProjectID(ctx context.Context) (string, error) {
	for _, name := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GCLOUD_PROJECT"} {
		if projectID := os.Getenv(name); projectID != "" {
			return projectID, nil
		}
	}
	return getMetadataField(ctx, "project/project-id")
}

// getMetadataField fetches one value from the metadata server, e.g.
// "instance/name" or "project/project-id".
func getMetadataField(ctx context.Context, field string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataRoot+field, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch metadata field %s: %w", field, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned status %d for field %s", resp.StatusCode, field)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata response: %w", err)
	}

	value := strings.TrimSpace(string(body))
	if value == "" {
		return "", fmt.Errorf("empty value for metadata field %s", field)
	}
	return value, nil
}
