package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"regbroker/internal/apperror"
	"regbroker/internal/config"
	"regbroker/internal/domain"
	"regbroker/internal/telemetry"
)

// Client is C6's HTTP gateway to the schema archive.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client from cfg.
func New(cfg config.SchemaArchiveConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// defaultArtifactID derives the artifact id for create_or_update (spec §4.6):
// "{base}-config-v{sanitized_version}", where sanitization replaces '.' with
// '_' and a blank version contributes "1" (so the family stays "v<digits>").
func defaultArtifactID(base, version string) string {
	sanitized := "1"
	if version != "" {
		sanitized = domain.SanitizeVersion(version)
	}
	return fmt.Sprintf("%s-config-v%s", base, sanitized)
}

// CreateOrUpdate derives the artifact id from the module's own service name.
func (c *Client) CreateOrUpdate(ctx context.Context, serviceName, version, jsonSchema string) (CreateOrUpdateResult, error) {
	artifactID := defaultArtifactID(serviceName, version)
	return c.CreateOrUpdateWithArtifactID(ctx, artifactID, version, jsonSchema, serviceName)
}

// CreateOrUpdateWithArtifactBase derives the artifact id from an explicit
// base instead of the service name — used by the HTTP-schema path where
// base = "{name}-http" (spec §4.1).
func (c *Client) CreateOrUpdateWithArtifactBase(ctx context.Context, base, version, jsonSchema string) (CreateOrUpdateResult, error) {
	artifactID := defaultArtifactID(base, version)
	return c.CreateOrUpdateWithArtifactID(ctx, artifactID, version, jsonSchema, "")
}

// CreateOrUpdateWithArtifactID lets the caller fully own the artifact id.
func (c *Client) CreateOrUpdateWithArtifactID(ctx context.Context, artifactID, version, jsonSchema, serviceName string) (CreateOrUpdateResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "schema.CreateOrUpdate")
	defer span.End()

	endpoint := fmt.Sprintf("%s/artifacts/%s", c.baseURL, artifactID)

	var result struct {
		ID      string `json:"id"`
		Version string `json:"version"`
		GlobalID int64 `json:"globalId"`
	}
	err := c.doRetryable(ctx, http.MethodPost, endpoint, strings.NewReader(jsonSchema), &result)
	if err != nil {
		telemetry.SetError(ctx, err)
		return CreateOrUpdateResult{}, &ArchiveError{ServiceName: serviceName, ArtifactID: artifactID, Cause: err}
	}

	out := CreateOrUpdateResult{ArtifactID: result.ID, GlobalID: result.GlobalID, Version: result.Version}
	if out.ArtifactID == "" {
		out.ArtifactID = artifactID
	}
	if out.Version == "" {
		out.Version = version
	}
	return out, nil
}

// GetSchemaByName resolves an artifact through the same derivation
// CreateOrUpdate uses; version may be a concrete version string or "latest".
func (c *Client) GetSchemaByName(ctx context.Context, serviceName, version string) (string, error) {
	artifactID := defaultArtifactID(serviceName, version)
	return c.GetSchemaByArtifactID(ctx, artifactID, version)
}

// GetSchemaByArtifactID bypasses the name-based derivation entirely.
func (c *Client) GetSchemaByArtifactID(ctx context.Context, artifactID, version string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "schema.GetSchemaByArtifactID")
	defer span.End()

	v := version
	if v == "" {
		v = "latest"
	}
	endpoint := fmt.Sprintf("%s/artifacts/%s/versions/%s", c.baseURL, artifactID, v)

	var raw json.RawMessage
	if err := c.doRetryable(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		telemetry.SetError(ctx, err)
		if apperror.Code(err) == apperror.CodeArchiveNotFound {
			return "", &ArchiveError{ArtifactID: artifactID, Cause: err}
		}
		return "", &ArchiveError{ArtifactID: artifactID, Cause: err}
	}
	return string(raw), nil
}

// GetArtifactMetadata fetches the registry's descriptive record for the
// artifact family belonging to serviceName. Absence is reported as a zero
// value, not an error, per spec §4.6.
func (c *Client) GetArtifactMetadata(ctx context.Context, serviceName string) (ArtifactMetadata, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "schema.GetArtifactMetadata")
	defer span.End()

	artifactID := defaultArtifactID(serviceName, "")
	endpoint := fmt.Sprintf("%s/artifacts/%s/meta", c.baseURL, artifactID)

	var meta struct {
		ID          string `json:"id"`
		GlobalID    int64  `json:"globalId"`
		Name        string `json:"name"`
		CreatedOn   string `json:"createdOn"`
		ModifiedOn  string `json:"modifiedOn"`
		ContentType string `json:"contentType"`
	}
	err := c.doRetryable(ctx, http.MethodGet, endpoint, nil, &meta)
	if err != nil {
		if apperror.Code(err) == apperror.CodeArchiveNotFound {
			return ArtifactMetadata{}, false, nil
		}
		telemetry.SetError(ctx, err)
		return ArtifactMetadata{}, false, &ArchiveError{ServiceName: serviceName, ArtifactID: artifactID, Cause: err}
	}
	return ArtifactMetadata{
		ArtifactID:  meta.ID,
		GlobalID:    meta.GlobalID,
		Name:        meta.Name,
		CreatedOn:   meta.CreatedOn,
		ModifiedOn:  meta.ModifiedOn,
		ContentType: meta.ContentType,
	}, true, nil
}

// ListVersions enumerates the version strings registered for serviceName's
// artifact family, newest first, used by get_module_schema_versions (spec §6).
func (c *Client) ListVersions(ctx context.Context, serviceName string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "schema.ListVersions")
	defer span.End()

	artifactID := defaultArtifactID(serviceName, "")
	endpoint := fmt.Sprintf("%s/artifacts/%s/versions", c.baseURL, artifactID)

	var page struct {
		Versions []struct {
			Version string `json:"version"`
		} `json:"versions"`
	}
	err := c.doRetryable(ctx, http.MethodGet, endpoint, nil, &page)
	if err != nil {
		if apperror.Code(err) == apperror.CodeArchiveNotFound {
			return nil, nil
		}
		telemetry.SetError(ctx, err)
		return nil, &ArchiveError{ServiceName: serviceName, ArtifactID: artifactID, Cause: err}
	}

	versions := make([]string, len(page.Versions))
	for i, v := range page.Versions {
		versions[i] = v.Version
	}
	return versions, nil
}

// IsHealthy reports whether the archive's own health endpoint responds ok.
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// doRetryable issues an HTTP request with up to 3 retries on transient
// (5xx/transport) failures, backing off exponentially starting at 50ms.
func (c *Client) doRetryable(ctx context.Context, method, url string, body io.Reader, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return apperror.Wrap(err, apperror.CodeArchiveUnavailable, "failed to buffer request body")
		}
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))

	var resultBody []byte
	var statusCode int
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = strings.NewReader(string(bodyBytes))
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		resultBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("schema archive returned status %d", resp.StatusCode))
		}
		return nil
	})
	if err != nil {
		return apperror.Wrap(err, apperror.CodeArchiveUnavailable, "schema archive request failed")
	}

	switch {
	case statusCode == http.StatusNotFound:
		return apperror.New(apperror.CodeArchiveNotFound, "artifact not found")
	case statusCode == http.StatusConflict:
		return apperror.New(apperror.CodeArchiveRejected, "artifact conflict")
	case statusCode >= 400:
		return apperror.New(apperror.CodeArchiveRejected, fmt.Sprintf("schema archive rejected request with status %d", statusCode))
	}

	if out != nil && len(resultBody) > 0 {
		if err := json.Unmarshal(resultBody, out); err != nil {
			return apperror.Wrap(err, apperror.CodeArchiveUnavailable, "failed to decode schema archive response")
		}
	}
	return nil
}
