// Package storage is a thin HTTP client for the object store. Uploads,
// downloads, and deletes all go through the shared retry combinator with a
// connection/status-class predicate; public URL issuance is local.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/retry"
	"github.com/rs/zerolog"
)

// Client is the narrow read/write/delete contract the pipeline components
// depend on. The concrete Store talks to a Supabase-compatible storage API.
type Client interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) error
	Download(ctx context.Context, objectPath string) ([]byte, error)
	Delete(ctx context.Context, objectPath string) error
	PublicURL(objectPath string) string
}

type Store struct {
	url        string
	serviceKey string
	bucket     string
	client     *http.Client
	policy     retry.Policy
	log        zerolog.Logger
}

var _ Client = (*Store)(nil)

func New(url, serviceKey, bucket string, timeout time.Duration, log zerolog.Logger) *Store {
	return &Store{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: retry.DefaultPolicy(),
		log:    log.With().Str("component", "storage").Logger(),
	}
}

// Upload writes an object with upsert semantics and retries transient
// failures with backoff.
func (s *Store) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.bucket, objectPath)

	return retry.Do(ctx, s.policy, "storage upload "+objectPath, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create upload request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			return &faults.ProviderError{Provider: "storage", Kind: faults.KindConnection, Err: err}
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			s.log.Debug().Str("path", objectPath).Int("bytes", len(data)).Msg("uploaded object")
			return nil
		}
		return statusError("storage", resp.StatusCode, body)
	})
}

func (s *Store) Download(ctx context.Context, objectPath string) ([]byte, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.bucket, objectPath)

	var data []byte
	err := retry.Do(ctx, s.policy, "storage download "+objectPath, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create download request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return &faults.ProviderError{Provider: "storage", Kind: faults.KindConnection, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return statusError("storage", resp.StatusCode, body)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return &faults.ProviderError{Provider: "storage", Kind: faults.KindConnection, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes an object. A 404 counts as success so cleanup sweeps are
// idempotent.
func (s *Store) Delete(ctx context.Context, objectPath string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.bucket, objectPath)

	return retry.Do(ctx, s.policy, "storage delete "+objectPath, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create delete request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return &faults.ProviderError{Provider: "storage", Kind: faults.KindConnection, Err: err}
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
			s.log.Debug().Str("path", objectPath).Msg("deleted object")
			return nil
		}
		return statusError("storage", resp.StatusCode, body)
	})
}

// PublicURL returns the public URL for an object.
func (s *Store) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.bucket, objectPath)
}

// ObjectPathFromURL inverts PublicURL so cleanup entries, which record
// public URLs, can be mapped back to a deletable object path.
func (s *Store) ObjectPathFromURL(publicURL string) (string, error) {
	prefix := fmt.Sprintf("%s/storage/v1/object/public/%s/", s.url, s.bucket)
	if !strings.HasPrefix(publicURL, prefix) {
		return "", fmt.Errorf("url %q does not belong to bucket %q", publicURL, s.bucket)
	}
	return strings.TrimPrefix(publicURL, prefix), nil
}

// SignedURL creates a time-limited access URL.
func (s *Store) SignedURL(ctx context.Context, objectPath string, expiresIn time.Duration) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.bucket, objectPath)

	reqBody := fmt.Sprintf(`{"expiresIn": %d}`, int(expiresIn.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create sign request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &faults.ProviderError{Provider: "storage", Kind: faults.KindConnection, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", statusError("storage", resp.StatusCode, body)
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}
	return s.url + result.SignedURL, nil
}

// ScenePath builds the deterministic object path for a staged scene asset:
// {projectId}_scene_{index}_{kind}.{ext}, namespaced under the project.
func ScenePath(projectID string, sceneIndex int, kind, ext string) string {
	return path.Join(projectID, fmt.Sprintf("%s_scene_%d_%s.%s", projectID, sceneIndex, kind, ext))
}

// FinalPath builds the object path for a final artifact.
func FinalPath(projectID, suffix string) string {
	return path.Join(projectID, fmt.Sprintf("%s_final%s.mp4", projectID, suffix))
}

func statusError(provider string, status int, body []byte) error {
	return faults.FromHTTPStatus(provider, status, truncate(string(body), 200))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
