// Package gcp holds the project and credential handling shared by the
// Pub/Sub and BigQuery clients.
package gcp

import (
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/payintents-backend/pkg/config"
)

var ErrProjectIDRequired = errors.New("gcp project id is required")

// Project returns the trimmed project id.
func Project(cfg config.GCPConfig) (string, error) {
	id := strings.TrimSpace(cfg.ProjectID)
	if id == "" {
		return "", ErrProjectIDRequired
	}
	return id, nil
}

// ClientOptions prefers inline JSON credentials over a credentials file.
// With neither set the client libraries fall back to application default
// credentials, or the emulator when its host variable is present.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))}
	case strings.TrimSpace(cfg.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(strings.TrimSpace(cfg.ApplicationCredentials))}
	}
	return nil
}

// NotFound reports a missing resource from either the REST or gRPC surface.
func NotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}
	return status.Code(err) == codes.NotFound
}
