package gcp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/payintents-backend/pkg/config"
)

func TestProject(t *testing.T) {
	id, err := Project(config.GCPConfig{ProjectID: " pi-dev "})
	require.NoError(t, err)
	assert.Equal(t, "pi-dev", id)

	_, err = Project(config.GCPConfig{ProjectID: "  "})
	assert.ErrorIs(t, err, ErrProjectIDRequired)
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, ClientOptions(config.GCPConfig{
		CredentialsJSON:        `{"type":"service_account"}`,
		ApplicationCredentials: "/tmp/creds.json",
	}), 1)
	assert.Len(t, ClientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds.json"}), 1)
	assert.Empty(t, ClientOptions(config.GCPConfig{}))
}

func TestNotFound(t *testing.T) {
	assert.True(t, NotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.True(t, NotFound(fmt.Errorf("dataset: %w", &googleapi.Error{Code: http.StatusNotFound})))
	assert.True(t, NotFound(status.Error(codes.NotFound, "topic")))
	assert.False(t, NotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, NotFound(status.Error(codes.PermissionDenied, "nope")))
	assert.False(t, NotFound(errors.New("boom")))
	assert.False(t, NotFound(nil))
}
