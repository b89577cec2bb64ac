package schema

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regbroker/internal/apperror"
	"regbroker/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(config.SchemaArchiveConfig{BaseURL: server.URL, Timeout: 2 * time.Second})
}

func TestDefaultArtifactID_SanitizesAndDefaultsVersion(t *testing.T) {
	assert.Equal(t, "pdf-extract-config-v2_1_0", defaultArtifactID("pdf-extract", "2.1.0"))
	assert.Equal(t, "pdf-extract-config-v1", defaultArtifactID("pdf-extract", ""))
}

func TestCreateOrUpdate_ReturnsArtifactIdentity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/artifacts/pdf-extract-config-v2_1_0", r.URL.Path)
		w.Write([]byte(`{"id":"pdf-extract-config-v2_1_0","version":"2.1.0","globalId":42}`))
	})

	result, err := client.CreateOrUpdate(context.Background(), "pdf-extract", "2.1.0", `{"type":"object"}`)
	require.NoError(t, err)
	assert.Equal(t, "pdf-extract-config-v2_1_0", result.ArtifactID)
	assert.Equal(t, int64(42), result.GlobalID)
}

func TestCreateOrUpdateWithArtifactBase_UsesExplicitBase(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"id":"pdf-extract-http-config-v1_0_0","globalId":7}`))
	})

	_, err := client.CreateOrUpdateWithArtifactBase(context.Background(), "pdf-extract-http", "1.0.0", `{}`)
	require.NoError(t, err)
	assert.Equal(t, "/artifacts/pdf-extract-http-config-v1_0_0", gotPath)
}

func TestGetSchemaByArtifactID_NotFoundSurfacesArchiveError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetSchemaByArtifactID(context.Background(), "missing-artifact", "1.0.0")
	require.Error(t, err)
	var archiveErr *ArchiveError
	require.ErrorAs(t, err, &archiveErr)
	assert.Equal(t, "missing-artifact", archiveErr.ArtifactID)
	assert.Equal(t, apperror.CodeArchiveNotFound, apperror.Code(archiveErr.Cause))
}

func TestGetArtifactMetadata_AbsentIsNotAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	meta, found, err := client.GetArtifactMetadata(context.Background(), "pdf-extract")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, ArtifactMetadata{}, meta)
}

func TestIsHealthy_ReflectsServerStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	assert.True(t, client.IsHealthy(context.Background()))
}
