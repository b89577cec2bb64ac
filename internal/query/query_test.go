package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regbroker/internal/apperror"
	"regbroker/internal/discovery"
	"regbroker/internal/domain"
	"regbroker/internal/schema"
)

type fakeDiscoveryReader struct {
	catalog   []discovery.CatalogService
	instances map[string][]discovery.ServiceEntry
	listErr   error
	instErr   map[string]error
}

func (f *fakeDiscoveryReader) ListCatalog(ctx context.Context) ([]discovery.CatalogService, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.catalog, nil
}

func (f *fakeDiscoveryReader) ListHealthyInstances(ctx context.Context, name string) ([]discovery.ServiceEntry, error) {
	if err, ok := f.instErr[name]; ok {
		return nil, err
	}
	return f.instances[name], nil
}

func serviceEntry(name, serviceID, host string, port int, tags []string, extraMeta map[string]string) discovery.ServiceEntry {
	meta := map[string]string{
		"advertised-host": host,
		"advertised-port": itoa(port),
		"version":         "1.0.0",
		"service-name":    name,
	}
	for k, v := range extraMeta {
		meta[k] = v
	}
	return discovery.ServiceEntry{
		ServiceID: serviceID,
		Name:      name,
		Address:   host,
		Port:      port,
		Tags:      tags,
		Meta:      meta,
		Healthy:   true,
	}
}

func itoa(n int) string {
	// avoids importing strconv twice across tiny helper files
	digits := []byte{}
	if n == 0 {
		return "0"
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestListServices_ExcludesModuleTaggedInstances(t *testing.T) {
	reader := &fakeDiscoveryReader{
		catalog: []discovery.CatalogService{{Name: "ingest-api"}, {Name: "pdf-extract"}},
		instances: map[string][]discovery.ServiceEntry{
			"ingest-api":  {serviceEntry("ingest-api", "ingest-api-10.0.0.5-9000", "10.0.0.5", 9000, nil, nil)},
			"pdf-extract": {serviceEntry("pdf-extract", "pdf-extract-10.0.0.6-9001", "10.0.0.6", 9001, []string{"module"}, nil)},
		},
	}
	s := New(reader, nil, nil, nil)

	snapshot, err := s.ListServices(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Entries, 1)
	assert.Equal(t, "ingest-api", snapshot.Entries[0].Name)
	assert.Equal(t, 1, snapshot.TotalCount)
	assert.WithinDuration(t, time.Now(), snapshot.AsOf, time.Second)
}

func TestListModules_OnlyModuleTaggedInstances(t *testing.T) {
	reader := &fakeDiscoveryReader{
		catalog: []discovery.CatalogService{{Name: "ingest-api"}, {Name: "pdf-extract"}},
		instances: map[string][]discovery.ServiceEntry{
			"ingest-api":  {serviceEntry("ingest-api", "ingest-api-10.0.0.5-9000", "10.0.0.5", 9000, nil, nil)},
			"pdf-extract": {serviceEntry("pdf-extract", "pdf-extract-10.0.0.6-9001", "10.0.0.6", 9001, []string{"module"}, nil)},
		},
	}
	s := New(reader, nil, nil, nil)

	snapshot, err := s.ListModules(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Entries, 1)
	assert.Equal(t, "pdf-extract", snapshot.Entries[0].Name)
}

func TestGetServiceByName_NotFoundWhenNoHealthyInstance(t *testing.T) {
	reader := &fakeDiscoveryReader{instances: map[string][]discovery.ServiceEntry{}}
	s := New(reader, nil, nil, nil)

	_, err := s.GetServiceByName(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.Code(err))
}

func TestGetServiceByID_ExtractsNameViaLastTwoDashes(t *testing.T) {
	reader := &fakeDiscoveryReader{
		instances: map[string][]discovery.ServiceEntry{
			"ingest-api": {serviceEntry("ingest-api", "ingest-api-10.0.0.5-9000", "10.0.0.5", 9000, nil, nil)},
		},
	}
	s := New(reader, nil, nil, nil)

	record, err := s.GetServiceByID(context.Background(), "ingest-api-10.0.0.5-9000")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", record.Host)
	assert.Equal(t, 9000, record.Port)
}

func TestGetModuleByID_FailsWhenMatchingInstanceIsNotAModule(t *testing.T) {
	reader := &fakeDiscoveryReader{
		instances: map[string][]discovery.ServiceEntry{
			"ingest-api": {serviceEntry("ingest-api", "ingest-api-10.0.0.5-9000", "10.0.0.5", 9000, nil, nil)},
		},
	}
	s := New(reader, nil, nil, nil)

	_, err := s.GetModuleByID(context.Background(), "ingest-api-10.0.0.5-9000")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.Code(err))
}

func TestResolve_FiltersByRequiredTagsAndCapabilities(t *testing.T) {
	reader := &fakeDiscoveryReader{
		instances: map[string][]discovery.ServiceEntry{
			"pdf-extract": {
				serviceEntry("pdf-extract", "pdf-extract-a", "10.0.0.1", 9001, []string{"module", "capability:ocr"}, nil),
				serviceEntry("pdf-extract", "pdf-extract-b", "10.0.0.2", 9002, []string{"module"}, nil),
			},
		},
	}
	s := New(reader, nil, nil, nil)

	resp, err := s.Resolve(context.Background(), ResolveRequest{Name: "pdf-extract", RequiredCapabilities: []string{"ocr"}})
	require.NoError(t, err)
	assert.True(t, resp.Found)
	assert.Equal(t, "pdf-extract-a", resp.ServiceID)
	assert.Equal(t, 2, resp.TotalInstances)
	assert.Equal(t, 2, resp.HealthyInstances)
}

func TestResolve_PrefersLocalInstanceWhenRequested(t *testing.T) {
	reader := &fakeDiscoveryReader{
		instances: map[string][]discovery.ServiceEntry{
			"ingest-api": {
				serviceEntry("ingest-api", "ingest-api-a", "10.0.0.1", 9000, nil, nil),
				serviceEntry("ingest-api", "ingest-api-b", "localhost", 9000, nil, nil),
			},
		},
	}
	s := New(reader, nil, nil, nil)

	resp, err := s.Resolve(context.Background(), ResolveRequest{Name: "ingest-api", PreferLocal: true})
	require.NoError(t, err)
	assert.Equal(t, "ingest-api-b", resp.ServiceID)
	assert.Equal(t, "preferred local instance", resp.SelectionReason)
}

func TestResolve_ReturnsNotFoundAsUnfoundResponse(t *testing.T) {
	reader := &fakeDiscoveryReader{instances: map[string][]discovery.ServiceEntry{}}
	s := New(reader, nil, nil, nil)

	resp, err := s.Resolve(context.Background(), ResolveRequest{Name: "missing"})
	require.NoError(t, err)
	assert.False(t, resp.Found)
}

func TestWatchServices_EmitsImmediateSnapshotThenStopsOnCancel(t *testing.T) {
	reader := &fakeDiscoveryReader{
		catalog:   []discovery.CatalogService{{Name: "ingest-api"}},
		instances: map[string][]discovery.ServiceEntry{"ingest-api": {serviceEntry("ingest-api", "ingest-api-a", "10.0.0.1", 9000, nil, nil)}},
	}
	s := New(reader, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	stream := s.WatchServices(ctx)
	first := <-stream
	assert.Equal(t, 1, first.TotalCount)

	cancel()
	for range stream {
	}
}

type fakeSchemaRepo struct {
	byID     map[string]domain.ConfigSchemaRow
	byName   map[string]domain.ConfigSchemaRow
}

func (f *fakeSchemaRepo) FindSchemaByID(ctx context.Context, schemaID string) (domain.ConfigSchemaRow, error) {
	row, ok := f.byID[schemaID]
	if !ok {
		return domain.ConfigSchemaRow{}, apperror.New(apperror.CodeMetadataNotFound, "not found")
	}
	return row, nil
}

func (f *fakeSchemaRepo) FindLatestSchemaByName(ctx context.Context, name string) (domain.ConfigSchemaRow, error) {
	row, ok := f.byName[name]
	if !ok {
		return domain.ConfigSchemaRow{}, apperror.New(apperror.CodeMetadataNotFound, "not found")
	}
	return row, nil
}

func (f *fakeSchemaRepo) ListSchemaVersionsByName(ctx context.Context, name string) ([]string, error) {
	row, ok := f.byName[name]
	if !ok {
		return nil, nil
	}
	return []string{row.SchemaVersion}, nil
}

type fakeSchemaArchiveReader struct {
	content string
	err     error
	meta    schema.ArtifactMetadata
	metaOk  bool
	metaErr error
}

func (f *fakeSchemaArchiveReader) GetSchemaByName(ctx context.Context, serviceName, version string) (string, error) {
	return f.content, f.err
}

func (f *fakeSchemaArchiveReader) GetArtifactMetadata(ctx context.Context, serviceName string) (schema.ArtifactMetadata, bool, error) {
	return f.meta, f.metaOk, f.metaErr
}

func (f *fakeSchemaArchiveReader) ListVersions(ctx context.Context, serviceName string) ([]string, error) {
	return nil, f.err
}

type fakeModuleCallback struct {
	meta domain.ServiceRegistrationMetadata
	err  error
}

func (f *fakeModuleCallback) FetchModuleMetadata(ctx context.Context, moduleName string) (domain.ServiceRegistrationMetadata, error) {
	return f.meta, f.err
}

func TestGetModuleSchema_Tier1MetadataRepositoryHit(t *testing.T) {
	repo := &fakeSchemaRepo{byName: map[string]domain.ConfigSchemaRow{
		"pdf-extract": {JSONSchema: `{"a":1}`, CreatedBy: "pdf-extract", SyncStatus: domain.SyncStatusSynced},
	}}
	s := New(nil, repo, &fakeSchemaArchiveReader{err: errors.New("should not be called")}, nil)

	result, err := s.GetModuleSchema(context.Background(), "pdf-extract", "")
	require.NoError(t, err)
	assert.Equal(t, "metadata_repository", result.Source)
	assert.Equal(t, domain.SyncStatusSynced, result.SyncStatus)
}

func TestGetModuleSchema_Tier2ArchiveHitPairsWithMetadata(t *testing.T) {
	repo := &fakeSchemaRepo{}
	archive := &fakeSchemaArchiveReader{content: `{"b":2}`, meta: schema.ArtifactMetadata{ArtifactID: "pdf-extract-config-v1"}, metaOk: true}
	s := New(nil, repo, archive, nil)

	result, err := s.GetModuleSchema(context.Background(), "pdf-extract", "")
	require.NoError(t, err)
	assert.Equal(t, "schema_archive", result.Source)
	assert.Equal(t, "pdf-extract-config-v1", result.ArtifactID)
}

func TestGetModuleSchema_Tier2ArchiveHitSurvivesMetadataLookupFailure(t *testing.T) {
	repo := &fakeSchemaRepo{}
	archive := &fakeSchemaArchiveReader{content: `{"b":2}`, metaErr: errors.New("metadata endpoint down")}
	s := New(nil, repo, archive, nil)

	result, err := s.GetModuleSchema(context.Background(), "pdf-extract", "")
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, result.JSONSchema)
	assert.Empty(t, result.ArtifactID)
}

func TestGetModuleSchema_Tier3CallbackFallsBackToSynthesizedSchema(t *testing.T) {
	repo := &fakeSchemaRepo{}
	archive := &fakeSchemaArchiveReader{err: errors.New("not found")}
	callback := &fakeModuleCallback{meta: domain.ServiceRegistrationMetadata{ModuleName: "pdf-extract"}}
	s := New(nil, repo, archive, callback)

	result, err := s.GetModuleSchema(context.Background(), "pdf-extract", "")
	require.NoError(t, err)
	assert.Equal(t, "module_callback", result.Source)
	assert.Contains(t, result.JSONSchema, "openapi")
	assert.Contains(t, result.JSONSchema, "pdf-extract Configuration")
}

func TestGetModuleSchema_AllTiersMissSurfacesNotFound(t *testing.T) {
	repo := &fakeSchemaRepo{}
	archive := &fakeSchemaArchiveReader{err: errors.New("not found")}
	callback := &fakeModuleCallback{err: errors.New("module unreachable")}
	s := New(nil, repo, archive, callback)

	_, err := s.GetModuleSchema(context.Background(), "pdf-extract", "")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.Code(err))
	assert.Contains(t, err.Error(), "Module schema not found: pdf-extract")
	require.NotNil(t, errors.Unwrap(err))
	assert.Contains(t, errors.Unwrap(err).Error(), "module unreachable")
}
