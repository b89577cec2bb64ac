package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regbroker/internal/domain"
	"regbroker/internal/schema"
)

type fakeDiscovery struct {
	registerErr   error
	deregistered  []string
	tagsByService map[string][]string
}

func (f *fakeDiscovery) Register(ctx context.Context, req domain.RegisterRequest, serviceID string) error {
	return f.registerErr
}

func (f *fakeDiscovery) Deregister(ctx context.Context, serviceID string) bool {
	f.deregistered = append(f.deregistered, serviceID)
	return true
}

func (f *fakeDiscovery) FindTags(ctx context.Context, name, serviceID string) ([]string, bool) {
	tags, ok := f.tagsByService[serviceID]
	return tags, ok
}

type fakeHealth struct{ healthy bool }

func (f *fakeHealth) WaitForHealthy(ctx context.Context, serviceName, serviceID string) bool {
	return f.healthy
}

type fakeCallback struct {
	meta domain.ServiceRegistrationMetadata
	err  error
}

func (f *fakeCallback) FetchModuleMetadata(ctx context.Context, moduleName string) (domain.ServiceRegistrationMetadata, error) {
	return f.meta, f.err
}

type fakeMetadataRepo struct {
	registerErr error
	deleted     []string

	synced           []string
	syncedArtifactID string
	syncedGlobalID   int64
	failed           []string
	failedDetail     string
}

func (f *fakeMetadataRepo) RegisterModule(ctx context.Context, name, host string, port int, version string, meta map[string]string, configSchemaJSON string) (domain.ModuleRow, error) {
	if f.registerErr != nil {
		return domain.ModuleRow{}, f.registerErr
	}
	return domain.ModuleRow{
		ServiceID:      domain.ServiceID(name, host, port),
		ServiceName:    name,
		ConfigSchemaID: domain.SchemaID(name, version),
	}, nil
}

func (f *fakeMetadataRepo) DeleteModule(ctx context.Context, serviceID string) error {
	f.deleted = append(f.deleted, serviceID)
	return nil
}

func (f *fakeMetadataRepo) MarkSchemaSynced(ctx context.Context, schemaID, artifactID string, globalID int64) error {
	f.synced = append(f.synced, schemaID)
	f.syncedArtifactID = artifactID
	f.syncedGlobalID = globalID
	return nil
}

func (f *fakeMetadataRepo) MarkSchemaFailed(ctx context.Context, schemaID, syncErr string) error {
	f.failed = append(f.failed, schemaID)
	f.failedDetail = syncErr
	return nil
}

type fakeArchive struct {
	err   error
	calls int
}

func (f *fakeArchive) CreateOrUpdateWithArtifactBase(ctx context.Context, base, version, jsonSchema string) (schema.CreateOrUpdateResult, error) {
	f.calls++
	if f.err != nil {
		return schema.CreateOrUpdateResult{}, f.err
	}
	return schema.CreateOrUpdateResult{ArtifactID: base + "-config-v" + version}, nil
}

type fakeEvents struct {
	serviceRegistered   int
	moduleRegistered    int
	serviceUnregistered int
	moduleUnregistered  int
}

func (f *fakeEvents) EmitServiceRegistered(ctx context.Context, req domain.RegisterRequest, serviceID string) {
	f.serviceRegistered++
}
func (f *fakeEvents) EmitModuleRegistered(ctx context.Context, req domain.RegisterRequest, serviceID string) {
	f.moduleRegistered++
}
func (f *fakeEvents) EmitServiceUnregistered(ctx context.Context, serviceID, name, host string, port int) {
	f.serviceUnregistered++
}
func (f *fakeEvents) EmitModuleUnregistered(ctx context.Context, serviceID, name, host string, port int) {
	f.moduleUnregistered++
}

func drain(ch <-chan domain.RegistrationEvent) []domain.RegistrationEvent {
	var out []domain.RegistrationEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []domain.RegistrationEvent) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

func serviceRequest() domain.RegisterRequest {
	return domain.RegisterRequest{
		Name: "ingest-api",
		Kind: domain.RegistrantService,
		Connectivity: domain.Connectivity{
			AdvertisedHost: "10.0.0.5",
			AdvertisedPort: 9000,
		},
		Version: "1.0.0",
	}
}

func moduleRequest() domain.RegisterRequest {
	req := serviceRequest()
	req.Name = "pdf-extract"
	req.Kind = domain.RegistrantModule
	req.Version = "2.1.0"
	return req
}

func TestRegister_ServiceHappyPath(t *testing.T) {
	events := &fakeEvents{}
	c := New(&fakeDiscovery{}, &fakeHealth{healthy: true}, &fakeCallback{}, &fakeMetadataRepo{}, &fakeArchive{}, events)

	got := drain(c.Register(context.Background(), serviceRequest()))
	types := eventTypes(got)

	assert.Equal(t, []domain.EventType{
		domain.EventStarted, domain.EventValidated, domain.EventConsulRegistered,
		domain.EventHealthCheckConfigured, domain.EventConsulHealthy, domain.EventCompleted,
	}, types)
	assert.Equal(t, 1, events.serviceRegistered)
}

func TestRegister_ModuleHappyPath(t *testing.T) {
	events := &fakeEvents{}
	archive := &fakeArchive{}
	metadataRepo := &fakeMetadataRepo{}
	c := New(&fakeDiscovery{}, &fakeHealth{healthy: true},
		&fakeCallback{meta: domain.ServiceRegistrationMetadata{JSONConfigSchema: `{"x":1}`}},
		metadataRepo, archive, events)

	got := drain(c.Register(context.Background(), moduleRequest()))
	types := eventTypes(got)

	assert.Equal(t, []domain.EventType{
		domain.EventStarted, domain.EventValidated, domain.EventConsulRegistered,
		domain.EventHealthCheckConfigured, domain.EventConsulHealthy,
		domain.EventMetadataRetrieved, domain.EventSchemaValidated,
		domain.EventDatabaseSaved, domain.EventApicurioRegistered, domain.EventCompleted,
	}, types)
	assert.Equal(t, 1, events.moduleRegistered)
	assert.Equal(t, 1, archive.calls)

	wantSchemaID := domain.SchemaID("pdf-extract", "2.1.0")
	require.Equal(t, []string{wantSchemaID}, metadataRepo.synced)
	assert.Equal(t, "pdf-extract-config-v2.1.0", metadataRepo.syncedArtifactID)
	assert.Empty(t, metadataRepo.failed)
}

func TestRegister_MissingFieldsFailsWithoutTouchingCollaborators(t *testing.T) {
	discovery := &fakeDiscovery{}
	c := New(discovery, &fakeHealth{healthy: true}, &fakeCallback{}, &fakeMetadataRepo{}, &fakeArchive{}, &fakeEvents{})

	req := domain.RegisterRequest{Name: "", Kind: domain.RegistrantService}
	got := drain(c.Register(context.Background(), req))

	require.Len(t, got, 2)
	assert.Equal(t, domain.EventStarted, got[0].EventType)
	assert.Equal(t, domain.EventFailed, got[1].EventType)
	assert.Equal(t, "Missing required fields", got[1].ErrorDetail)
	assert.Empty(t, discovery.deregistered)
}

func TestRegister_HealthTimeoutRollsBackDiscoveryRegistration(t *testing.T) {
	discovery := &fakeDiscovery{}
	c := New(discovery, &fakeHealth{healthy: false}, &fakeCallback{}, &fakeMetadataRepo{}, &fakeArchive{}, &fakeEvents{})

	got := drain(c.Register(context.Background(), serviceRequest()))
	last := got[len(got)-1]

	assert.Equal(t, domain.EventFailed, last.EventType)
	assert.Equal(t, []string{"ingest-api-10.0.0.5-9000"}, discovery.deregistered)
}

func TestRegister_ModuleCallbackFailureRollsBackDiscovery(t *testing.T) {
	discovery := &fakeDiscovery{}
	c := New(discovery, &fakeHealth{healthy: true}, &fakeCallback{err: errors.New("unreachable")},
		&fakeMetadataRepo{}, &fakeArchive{}, &fakeEvents{})

	got := drain(c.Register(context.Background(), moduleRequest()))
	last := got[len(got)-1]

	assert.Equal(t, domain.EventFailed, last.EventType)
	assert.Len(t, discovery.deregistered, 1)
}

func TestRegister_PersistenceFailureRollsBackDiscoveryAndNotMetadata(t *testing.T) {
	discovery := &fakeDiscovery{}
	metadataRepo := &fakeMetadataRepo{registerErr: errors.New("unique violation")}
	c := New(discovery, &fakeHealth{healthy: true}, &fakeCallback{}, metadataRepo, &fakeArchive{}, &fakeEvents{})

	got := drain(c.Register(context.Background(), moduleRequest()))
	last := got[len(got)-1]

	assert.Equal(t, domain.EventFailed, last.EventType)
	assert.Len(t, discovery.deregistered, 1)
	assert.Empty(t, metadataRepo.deleted)
}

func TestRegister_ModuleArchiveFailureIsNonFatalAndReusesSchemaValidated(t *testing.T) {
	events := &fakeEvents{}
	archive := &fakeArchive{err: errors.New("archive down")}
	metadataRepo := &fakeMetadataRepo{}
	c := New(&fakeDiscovery{}, &fakeHealth{healthy: true}, &fakeCallback{}, metadataRepo, archive, events)

	got := drain(c.Register(context.Background(), moduleRequest()))
	types := eventTypes(got)

	schemaValidatedCount := 0
	for _, et := range types {
		if et == domain.EventSchemaValidated {
			schemaValidatedCount++
		}
	}
	assert.Equal(t, 2, schemaValidatedCount)
	assert.Equal(t, domain.EventCompleted, types[len(types)-1])
	assert.Equal(t, 1, events.moduleRegistered)

	wantSchemaID := domain.SchemaID("pdf-extract", "2.1.0")
	require.Equal(t, []string{wantSchemaID}, metadataRepo.failed)
	assert.Equal(t, "archive down", metadataRepo.failedDetail)
	assert.Empty(t, metadataRepo.synced)
}

func TestUnregister_EmitsModuleEventWhenModuleTagPresent(t *testing.T) {
	discovery := &fakeDiscovery{tagsByService: map[string][]string{
		"pdf-extract-10.0.0.5-9000": {"module"},
	}}
	events := &fakeEvents{}
	c := New(discovery, &fakeHealth{}, &fakeCallback{}, &fakeMetadataRepo{}, &fakeArchive{}, events)

	resp := c.Unregister(context.Background(), domain.UnregisterRequest{Name: "pdf-extract", Host: "10.0.0.5", Port: 9000})

	assert.True(t, resp.Success)
	assert.Equal(t, 1, events.moduleUnregistered)
	assert.Equal(t, 0, events.serviceUnregistered)
	assert.WithinDuration(t, time.Now(), resp.Timestamp, time.Second)
}

func TestUnregister_EmitsServiceEventWhenNoModuleTag(t *testing.T) {
	discovery := &fakeDiscovery{tagsByService: map[string][]string{
		"ingest-api-10.0.0.5-9000": {},
	}}
	events := &fakeEvents{}
	c := New(discovery, &fakeHealth{}, &fakeCallback{}, &fakeMetadataRepo{}, &fakeArchive{}, events)

	resp := c.Unregister(context.Background(), domain.UnregisterRequest{Name: "ingest-api", Host: "10.0.0.5", Port: 9000})

	assert.True(t, resp.Success)
	assert.Equal(t, 1, events.serviceUnregistered)
}
