package domain

import "time"

// EventType enumerates the registration stream's ordered state machine
// (spec §4.1/§6). The member names are part of the stable wire contract and
// must be preserved verbatim.
type EventType string

const (
	EventStarted                EventType = "STARTED"
	EventValidated               EventType = "VALIDATED"
	EventConsulRegistered         EventType = "CONSUL_REGISTERED"
	EventHealthCheckConfigured    EventType = "HEALTH_CHECK_CONFIGURED"
	EventConsulHealthy            EventType = "CONSUL_HEALTHY"
	EventMetadataRetrieved        EventType = "METADATA_RETRIEVED"
	EventSchemaValidated          EventType = "SCHEMA_VALIDATED"
	EventDatabaseSaved            EventType = "DATABASE_SAVED"
	EventApicurioRegistered       EventType = "APICURIO_REGISTERED"
	EventCompleted                EventType = "COMPLETED"
	EventFailed                   EventType = "FAILED"
)

// RegistrationEvent is one element of the Register response stream.
type RegistrationEvent struct {
	EventType   EventType
	Message     string
	ServiceID   string
	ErrorDetail string
	Timestamp   time.Time
}

// UnregisterRequest identifies the instance to remove, the same triple that
// derives its service id.
type UnregisterRequest struct {
	Name string
	Host string
	Port int
}

// UnregisterResponse is the RPC's reply.
type UnregisterResponse struct {
	Success   bool
	Message   string
	Timestamp time.Time
}
