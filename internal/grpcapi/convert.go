package grpcapi

import (
	"regbroker/internal/domain"
	"regbroker/internal/query"
)

func toDomainConnectivity(c Connectivity) domain.Connectivity {
	return domain.Connectivity{
		AdvertisedHost: c.AdvertisedHost,
		AdvertisedPort: c.AdvertisedPort,
		InternalHost:   c.InternalHost,
		InternalPort:   c.InternalPort,
		TLSEnabled:     c.TLSEnabled,
	}
}

func toDomainHTTPEndpoints(eps []HTTPEndpoint) []domain.HTTPEndpoint {
	if eps == nil {
		return nil
	}
	out := make([]domain.HTTPEndpoint, len(eps))
	for i, e := range eps {
		out[i] = domain.HTTPEndpoint{
			Scheme:     e.Scheme,
			Host:       e.Host,
			Port:       e.Port,
			BasePath:   e.BasePath,
			HealthPath: e.HealthPath,
			TLSEnabled: e.TLSEnabled,
		}
	}
	return out
}

func toWireHTTPEndpoints(eps []domain.HTTPEndpoint) []HTTPEndpoint {
	if eps == nil {
		return nil
	}
	out := make([]HTTPEndpoint, len(eps))
	for i, e := range eps {
		out[i] = HTTPEndpoint{
			Scheme:     e.Scheme,
			Host:       e.Host,
			Port:       e.Port,
			BasePath:   e.BasePath,
			HealthPath: e.HealthPath,
			TLSEnabled: e.TLSEnabled,
		}
	}
	return out
}

func toDomainRegistrantKind(kind string) domain.RegistrantKind {
	switch kind {
	case "SERVICE":
		return domain.RegistrantService
	case "MODULE":
		return domain.RegistrantModule
	default:
		return domain.RegistrantUnspecified
	}
}

func toDomainRegisterRequest(req *RegisterRequest) domain.RegisterRequest {
	return domain.RegisterRequest{
		Name:                 req.Name,
		Kind:                 toDomainRegistrantKind(req.Kind),
		Connectivity:         toDomainConnectivity(req.Connectivity),
		Version:              req.Version,
		Metadata:             req.Metadata,
		Tags:                 req.Tags,
		Capabilities:         req.Capabilities,
		HTTPEndpoints:        toDomainHTTPEndpoints(req.HTTPEndpoints),
		HTTPSchema:           req.HTTPSchema,
		HTTPSchemaArtifactID: req.HTTPSchemaArtifactID,
		HTTPSchemaVersion:    req.HTTPSchemaVersion,
	}
}

func toWireRegisterResponse(evt domain.RegistrationEvent) *RegisterResponse {
	return &RegisterResponse{
		EventType:   string(evt.EventType),
		Message:     evt.Message,
		ServiceID:   evt.ServiceID,
		ErrorDetail: evt.ErrorDetail,
		Timestamp:   evt.Timestamp,
	}
}

func toDomainUnregisterRequest(req *UnregisterRequest) domain.UnregisterRequest {
	return domain.UnregisterRequest{Name: req.Name, Host: req.Host, Port: req.Port}
}

func toWireUnregisterResponse(resp domain.UnregisterResponse) *UnregisterResponse {
	return &UnregisterResponse{
		Success:   resp.Success,
		Message:   resp.Message,
		Timestamp: resp.Timestamp,
	}
}

func toWireInstance(rec query.InstanceRecord) ServiceInstance {
	return ServiceInstance{
		ServiceID:            rec.ServiceID,
		Name:                 rec.Name,
		Host:                 rec.Host,
		Port:                 rec.Port,
		Version:              rec.Version,
		Tags:                 rec.Tags,
		Capabilities:         rec.Capabilities,
		HTTPEndpoints:        toWireHTTPEndpoints(rec.HTTPEndpoints),
		HTTPSchemaArtifactID: rec.HTTPSchemaArtifactID,
		HTTPSchemaVersion:    rec.HTTPSchemaVersion,
		Metadata:             rec.Metadata,
		IsModule:             rec.IsModule,
	}
}

func toWireInstances(recs []query.InstanceRecord) []ServiceInstance {
	out := make([]ServiceInstance, len(recs))
	for i, r := range recs {
		out[i] = toWireInstance(r)
	}
	return out
}

func toWireResolveResponse(resp query.ResolveResponse) *ResolveServiceResponse {
	return &ResolveServiceResponse{
		Found:                resp.Found,
		Host:                 resp.Host,
		Port:                 resp.Port,
		ServiceID:            resp.ServiceID,
		Version:              resp.Version,
		Tags:                 resp.Tags,
		Capabilities:         resp.Capabilities,
		HTTPEndpoints:        toWireHTTPEndpoints(resp.HTTPEndpoints),
		HTTPSchemaArtifactID: resp.HTTPSchemaArtifactID,
		HTTPSchemaVersion:    resp.HTTPSchemaVersion,
		Metadata:             resp.Metadata,
		TotalInstances:       resp.TotalInstances,
		HealthyInstances:     resp.HealthyInstances,
		SelectionReason:      resp.SelectionReason,
		ResolvedAt:           resp.ResolvedAt,
	}
}

func toWireSchemaResponse(result query.ModuleSchemaResult) *GetModuleSchemaResponse {
	return &GetModuleSchemaResponse{
		JSONSchema:        result.JSONSchema,
		Source:            result.Source,
		CreatedBy:         result.CreatedBy,
		SyncStatus:        string(result.SyncStatus),
		ArtifactID:        result.ArtifactID,
		ArtifactGlobalID:  result.ArtifactGlobalID,
		ArtifactCreatedOn: result.ArtifactCreatedOn,
	}
}
