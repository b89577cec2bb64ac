// Package callback implements C4: after a module passes health, opens a
// gRPC channel to it and invokes its GetServiceRegistration RPC to fetch the
// metadata the registration pipeline needs.
package callback

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"regbroker/internal/apperror"
	"regbroker/internal/config"
	"regbroker/internal/domain"
	"regbroker/internal/grpcclient"
	"regbroker/internal/logger"
)

// Resolver is the capability interface C4 needs from C2 to pick a dial
// target for a logical module name (spec §9's "given a channel and a known
// service, obtain a typed invoker" requirement, restricted to address
// resolution here).
type Resolver interface {
	ResolveDialTarget(ctx context.Context, moduleName string) (string, error)
}

// registrationRequest is the empty request GetServiceRegistration takes.
type registrationRequest struct{}

// registrationReply mirrors ServiceRegistrationMetadata's wire shape
// (spec §4.4).
type registrationReply struct {
	ModuleName       string            `json:"module_name"`
	Version          string            `json:"version"`
	JSONConfigSchema string            `json:"json_config_schema,omitempty"`
	DisplayName      string            `json:"display_name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Owner            string            `json:"owner,omitempty"`
	DocumentationURL string            `json:"documentation_url,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Dependencies     []string          `json:"dependencies,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// fullMethod is the module-side RPC the Client invokes. Defining this as a
// capability interface at construction time (rather than reflecting over an
// arbitrary stub type) is the concrete instance of the "heterogeneous stub
// types → capability interfaces" substitution spec §9 calls for.
const fullMethod = "/broker.v1.ModuleRegistrationProbe/GetServiceRegistration"

// ModuleRegistrationProbe is the single capability interface the broker
// needs from any module it calls back into.
type ModuleRegistrationProbe interface {
	GetServiceRegistration(ctx context.Context, conn *grpc.ClientConn) (domain.ServiceRegistrationMetadata, error)
}

type probe struct{}

func (probe) GetServiceRegistration(ctx context.Context, conn *grpc.ClientConn) (domain.ServiceRegistrationMetadata, error) {
	var reply registrationReply
	if err := conn.Invoke(ctx, fullMethod, &registrationRequest{}, &reply); err != nil {
		return domain.ServiceRegistrationMetadata{}, err
	}
	return domain.ServiceRegistrationMetadata{
		ModuleName:       reply.ModuleName,
		Version:          reply.Version,
		JSONConfigSchema: reply.JSONConfigSchema,
		DisplayName:      reply.DisplayName,
		Description:      reply.Description,
		Owner:            reply.Owner,
		DocumentationURL: reply.DocumentationURL,
		Tags:             reply.Tags,
		Dependencies:     reply.Dependencies,
		Metadata:         reply.Metadata,
	}, nil
}

// Client is C4: it resolves a module name to a live instance, dials (or
// reuses) a cached channel, and invokes the callback RPC.
type Client struct {
	resolver Resolver
	cache    *ChannelCache
	probe    ModuleRegistrationProbe
	timeout  time.Duration
}

// New builds a Client wired to the given resolver (normally C2) and dial
// configuration.
func New(resolver Resolver, cfg config.CallbackConfig, retryCfg config.RetryConfig) *Client {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	c := &Client{
		resolver: resolver,
		probe:    probe{},
		timeout:  dialTimeout,
	}

	dial := func(moduleName string) (*grpc.ClientConn, error) {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()

		target, err := resolver.ResolveDialTarget(ctx, moduleName)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeCallbackUnreachable, "failed to resolve module for callback").
				WithDetails("module_name", moduleName)
		}
		return grpcclient.Dial(ctx, target, cfg, retryCfg)
	}

	c.cache = NewChannelCache(dial, cfg.ChannelIdleTTL, cfg.ChannelCapacity, cfg.GracefulCloseTimeout)
	return c
}

// FetchModuleMetadata implements fetch_module_metadata(module_name) from
// spec §4.4: resolve, dial/reuse, invoke GetServiceRegistration.
func (c *Client) FetchModuleMetadata(ctx context.Context, moduleName string) (domain.ServiceRegistrationMetadata, error) {
	conn, err := c.cache.GetOrDial(moduleName)
	if err != nil {
		return domain.ServiceRegistrationMetadata{}, apperror.Wrap(err, apperror.CodeCallbackUnreachable,
			fmt.Sprintf("no channel available for module %q", moduleName))
	}

	meta, err := c.probe.GetServiceRegistration(ctx, conn)
	if err != nil {
		logger.Warn("module callback failed", "module_name", moduleName, "error", err)
		return domain.ServiceRegistrationMetadata{}, apperror.Wrap(err, apperror.CodeCallbackRejected,
			fmt.Sprintf("GetServiceRegistration failed for module %q", moduleName))
	}
	return meta, nil
}

// InvalidateModule evicts the cached channel for moduleName, e.g. after a
// callback failure that may indicate the cached endpoint has rotated away.
func (c *Client) InvalidateModule(moduleName string) {
	c.cache.Invalidate(moduleName)
}

// Shutdown drains the channel cache, part of the broker's teardown sequence
// (spec §5).
func (c *Client) Shutdown(budget time.Duration) {
	c.cache.Shutdown(budget)
}

// Stats exposes the channel cache's occupancy for metrics wiring.
func (c *Client) Stats() Stats {
	return c.cache.Stats()
}
