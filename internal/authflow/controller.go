// Package authflow coordinates user authentication flows for servers whose
// remotes refuse tool discovery until the user signs in. A flow hands out a
// signed continuation token; completing the flow with that token resumes
// discovery where it left off.
package authflow

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
	"mcpdock-go/internal/state"
)

// Flow is one pending authentication flow for a server.
type Flow struct {
	// FlowID uniquely identifies this flow across log entries.
	FlowID string
	// ServerID is the server the flow authenticates.
	ServerID string
	// Token is the opaque continuation token handed to the user agent.
	Token string
	// CallbackURL is where the user agent lands to complete the flow.
	CallbackURL string
	// Started is when the flow was minted.
	Started time.Time
}

// Completion is the outcome of a successfully completed auth flow.
type Completion struct {
	ServerID string
	FlowID   string
	// Summary is what the resumed discovery cycle changed. Nil when the
	// cycle itself failed; the error carries the reason.
	Summary *registry.ReconcileSummary
}

// Discoverer resumes tool discovery after a completed flow.
type Discoverer interface {
	Discover(ctx context.Context, serverID string) (*registry.ReconcileSummary, error)
}

// Controller tracks pending auth flows, one per server. Pending flows live
// in memory; the continuation token is self-validating, so a completion
// that arrives after a restart still goes through as long as the server is
// still awaiting auth.
type Controller struct {
	registry     *registry.Registry
	disc         Discoverer
	signer       *tokenSigner
	callbackBase string
	logger       *zap.Logger

	mu    sync.RWMutex
	flows map[string]*Flow
}

// NewController creates an auth flow controller. callbackBase is the URL
// completion links point at; the continuation token is appended as a query
// parameter.
func NewController(reg *registry.Registry, disc Discoverer, callbackBase string, logger *zap.Logger) (*Controller, error) {
	secret, err := reg.FlowSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to load flow signing secret: %w", err)
	}

	return &Controller{
		registry:     reg,
		disc:         disc,
		signer:       &tokenSigner{secret: secret},
		callbackBase: callbackBase,
		logger:       logger,
		flows:        make(map[string]*Flow),
	}, nil
}

// RequiresAuth reports whether the server's declared auth kind calls for a
// sign-in before tools can be fetched. A server that never declared one
// reports false; the remote gets to demand sign-in mid-discovery instead.
func (c *Controller) RequiresAuth(server *registry.ServerRecord) bool {
	return server.AuthKind == registry.AuthKindOAuth
}

// Begin starts (or resumes) an auth flow for the server and returns the
// continuation token and callback URL the user agent needs. While the
// server stays in AwaitingAuth, repeated calls return the same pending
// flow. Begin refuses servers with a discovery cycle in flight.
func (c *Controller) Begin(ctx context.Context, serverID string) (*Flow, error) {
	server, err := c.registry.Get(serverID)
	if err != nil {
		return nil, err
	}

	switch server.State {
	case state.StateAwaitingAuth:
		c.mu.RLock()
		pending := c.flows[serverID]
		c.mu.RUnlock()
		if pending != nil {
			flow := *pending
			c.logger.Debug("Reusing pending auth flow",
				zap.String("server_id", serverID),
				zap.String("flow_id", flow.FlowID))
			return &flow, nil
		}
		// A restart dropped the in-memory flow; mint a replacement.
	case state.StateFetchingTools:
		return nil, &registry.AlreadyInProgressError{ServerID: serverID}
	default:
		if _, err := c.registry.SetState(serverID, state.StateAwaitingAuth); err != nil {
			return nil, err
		}
	}

	return c.mint(serverID, server.Name)
}

func (c *Controller) mint(serverID, serverName string) (*Flow, error) {
	flowID := uuid.NewString()
	started := time.Now()

	token, err := c.signer.Mint(serverID, flowID, started)
	if err != nil {
		return nil, fmt.Errorf("failed to sign flow token: %w", err)
	}

	flow := &Flow{
		FlowID:      flowID,
		ServerID:    serverID,
		Token:       token,
		CallbackURL: c.callbackURL(token),
		Started:     started,
	}

	c.mu.Lock()
	c.flows[serverID] = flow
	c.mu.Unlock()

	c.logger.Info("Began auth flow",
		zap.String("server_id", serverID),
		zap.String("server", serverName),
		zap.String("flow_id", flowID))

	out := *flow
	return &out, nil
}

// callbackURL carries the continuation token in the state parameter, the
// query key user agents already pass through untouched on OAuth redirects.
func (c *Controller) callbackURL(token string) string {
	return c.callbackBase + "?state=" + url.QueryEscape(token)
}

// Complete finishes the flow identified by the continuation token and runs
// the discovery cycle the auth refusal interrupted. A token that does not
// verify fails validation; a token whose server was removed, disconnected,
// or already completed returns a StaleFlowError, which callers log rather
// than surface.
func (c *Controller) Complete(ctx context.Context, token string) (*Completion, error) {
	serverID, flowID, err := c.signer.Verify(token)
	if err != nil {
		return nil, &registry.ValidationError{Field: "token", Reason: err.Error()}
	}

	logger := c.logger.With(
		zap.String("server_id", serverID),
		zap.String("flow_id", flowID))

	server, err := c.registry.Get(serverID)
	if err != nil {
		if registry.IsNotFound(err) {
			c.Forget(serverID)
			return nil, &StaleFlowError{ServerID: serverID, Reason: "server was removed"}
		}
		return nil, err
	}

	switch server.State {
	case state.StateAwaitingAuth:
		// The flow is live; resume below.
	case state.StateDisconnected:
		c.Forget(serverID)
		return nil, &StaleFlowError{ServerID: serverID, Reason: "server disconnected before completion"}
	default:
		return nil, &StaleFlowError{
			ServerID: serverID,
			Reason:   fmt.Sprintf("server no longer awaiting auth (state %s)", server.State),
		}
	}

	if _, err := c.registry.SetState(serverID, state.StateFetchingTools); err != nil {
		// Another completion won the race between the state check and the
		// transition; this one is stale.
		return nil, &StaleFlowError{ServerID: serverID, Reason: "flow already completed"}
	}
	c.Forget(serverID)

	logger.Info("Auth flow completed, resuming discovery")

	summary, err := c.disc.Discover(ctx, serverID)
	if err != nil {
		return &Completion{ServerID: serverID, FlowID: flowID}, err
	}

	return &Completion{ServerID: serverID, FlowID: flowID, Summary: summary}, nil
}

// PendingFlow returns the in-memory flow for a server, if one exists.
func (c *Controller) PendingFlow(serverID string) (*Flow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	flow, ok := c.flows[serverID]
	if !ok {
		return nil, false
	}
	out := *flow
	return &out, true
}

// Forget drops the in-memory flow for a server. Called when a server is
// removed or disconnected so stale flows do not accumulate.
func (c *Controller) Forget(serverID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.flows[serverID]; !ok {
		return false
	}
	delete(c.flows, serverID)
	return true
}

// Sweep drops in-memory flows whose server is gone or no longer awaiting
// auth, and returns how many were removed. Meant to be called periodically.
func (c *Controller) Sweep() int {
	c.mu.Lock()
	ids := make([]string, 0, len(c.flows))
	for serverID := range c.flows {
		ids = append(ids, serverID)
	}
	c.mu.Unlock()

	swept := 0
	for _, serverID := range ids {
		server, err := c.registry.Get(serverID)
		if err == nil && server.State == state.StateAwaitingAuth {
			continue
		}
		if c.Forget(serverID) {
			c.logger.Debug("Swept stale auth flow", zap.String("server_id", serverID))
			swept++
		}
	}
	return swept
}
