// Package app wires the transport, registry, catalog, store, and
// supervisor packages into one running server: it is the composition root
// the teacher's cmd/mash-web/server.go and cmd/mash-device/main.go play
// for their own protocols, adapted here to the equipment-protocol stack.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campushub/eqserver/internal/catalog"
	"github.com/campushub/eqserver/internal/handlers"
	"github.com/campushub/eqserver/internal/registry"
	"github.com/campushub/eqserver/internal/store"
	"github.com/campushub/eqserver/internal/supervisor"
	"github.com/campushub/eqserver/pkg/transport"
	"github.com/campushub/eqserver/pkg/wire"
	"github.com/rs/zerolog"
)

// Config bundles every knob the serve command exposes (§6.1 of
// SPEC_FULL.md), already parsed into Go types.
type Config struct {
	ListenAddr          string
	DBPath              string
	HeartbeatTimeout    time.Duration
	MaxFrameSize        uint32
	MaintenanceInterval time.Duration
	Logger              zerolog.Logger
}

// App is a fully wired, runnable instance of the server: an opened store,
// a loaded catalog, a registry, and a transport.Server dispatching onto
// handlers.Dispatch.
type App struct {
	cfg        Config
	store      *store.Store
	catalog    *catalog.Catalog
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	server     *transport.Server
}

// New opens the store, loads the catalog, and wires the transport server's
// callbacks to the registry/handlers layer. It does not start accepting
// connections yet; call Run for that.
func New(cfg Config) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	cat, err := catalog.Load(st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: load catalog: %w", err)
	}

	reg := registry.New(cat)
	sup := supervisor.New(reg, cat, cfg.HeartbeatTimeout, cfg.MaintenanceInterval, cfg.Logger)

	deps := &handlers.Deps{Reg: reg, Cat: cat, Store: st, Log: cfg.Logger}

	srv, err := transport.NewServer(transport.ServerConfig{
		Address:        cfg.ListenAddr,
		MaxMessageSize: cfg.MaxFrameSize,
		Logger:         cfg.Logger,
		OnConnect: func(conn *transport.ServerConn) {
			reg.Accept(conn.ConnID(), conn.Send, conn.Close)
		},
		OnMessage: func(conn *transport.ServerConn, body []byte) {
			dispatchOne(deps, cfg.Logger, reg, conn, body)
		},
		OnDisconnect: func(conn *transport.ServerConn) {
			reg.Unbind(conn.ConnID())
		},
		OnError: func(conn *transport.ServerConn, err error) {
			connID := "accept"
			if conn != nil {
				connID = conn.ConnID()
			}
			cfg.Logger.Debug().Str("conn_id", connID).Err(err).Msg("connection error")
		},
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: new server: %w", err)
	}

	return &App{cfg: cfg, store: st, catalog: cat, registry: reg, supervisor: sup, server: srv}, nil
}

// dispatchOne routes one decoded body through handlers.Dispatch and
// applies the three outcomes documented on Dispatch: a protocol error
// closes the connection with no reply, ErrCloseAfterReply closes it after
// the handler's own reply has already gone out, and any other error is
// logged with the connection left open.
func dispatchOne(deps *handlers.Deps, log zerolog.Logger, reg *registry.Registry, conn *transport.ServerConn, body []byte) {
	err := handlers.Dispatch(deps, conn.ConnID(), body)
	if err == nil {
		return
	}

	switch {
	case isProtocolError(err):
		log.Warn().Str("conn_id", conn.ConnID()).Err(err).Msg("protocol violation, closing connection")
		reg.CloseAndUnbind(conn.ConnID())
	case isCloseAfterReply(err):
		log.Debug().Str("conn_id", conn.ConnID()).Err(err).Msg("closing connection after reply")
		reg.CloseAndUnbind(conn.ConnID())
	default:
		log.Error().Str("conn_id", conn.ConnID()).Err(err).Msg("handler error")
	}
}

// Run starts the transport server and the supervisor, and blocks until ctx
// is canceled. On return every connection is closed, every device has
// been reset offline, and the store is closed.
func (a *App) Run(ctx context.Context) error {
	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("app: start server: %w", err)
	}

	a.cfg.Logger.Info().
		Str("addr", a.server.Addr().String()).
		Str("db", a.cfg.DBPath).
		Dur("heartbeat_timeout", a.cfg.HeartbeatTimeout).
		Msg("eqserver listening")

	a.supervisor.Run(ctx)

	if err := a.server.Stop(); err != nil {
		a.cfg.Logger.Error().Err(err).Msg("error stopping server")
	}
	if err := a.store.Close(); err != nil {
		a.cfg.Logger.Error().Err(err).Msg("error closing store")
	}
	a.cfg.Logger.Info().Msg("eqserver stopped")
	return nil
}

// Addr returns the server's bound listen address; used by tests that bind
// to an ephemeral port.
func (a *App) Addr() string {
	if addr := a.server.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

func isProtocolError(err error) bool {
	return errors.Is(err, wire.ErrProtocol)
}

func isCloseAfterReply(err error) bool {
	return errors.Is(err, handlers.ErrCloseAfterReply)
}
