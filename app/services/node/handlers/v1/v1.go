// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/ledger/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/ledger/app/services/node/handlers/v1/rpcgrp"
	"github.com/ardanlabs/ledger/business/web/mid"
	"github.com/ardanlabs/ledger/foundation/blockchain/peer"
	"github.com/ardanlabs/ledger/foundation/blockchain/txpool"
	"github.com/ardanlabs/ledger/foundation/events"
	"github.com/ardanlabs/ledger/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	Chain public.Chain
	Pool  *txpool.Pool
	Peers *peer.PeerSet
	Self  string
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		Chain: cfg.Chain,
		Pool:  cfg.Pool,
		Peers: cfg.Peers,
		Self:  cfg.Self,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/chain/list", pbl.ChainList)
	app.Handle(http.MethodGet, version, "/chain/block/:id", pbl.BlockByID)
	app.Handle(http.MethodGet, version, "/pool/list", pbl.PoolList)
	app.Handle(http.MethodGet, version, "/peers/list", pbl.PeerList)
}

// RPCRoutes binds the JSON-RPC endpoint wallets talk to.
func RPCRoutes(app *web.App, cfg Config) {
	rpc := rpcgrp.Handlers{
		Log:  cfg.Log,
		Pool: cfg.Pool,
	}

	app.Handle(http.MethodPost, "", "/", rpc.Dispatch, mid.Cors("*"))
}
