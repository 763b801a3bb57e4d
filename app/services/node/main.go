package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/conf/v3/yaml"
	"github.com/ardanlabs/ledger/app/services/node/handlers"
	"github.com/ardanlabs/ledger/foundation/blockchain/chain"
	"github.com/ardanlabs/ledger/foundation/blockchain/gossip"
	"github.com/ardanlabs/ledger/foundation/blockchain/gossip/p2p"
	"github.com/ardanlabs/ledger/foundation/blockchain/gossip/rdb"
	"github.com/ardanlabs/ledger/foundation/blockchain/peer"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/blockchain/txpool"
	"github.com/ardanlabs/ledger/foundation/blockchain/worker"
	"github.com/ardanlabs/ledger/foundation/events"
	"github.com/ardanlabs/ledger/foundation/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			RPCHost         string        `conf:"default:127.0.0.1:4500"`
		}
		Node struct {
			Key string `conf:"mask"`
		}
		Gossip struct {
			Transport  string `conf:"default:libp2p,help:libp2p or redis"`
			BufferSize int    `conf:"default:1024"`
		}
		P2P struct {
			ListenAddrs []string `conf:"default:/ip4/0.0.0.0/tcp/0"`
			ServiceTag  string   `conf:"default:ledger-gossip"`
		}
		Redis struct {
			Addr        string        `conf:"default:127.0.0.1:6379"`
			Password    string        `conf:"mask"`
			Prefix      string        `conf:"default:ledger"`
			PresenceTTL time.Duration `conf:"default:10s"`
		}
		Worker struct {
			InitDelay        time.Duration `conf:"default:1s"`
			ExecutorInterval time.Duration `conf:"default:3s"`
			ResponseQueue    int           `conf:"default:16"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "ledger node",
		},
	}

	// Values from an optional yaml file sit between the defaults and the
	// environment and command line overrides.
	var parsers []conf.Parsers
	if path := os.Getenv("NODE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		parsers = append(parsers, yaml.WithData(data))
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg, parsers...)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Node Identity

	// Without a configured key the node gets a new identity on every start.
	identity, err := loadIdentity(cfg.Node.Key)
	if err != nil {
		return fmt.Errorf("unable to load node identity: %w", err)
	}
	log.Infow("startup", "status", "node identity", "peerid", identity.ID())

	// =========================================================================
	// Blockchain Support

	// The blockchain packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := logger.EventHandler(log, func(s string) { evts.Send(s) })

	pool := txpool.New()

	// The chain is owned by the worker's event loop. Everything else reads
	// it through its snapshot.
	bc := chain.New(chain.Config{
		Pool:      pool,
		EvHandler: chain.EventHandler(ev),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var transport gossip.Transport

	switch cfg.Gossip.Transport {
	case "libp2p":
		transport, err = p2p.New(ctx, p2p.Config{
			Identity:    identity,
			ListenAddrs: cfg.P2P.ListenAddrs,
			ServiceTag:  cfg.P2P.ServiceTag,
			BufferSize:  cfg.Gossip.BufferSize,
			EvHandler:   p2p.EventHandler(ev),
		})

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("unable to reach redis: %w", err)
		}

		transport, err = rdb.New(ctx, rdb.Config{
			ID:          identity.ID(),
			Client:      client,
			Prefix:      cfg.Redis.Prefix,
			PresenceTTL: cfg.Redis.PresenceTTL,
			BufferSize:  cfg.Gossip.BufferSize,
			EvHandler:   rdb.EventHandler(ev),
		})

	default:
		return fmt.Errorf("unknown gossip transport %q", cfg.Gossip.Transport)
	}
	if err != nil {
		return fmt.Errorf("unable to start %s transport: %w", cfg.Gossip.Transport, err)
	}
	defer transport.Close()

	log.Infow("startup", "status", "gossip transport started", "transport", cfg.Gossip.Transport)

	peerSet := peer.NewPeerSet()
	responses := make(chan gossip.LocalChainResponse, cfg.Worker.ResponseQueue)

	protocol, err := gossip.New(gossip.Config{
		Identity:   identity,
		Chain:      bc,
		Transport:  transport,
		Responses:  responses,
		KnownPeers: peerSet,
		EvHandler:  gossip.EventHandler(ev),
	})
	if err != nil {
		return err
	}

	wkr, err := worker.New(worker.Config{
		Chain:            bc,
		Protocol:         protocol,
		Transport:        transport,
		Responses:        responses,
		Input:            readLines(ctx, os.Stdin),
		Output:           os.Stdout,
		InitDelay:        cfg.Worker.InitDelay,
		ExecutorInterval: cfg.Worker.ExecutorInterval,
		EvHandler:        worker.EventHandler(ev),
	})
	if err != nil {
		return err
	}

	wkr.Run(ctx)
	defer wkr.Shutdown()

	// Report what the pool did with every block that recorded transactions.
	blockEvents := pool.AddEventListener()
	defer blockEvents.Close()

	go func() {
		for {
			select {
			case be := <-blockEvents.C:
				log.Infow("pool", "block", be.BlockHash, "removed", len(be.Removed), "missing", len(be.Missing))
			case <-ctx.Done():
				return
			}
		}
	}()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log, bc)

	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 2)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Chain:    bc,
		Peers:    peerSet,
		Self:     identity.ID(),
		Evts:     evts,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start RPC Service

	log.Infow("startup", "status", "initializing JSON-RPC support")

	rpc := http.Server{
		Addr:         cfg.Web.RPCHost,
		Handler:      handlers.RPCMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "rpc router started", "host", rpc.Addr)
		serverErrors <- rpc.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelRPC := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelRPC()

		log.Infow("shutdown", "status", "shutdown rpc API started")
		if err := rpc.Shutdown(ctx); err != nil {
			rpc.Close()
			return fmt.Errorf("could not stop rpc service gracefully: %w", err)
		}

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// loadIdentity builds the node identity from a hex encoded ed25519 secret or
// generates a new one.
func loadIdentity(key string) (signature.NodeIdentity, error) {
	if key == "" {
		return signature.NewNodeIdentity()
	}

	kp, err := signature.KeypairFromHex(key)
	if err != nil {
		return signature.NodeIdentity{}, err
	}

	return signature.NodeIdentityFromKeypair(kp)
}

// readLines feeds the lines typed on the terminal to the event loop.
func readLines(ctx context.Context, f *os.File) <-chan string {
	ch := make(chan string)

	go func() {
		defer close(ch)

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			select {
			case ch <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}
