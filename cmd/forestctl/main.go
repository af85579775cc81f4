// forestctl is the Forest control plane: it boots and configures
// routers, admits leaves, and creates, grows, shrinks and destroys
// comtrees on demand.
//
// Usage:
//
//	forestctl [flags] topologyFile prefixFile finTime
//
// finTime is in seconds; 0 runs until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jonturner53/forestctl/internal/admin"
	"github.com/jonturner53/forestctl/internal/comtree"
	"github.com/jonturner53/forestctl/internal/config"
	"github.com/jonturner53/forestctl/internal/configproto"
	"github.com/jonturner53/forestctl/internal/discovery"
	"github.com/jonturner53/forestctl/internal/facade"
	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/logger"
	zapfactory "github.com/jonturner53/forestctl/internal/logger/zap"
	"github.com/jonturner53/forestctl/internal/prefixtable"
	"github.com/jonturner53/forestctl/internal/substrate"
	"github.com/jonturner53/forestctl/internal/telemetry"
	"github.com/jonturner53/forestctl/internal/topology"
	"github.com/jonturner53/forestctl/internal/transport"
	"github.com/jonturner53/forestctl/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML process configuration")
	comtreePath := flag.String("comtrees", "", "path to the comtree file (pre-configured comtrees)")
	bind := flag.String("bind", fmt.Sprintf(":%d", forest.NMPort), "UDP bind address for the control socket")
	adminBind := flag.String("admin", "127.0.0.1:30121", "TCP bind address for the admin console; empty disables")
	flag.Parse()

	if flag.NArg() != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] topologyFile prefixFile finTime\n", os.Args[0])
		os.Exit(1)
	}
	topoFile, prefixFile := flag.Arg(0), flag.Arg(1)
	finSecs, err := strconv.Atoi(flag.Arg(2))
	if err != nil || finSecs < 0 {
		log.Fatalf("bad finTime %q: must be a non-negative number of seconds", flag.Arg(2))
	}

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
		}
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.NewFromConfig(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.New(zapLog)
	} else {
		lgr = logger.NopLogger{}
	}
	lgr = lgr.Named("forestctl")

	topo, err := topology.ReadFile(topoFile)
	if err != nil {
		lgr.Error("failed to read topology file", logger.F("path", topoFile), logger.F("err", err))
		os.Exit(1)
	}
	prefixes, err := prefixtable.ReadFile(prefixFile)
	if err != nil {
		lgr.Error("failed to read prefix file", logger.F("path", prefixFile), logger.F("err", err))
		os.Exit(1)
	}

	table := comtree.NewTable()
	engine := comtree.NewEngine(topo, table, lgr.Named("comtree"))
	if *comtreePath != "" {
		if err := comtree.ReadFile(*comtreePath, topo, table); err != nil {
			lgr.Error("failed to read comtree file", logger.F("path", *comtreePath), logger.F("err", err))
			os.Exit(1)
		}
	}

	// Startup verification: a topology or comtree file that fails any
	// consistency check aborts before the socket opens.
	for _, num := range table.Numbers() {
		ct, err := table.GetComtree(num)
		if err != nil {
			lgr.Error("comtree vanished during startup checks", logger.F("comtree", num))
			os.Exit(1)
		}
		err = engine.Check(ct)
		table.ReleaseComtree(ct)
		if err != nil {
			lgr.Error("comtree failed startup verification", logger.F("comtree", num), logger.F("err", err))
			os.Exit(1)
		}
	}
	if err := comtree.CheckCapacityConservation(topo); err != nil {
		lgr.Error("capacity accounting inconsistent after load", logger.F("err", err))
		os.Exit(1)
	}

	self := controllerAddr(topo)
	if self.IsZero() {
		lgr.Error("topology file declares no controller leaf")
		os.Exit(1)
	}
	lgr.Info("controller starting", logger.F("addr", self.String()), logger.F("bind", *bind))

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, "forestctl", self)
	if err != nil {
		lgr.Error("failed to initialize tracing", logger.F("err", err))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	registrar, err := discovery.NewRegistrar(context.Background(), cfg.Discovery)
	if err != nil {
		lgr.Error("failed to initialize discovery", logger.F("err", err))
		os.Exit(1)
	}
	if registrar != nil {
		host, _ := os.Hostname()
		if err := registrar.Register(context.Background(), self.String(), host, forest.NMPort); err != nil {
			lgr.Warn("discovery registration failed", logger.F("err", err))
		}
		defer func() {
			host, _ := os.Hostname()
			_ = registrar.Deregister(context.Background(), self.String(), host, forest.NMPort)
			_ = registrar.Close()
		}()
	}

	codec := wire.GobCodec{}
	udp, err := transport.Listen(*bind, codec, lgr)
	if err != nil {
		lgr.Error("failed to open control socket", logger.F("err", err))
		os.Exit(1)
	}
	defer udp.Close()

	proto := configproto.New(codec, self, lgr)
	fac := facade.New(topo, table, engine, proto, prefixes, self, lgr, time.Now().UnixNano())

	rt := substrate.New(substrate.Config{
		Workers:         cfg.Substrate.Workers,
		MaxRetries:      cfg.Substrate.MaxRetries,
		RetryInterval:   cfg.Substrate.RetryInterval,
		ReplyTimeout:    cfg.Substrate.ReplyTimeout,
		TimeoutScanTick: cfg.Substrate.TimeoutScanTick,
	}, udp, fac, lgr)
	rt.Start()
	defer rt.Stop()

	if *adminBind != "" {
		adm, err := admin.Listen(*adminBind, topo, table, lgr)
		if err != nil {
			lgr.Error("failed to open admin endpoint", logger.F("err", err))
			os.Exit(1)
		}
		lgr.Info("admin console listening", logger.F("addr", adm.Addr().String()))
		defer adm.Close()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	if finSecs > 0 {
		select {
		case <-time.After(time.Duration(finSecs) * time.Second):
			lgr.Info("finTime reached, shutting down")
		case s := <-sig:
			lgr.Info("signal received, shutting down", logger.F("signal", s.String()))
		}
	} else {
		s := <-sig
		lgr.Info("signal received, shutting down", logger.F("signal", s.String()))
	}
}

// controllerAddr finds this controller's own leaf record: the first
// controller-kind leaf the topology file declares.
func controllerAddr(topo *topology.Topology) forest.Addr {
	var addr forest.Addr
	topo.ForEachLeaf(func(l *topology.Leaf) {
		if addr.IsZero() && l.Kind == topology.ControllerLeaf {
			addr = l.Addr
		}
	})
	return addr
}
