package commands

import (
	"context"
	"fmt"
	"io/ioutil"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/skydrone/internal/metrics"
	"github.com/skycoin/skydrone/pkg/eventlog"
	"github.com/skycoin/skydrone/pkg/routing"
	"github.com/skycoin/skydrone/pkg/simulation"
	"github.com/skycoin/skydrone/pkg/util/env"
	"github.com/skycoin/skydrone/pkg/util/pathutil"
)

const defaultShutdownTimeout = 10 * time.Second

type runCfg struct {
	syslogAddr string
	tag        string
	httpAddr   string
	traceDB    string
	duration   time.Duration
	probe      bool
	args       []string

	logger       *logging.Logger
	masterLogger *logging.MasterLogger
	conf         *simulation.Config
	runID        string
	metrics      *metrics.Prometheus
	sim          *simulation.Simulation
	srv          *http.Server
}

var cfg *runCfg

func init() {
	cfg = &runCfg{}
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&cfg.syslogAddr, "syslog", "", "none", "syslog server address. E.g. localhost:514")
	runCmd.Flags().StringVarP(&cfg.tag, "tag", "", "skydrone", "logging tag")
	runCmd.Flags().StringVar(&cfg.httpAddr, "http-addr", "", "address of the supervisor API, overrides 'http_addr' of the config")
	runCmd.Flags().StringVar(&cfg.traceDB, "trace-db", "", "record events into a BoltDB file at this path, overrides 'trace' of the config")
	runCmd.Flags().DurationVarP(&cfg.duration, "duration", "d", env.Duration("SKYDRONE_DURATION", 0), "stop the simulation after this long. Runs until interrupted if zero")
	runCmd.Flags().BoolVar(&cfg.probe, "probe", env.Bool("SKYDRONE_PROBE", true), "make every client discover every server and send it a message on start")
}

var runCmd = &cobra.Command{
	Use:   "run [config-path]",
	Short: "Runs a simulated network",
	Run: func(_ *cobra.Command, args []string) {
		cfg.args = args

		cfg.startLogger().
			readConfig().
			runSimulation().
			serveAPI().
			probeServers().
			waitOsSignals().
			stopSimulation()
	},
}

func (cfg *runCfg) startLogger() *runCfg {
	cfg.masterLogger = logging.NewMasterLogger()
	cfg.logger = cfg.masterLogger.PackageLogger(cfg.tag)

	if cfg.syslogAddr != "none" {
		hook, err := logrus_syslog.NewSyslogHook("udp", cfg.syslogAddr, syslog.LOG_INFO, cfg.tag)
		if err != nil {
			cfg.logger.Error("Unable to connect to syslog daemon:", err)
		} else {
			cfg.masterLogger.AddHook(hook)
			cfg.masterLogger.Out = ioutil.Discard
		}
	}
	return cfg
}

func (cfg *runCfg) readConfig() *runCfg {
	configPath, err := pathutil.FindConfigPath(cfg.args, 0, configEnv, pathutil.SimulationDefaults())
	if err != nil {
		cfg.logger.Fatalf("Failed to find config: %s", err)
	}
	if cfg.conf, err = simulation.ReadConfig(configPath); err != nil {
		cfg.logger.Fatalf("Failed to read config: %s", err)
	}

	if cfg.conf.LogLevel != "" {
		lvl, err := logging.LevelFromString(cfg.conf.LogLevel)
		if err != nil {
			cfg.logger.Fatalf("Invalid log level: %s", err)
		}
		cfg.masterLogger.SetLevel(lvl)
	}
	if cfg.httpAddr != "" {
		cfg.conf.HTTPAddr = cfg.httpAddr
	}
	if cfg.traceDB != "" {
		cfg.conf.Trace.Type = simulation.TraceBoltDB
		cfg.conf.Trace.Location = cfg.traceDB
	}
	if cfg.conf.ShutdownTimeout == 0 {
		cfg.conf.ShutdownTimeout = simulation.Duration(defaultShutdownTimeout)
	}
	return cfg
}

func (cfg *runCfg) runSimulation() *runCfg {
	cfg.runID = uuid.New().String()
	cfg.metrics = metrics.NewPrometheus("skydrone")

	store := eventlog.InMemoryStore()
	if cfg.conf.Trace.Type == simulation.TraceBoltDB {
		location, err := pathutil.ExpandPath(cfg.conf.Trace.Location)
		if err != nil {
			cfg.logger.Fatalf("Invalid trace location: %s", err)
		}
		if store, err = eventlog.BoltDBStore(location, cfg.runID); err != nil {
			cfg.logger.Fatalf("Failed to open trace store: %s", err)
		}
		cfg.logger.Infof("Recording events of run %s into %s", cfg.runID, location)
	}

	sim, err := simulation.New(cfg.conf,
		simulation.WithRunID(cfg.runID),
		simulation.WithStore(store),
		simulation.WithMetrics(cfg.metrics),
		simulation.WithMasterLogger(cfg.masterLogger))
	if err != nil {
		cfg.logger.Fatal("Failed to start simulation: ", err)
	}
	cfg.sim = sim
	return cfg
}

func (cfg *runCfg) serveAPI() *runCfg {
	if cfg.conf.HTTPAddr == "" {
		return cfg
	}
	cfg.srv = &http.Server{
		Addr:    cfg.conf.HTTPAddr,
		Handler: simulation.NewAPI(cfg.sim, cfg.metrics),
	}
	go func() {
		cfg.logger.Infof("Serving supervisor API on '%s'", cfg.conf.HTTPAddr)
		if err := cfg.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cfg.logger.Fatal("Failed to serve API: ", err)
		}
	}()
	return cfg
}

// probeServers makes every client discover every server and greet it.
func (cfg *runCfg) probeServers() *runCfg {
	if !cfg.probe {
		return cfg
	}
	for _, c := range cfg.conf.Clients {
		for _, s := range cfg.conf.Servers {
			go cfg.greet(c.ID, s.ID)
		}
	}
	for _, s := range cfg.conf.Servers {
		go cfg.logMessages(s.ID)
	}
	return cfg
}

func (cfg *runCfg) greet(clientID, serverID routing.NodeID) {
	client, err := cfg.sim.Client(clientID)
	if err != nil {
		cfg.logger.WithError(err).Warn("Probe failed")
		return
	}
	route, err := client.Discover(context.Background(), serverID)
	if err != nil {
		cfg.logger.WithError(err).Warnf("Client %s found no route to server %s", clientID, serverID)
		return
	}
	cfg.logger.Infof("Client %s reaches server %s through %s", clientID, serverID, route)

	msg := fmt.Sprintf("hello from client %s", clientID)
	if _, err := client.Send(serverID, []byte(msg)); err != nil {
		cfg.logger.WithError(err).Warnf("Client %s failed to send to server %s", clientID, serverID)
	}
}

func (cfg *runCfg) logMessages(serverID routing.NodeID) {
	server, err := cfg.sim.Server(serverID)
	if err != nil {
		return
	}
	for {
		msg, err := server.Messages().Recv(context.Background())
		if err != nil {
			return
		}
		cfg.logger.Infof("Server %s received %q from %s", serverID, msg.Data, msg.Source)
	}
}

func (cfg *runCfg) waitOsSignals() *runCfg {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}...)

	var expired <-chan time.Time
	if cfg.duration > 0 {
		expired = time.After(cfg.duration)
	}
	select {
	case s := <-ch:
		cfg.logger.Infof("Received signal %s: stopping", s)
	case <-expired:
		cfg.logger.Infof("Simulation ran for %s: stopping", cfg.duration)
	}

	go func() {
		select {
		case <-time.After(time.Duration(cfg.conf.ShutdownTimeout)):
			cfg.logger.Fatal("Timeout reached: terminating")
		case s := <-ch:
			cfg.logger.Fatalf("Received signal %s: terminating", s)
		}
	}()
	return cfg
}

func (cfg *runCfg) stopSimulation() *runCfg {
	var result error
	timeout := time.Duration(cfg.conf.ShutdownTimeout)

	if cfg.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := cfg.srv.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		cancel()
	}
	if err := cfg.sim.Close(timeout); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		cfg.logger.Fatal("Failed to stop simulation: ", result)
	}
	cfg.logger.Infof("Run %s stopped", cfg.runID)
	return cfg
}
