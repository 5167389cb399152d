// Package main is the entry point for the Ankaios agent: it dials the
// server, runs the workloads scheduled to it through a runtime.Adapter, and
// exposes one Control Interface socket per workload instance it tracks.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/agentnode"
	"github.com/ankaios/ankaios/internal/common/config"
	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging/tlsconfig"
	"github.com/ankaios/ankaios/internal/messaging/wsocket"
	"github.com/ankaios/ankaios/internal/runtime"
	"github.com/ankaios/ankaios/internal/runtime/docker"
	"github.com/ankaios/ankaios/internal/runtime/fake"
)

var (
	configPathFlag = flag.String("config", "", "directory to search for config.yaml, in addition to the default locations")
	nameFlag       = flag.String("name", "", "agent name; overrides agent.name from configuration")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *nameFlag != "" {
		cfg.Agent.Name = *nameFlag
	}
	if cfg.Agent.Name == "" {
		fmt.Fprintln(os.Stderr, "agent name is required: set agent.name or pass --name")
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)
	log = log.WithAgentName(cfg.Agent.Name)

	log.Info("starting ankaios-agent",
		zap.String("agent", cfg.Agent.Name),
		zap.String("serverHost", cfg.Agent.ServerHost),
		zap.Int("serverPort", cfg.Agent.ServerPort),
	)

	adapter, closeAdapter, err := newRuntimeAdapter(cfg.Docker, log)
	if err != nil {
		log.Fatal("failed to initialize runtime adapter", zap.Error(err))
	}
	if closeAdapter != nil {
		defer closeAdapter()
	}

	tlsCfg, err := tlsconfig.Client(cfg.TLS)
	if err != nil {
		log.Fatal("failed to build client TLS configuration", zap.Error(err))
	}
	scheme := "ws"
	if tlsCfg != nil {
		scheme = "wss"
	}
	addr := fmt.Sprintf("%s://%s:%d/", scheme, cfg.Agent.ServerHost, cfg.Agent.ServerPort)
	dialer := wsocket.NewDialer(log, tlsCfg)

	conn := agentnode.NewConnection(cfg.Agent.Name, addr, dialer, adapter, sampleLoad, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := conn.Start(ctx); err != nil {
		log.Fatal("failed to start connection", zap.Error(err))
	}

	controlDir := filepath.Join(cfg.ControlInterface.SocketDir, cfg.Agent.Name)
	if err := os.MkdirAll(controlDir, 0o755); err != nil {
		log.Fatal("failed to create control interface socket directory", zap.Error(err))
	}
	controlServer := agentnode.NewControlServer(controlDir, conn.Reconciler(), conn, adapter, log)
	if err := controlServer.Start(ctx); err != nil {
		log.Fatal("failed to start control interface server", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down ankaios-agent")
	cancel()

	if err := controlServer.Stop(); err != nil {
		log.Error("control interface server stop error", zap.Error(err))
	}
	if err := conn.Stop(); err != nil {
		log.Error("connection stop error", zap.Error(err))
	}

	log.Info("ankaios-agent stopped")
}

// newRuntimeAdapter picks the Docker adapter when enabled, falling back to
// the in-memory fake so the agent can still run (e.g. in CI or a sandbox
// without a container engine) when docker.enabled is false.
func newRuntimeAdapter(cfg config.DockerConfig, log *logger.Logger) (runtime.Adapter, func(), error) {
	if !cfg.Enabled {
		log.Warn("docker runtime disabled by configuration, using in-memory fake adapter")
		return fake.New(), nil, nil
	}
	adapter, err := docker.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return adapter, func() { _ = adapter.Close() }, nil
}

// sampleLoad reports this host's CPU load and free memory for
// AgentLoadStatus, read from /proc since no profiling library in the
// retrieval pack covers host resource sampling.
func sampleLoad() (cpuPercent float64, freeMemoryBytes int64) {
	cpuPercent = readLoadPercent()
	freeMemoryBytes = readFreeMemoryBytes()
	return cpuPercent, freeMemoryBytes
}

func readLoadPercent() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	cpus := float64(onlineCPUs())
	if cpus <= 0 {
		cpus = 1
	}
	pct := (load1 / cpus) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func onlineCPUs() int {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return 1
	}
	count := strings.Count(string(data), "processor\t:")
	if count == 0 {
		return 1
	}
	return count
}

func readFreeMemoryBytes() int64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
