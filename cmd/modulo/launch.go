package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/enamentis/modulo/internal/bus"
	"github.com/enamentis/modulo/internal/logging"
	"github.com/enamentis/modulo/internal/metrics"
	"github.com/enamentis/modulo/internal/transport"
)

const detachedEnvVar = "MODULO_DETACHED_UNIT"

var launchCmd = &cobra.Command{
	Use:   "launch <unit-type> <unit-name> [--host H --port P] [--detached]",
	Short: "Boot a unit",
	Args:  cobra.ExactArgs(2),
	RunE:  runLaunch,
}

func init() {
	launchCmd.Flags().String("host", "127.0.0.1", "Host to bind the unit's transport listener on")
	launchCmd.Flags().Int("port", 0, "Port to bind on (0 lets the OS choose)")
	launchCmd.Flags().Int("metrics-port", 0, "Port to serve /metrics on (0 lets the OS choose)")
	launchCmd.Flags().Bool("detached", false, "Run the unit in the background")
}

func runLaunch(cmd *cobra.Command, args []string) error {
	unitType, unitName := args[0], args[1]
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	metricsPort, _ := cmd.Flags().GetInt("metrics-port")
	detached, _ := cmd.Flags().GetBool("detached")
	dataRoot, _ := cmd.Flags().GetString("data-root")

	if unitType == "" || unitName == "" {
		return withExitCode(exitUserError, fmt.Errorf("unit-type and unit-name must not be empty"))
	}

	if detached && os.Getenv(detachedEnvVar) == "" {
		return relaunchDetached(dataRoot, unitType, unitName, host, port, metricsPort)
	}

	return runUnit(unitType, unitName, host, port, metricsPort, dataRoot)
}

// relaunchDetached re-executes the current binary with the same launch
// arguments, marking the child via detachedEnvVar so it runs the unit in
// the foreground of its own process group, with stdout/stderr redirected
// to a log file under the data root. The parent process returns once the
// child is spawned, mirroring a classic daemonize-on-fork pattern without
// requiring a platform-specific fork syscall.
func relaunchDetached(dataRoot, unitType, unitName, host string, port, metricsPort int) error {
	logDir := filepath.Join(dataRoot, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return withExitCode(exitUserError, fmt.Errorf("creating log directory: %w", err))
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-%s.log", unitType, unitName))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return withExitCode(exitUserError, fmt.Errorf("opening unit log file: %w", err))
	}
	defer logFile.Close()

	self, err := os.Executable()
	if err != nil {
		return withExitCode(exitUserError, fmt.Errorf("resolving executable path: %w", err))
	}

	child := exec.Command(self, "launch", unitType, unitName,
		"--host", host, "--port", fmt.Sprintf("%d", port),
		"--metrics-port", fmt.Sprintf("%d", metricsPort),
		"--data-root", dataRoot)
	child.Env = append(os.Environ(), detachedEnvVar+"=1")
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return withExitCode(exitConnectivity, fmt.Errorf("spawning detached unit: %w", err))
	}

	fmt.Printf("Launched %s %q detached (pid %d), logging to %s\n", unitType, unitName, child.Process.Pid, logPath)
	return nil
}

// runUnit boots the unit's transport listener, a /metrics HTTP server, and
// the bus service manager in the foreground, registers the unit in the
// local unit registry, and blocks until an interrupt or a "kill" operation
// command arrives.
func runUnit(unitType, unitName, host string, port, metricsPort int, dataRoot string) error {
	logger := logging.WithUnit(unitName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, metricsPort))
	if err != nil {
		return withExitCode(exitConnectivity, fmt.Errorf("starting metrics listener: %w", err))
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Handler: metricsMux}
	go func() {
		if err := metricsServer.Serve(metricsListener); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
	defer metricsServer.Close()
	logger.Info().Str("addr", metricsListener.Addr().String()).Msg("serving /metrics")

	broker := bus.NewBroker(64)
	manager := bus.NewServiceManager(unitName, broker)

	handler := func(payload []byte, peerAddr string) {
		cmd, err := decodeCommand(payload)
		if err != nil {
			logger.Warn().Err(err).Str("peer", peerAddr).Msg("received malformed operation command")
			return
		}
		logger.Info().Str("command", cmd.Command).Str("peer", peerAddr).Msg("operation command received")
		if cmd.Command == "kill" {
			cancel()
		}
	}

	server := transport.NewServerWorker(fmt.Sprintf("%s:%d", host, port), handler)
	if err := server.Start(ctx); err != nil {
		return withExitCode(exitConnectivity, fmt.Errorf("starting unit listener: %w", err))
	}
	defer server.Stop()

	bound := server.Addr()
	if bound == nil {
		return withExitCode(exitConnectivity, fmt.Errorf("unit listener did not bind"))
	}
	boundHost, boundPort := splitHostPort(bound.String())

	if err := manager.Connect(ctx); err != nil {
		return withExitCode(exitConnectivity, fmt.Errorf("connecting unit to bus: %w", err))
	}
	if err := manager.Subscribe([]string{"commands", "notifications"}); err != nil {
		return withExitCode(exitUserError, err)
	}
	if err := manager.Start(); err != nil {
		return withExitCode(exitUserError, err)
	}
	defer manager.Terminate(context.Background())

	record := unitRecord{
		ID:        unitName,
		UnitType:  unitType,
		Host:      boundHost,
		Port:      boundPort,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	}
	if err := registerUnit(dataRoot, record); err != nil {
		return withExitCode(exitUserError, fmt.Errorf("registering unit: %w", err))
	}
	defer removeUnit(dataRoot, unitName)

	fmt.Printf("Unit %q (%s) listening on %s\n", unitName, unitType, bound.String())
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
		return withExitCode(exitInterrupted, fmt.Errorf("interrupted"))
	case <-ctx.Done():
		fmt.Println("Received kill command, shutting down...")
		return nil
	}
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
