package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/taskdeck/internal/agents"
	"github.com/basket/taskdeck/internal/audit"
	"github.com/basket/taskdeck/internal/bus"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/config"
	"github.com/basket/taskdeck/internal/gateway"
	"github.com/basket/taskdeck/internal/maintenance"
	mcpserver "github.com/basket/taskdeck/internal/mcp"
	otelPkg "github.com/basket/taskdeck/internal/otel"
	"github.com/basket/taskdeck/internal/persistence"
	"github.com/basket/taskdeck/internal/policy"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/router"
	"github.com/basket/taskdeck/internal/services"
	"github.com/basket/taskdeck/internal/session"
	"github.com/basket/taskdeck/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the HTTP gateway daemon

SUBCOMMANDS:
  %s status                   Show daemon health status (/healthz)
  %s mcp                      Serve the MCP protocol on stdin/stdout
  %s version                  Print the version

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  TASKDECK_HOME           Data directory (default: ~/.taskdeck)
  TASKDECK_AUTH_TOKEN     Bearer token required on API routes
  TASKDECK_BIND_ADDR      Gateway listen address

EXAMPLES:
  Start the daemon:       %s
  Check daemon health:    %s status
`, os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveMCP := false
	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "version":
			fmt.Println(Version)
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "mcp":
			serveMCP = true
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// MCP clients own stdout, so logs go to the file sink only.
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, serveMCP)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	store, err := persistence.Open(cfg.ResolvedDBPath())
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	commandLog, err := audit.New(audit.Options{
		Dir:    cfg.HomeDir,
		DB:     store.DB(),
		Bus:    eventBus,
		Logger: logger,
	})
	if err != nil {
		fatalStartup(logger, "E_AUDIT_INIT", err)
	}
	defer commandLog.Close()

	policyPath := cfg.ResolvedPolicyPath()
	if _, statErr := os.Stat(policyPath); os.IsNotExist(statErr) {
		if writeErr := writeDefaultPolicy(policyPath); writeErr != nil {
			fatalStartup(logger, "E_POLICY_BOOTSTRAP", writeErr)
		}
		logger.Info("policy.yaml bootstrapped with defaults", "path", policyPath)
	}
	ruleSet, err := policy.Load(policyPath)
	if err != nil {
		fatalStartup(logger, "E_POLICY_LOAD", err)
	}
	liveRules := policy.NewLiveRules(ruleSet)
	logger.Info("startup phase", "phase", "policy_loaded", "rules", len(ruleSet.Rules))

	directory := agents.NewDirectory(agents.Options{
		Logger:        logger,
		SeedAnonymous: cfg.AllowAnonymous,
	})
	sessions := session.NewStore(logger)
	sessions.SetDurations(
		time.Duration(cfg.Sessions.ExpiryMinutes)*time.Minute,
		time.Duration(cfg.Sessions.RetainExpiredHours)*time.Hour,
	)

	validator, err := command.NewValidator()
	if err != nil {
		fatalStartup(logger, "E_VALIDATOR_INIT", err)
	}

	reg := registry.New(logger)
	systemSvc := services.NewSystemService(services.SystemDeps{
		Store:      store,
		Sessions:   sessions,
		Directory:  directory,
		Log:        commandLog,
		Registry:   reg,
		Rules:      liveRules,
		PolicyPath: policyPath,
	})
	for _, svc := range []registry.Service{
		services.NewListService(store),
		services.NewItemService(store),
		services.NewWorkflowService(store),
		services.NewAgentService(directory),
		services.NewSessionService(sessions),
		systemSvc,
	} {
		if err := reg.Register(svc); err != nil {
			fatalStartup(logger, "E_SERVICE_REGISTER", err)
		}
	}
	rt := router.New(router.Options{
		Validator:      validator,
		Sessions:       sessions,
		Directory:      directory,
		Engine:         policy.NewEngine(liveRules),
		Registry:       reg,
		Log:            commandLog,
		Bus:            eventBus,
		Metrics:        metrics,
		Logger:         logger,
		AllowAnonymous: cfg.AllowAnonymous,
		Production:     cfg.Production,
		MaxConcurrency: cfg.Batch.MaxConcurrency,
	})
	if err := reg.Register(services.NewBatchService(rt, cfg.Batch.MaxSize)); err != nil {
		fatalStartup(logger, "E_SERVICE_REGISTER", err)
	}
	logger.Info("startup phase", "phase", "services_registered", "count", 7)

	if serveMCP {
		srv := mcpserver.New(mcpserver.Deps{Router: rt, Registry: reg, Version: Version})
		if err := mcpserver.ServeStdio(srv); err != nil {
			logger.Error("mcp server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	sweeper, err := maintenance.NewSweeper(maintenance.Config{
		Sessions:         sessions,
		Directory:        directory,
		Bus:              eventBus,
		Logger:           logger,
		SessionSweepSpec: fmt.Sprintf("*/%d * * * *", cfg.Sessions.SweepEveryMinutes),
	})
	if err != nil {
		fatalStartup(logger, "E_SWEEPER_INIT", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, policyPath, logger)
	if err := watcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range watcher.Events() {
			if ev.Path != policyPath {
				continue
			}
			if err := policy.ReloadFromFile(liveRules, policyPath); err != nil {
				logger.Error("policy reload failed, previous rules retained", "error", err)
				continue
			}
			logger.Info("policy reloaded", "path", policyPath)
		}
	}()

	gw := gateway.New(gateway.Config{
		Router:             rt,
		Registry:           reg,
		Log:                commandLog,
		Bus:                eventBus,
		Metrics:            metrics,
		Logger:             logger,
		AuthToken:          cfg.Gateway.AuthToken,
		AllowOrigins:       cfg.Gateway.AllowOrigins,
		RateLimitPerMinute: cfg.Gateway.RateLimitPerMinute,
		RateBurst:          cfg.Gateway.RateBurst,
		MaxBatchSize:       cfg.Batch.MaxSize,
		ConfigFingerprint:  cfg.Fingerprint(),
	})
	gw.StartEviction(ctx, 10*time.Minute, time.Hour)

	server := &http.Server{
		Addr:    cfg.Gateway.BindAddr,
		Handler: gw.Handler(),
	}
	ln, err := net.Listen("tcp", cfg.Gateway.BindAddr)
	if err != nil {
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Gateway.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	// Stop intake first, then drain sessions, then flush sinks via the
	// deferred closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	terminated := sessions.Shutdown()
	logger.Info("shutdown complete", "sessions_terminated", terminated)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"taskdeck","correlation_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

// writeDefaultPolicy persists the built-in rule set so operators have a
// file to edit.
func writeDefaultPolicy(path string) error {
	out, err := yaml.Marshal(policy.Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// loadDotEnv sets env vars from a .env file without overriding values
// already present in the environment.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
