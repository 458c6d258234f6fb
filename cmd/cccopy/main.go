// Command cccopy mediates two-way sync between a shared Production
// directory and a user's Work directory, keyed by a project configuration
// resolved from templates and per-user overrides.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cccopy/cccopy/internal/classifier"
	"github.com/cccopy/cccopy/internal/conflict"
	"github.com/cccopy/cccopy/internal/lock"
	"github.com/cccopy/cccopy/internal/metrics"
	"github.com/cccopy/cccopy/internal/pattern"
	"github.com/cccopy/cccopy/internal/privilege"
	"github.com/cccopy/cccopy/internal/project"
	"github.com/cccopy/cccopy/internal/runtimeconfig"
	"github.com/cccopy/cccopy/internal/sync"
	"github.com/cccopy/cccopy/internal/tagstore"
	"github.com/cccopy/cccopy/internal/textui"
	"github.com/cccopy/cccopy/internal/vcs"
	"github.com/cccopy/cccopy/pkg/api"
	"github.com/cccopy/cccopy/pkg/health"
	"github.com/cccopy/cccopy/pkg/retry"
	"github.com/cccopy/cccopy/pkg/status"
	"github.com/cccopy/cccopy/pkg/types"
	"github.com/cccopy/cccopy/pkg/utils"
)

const reexecGuardEnv = "CCCOPY_REEXEC_DONE"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 2
	}

	runtimeCfg, err := runtimeconfig.Load(os.Getenv("CCCOPY_RUNTIME_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load runtime configuration:", err)
		return 1
	}

	loggerConfig := utils.DefaultStructuredLoggerConfig()
	if home, homeErr := os.UserHomeDir(); homeErr == nil {
		loggerConfig.Rotation = &utils.RotationConfig{
			Dir:      filepath.Join(home, ".cccopy", "log"),
			MaxLines: runtimeCfg.Log.MaxLines,
			MaxFiles: runtimeCfg.Log.MaxFiles,
		}
	}

	logger, err := utils.NewStructuredLogger(loggerConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		return 1
	}
	defer func() { _ = logger.Close() }()

	resolver, err := newResolver()
	if err != nil {
		logger.Error("failed to build project resolver", map[string]interface{}{"error": err.Error()})
		return 1
	}

	opArgs := args[1:]
	projectID, err := selectProject(resolver, opArgs)
	if err != nil {
		logger.Error("failed to select project", map[string]interface{}{"error": err.Error()})
		return 1
	}
	if len(opArgs) > 0 && opArgs[0] == projectID {
		opArgs = opArgs[1:]
	}

	proj, err := resolver.Resolve(projectID)
	if err != nil {
		logger.Error("failed to resolve project configuration", map[string]interface{}{"project": projectID, "error": err.Error()})
		return 1
	}
	if err := project.Validate(proj); err != nil {
		logger.Error("invalid project configuration", map[string]interface{}{"project": projectID, "error": err.Error()})
		return 1
	}

	if reexecIfGroupMismatch(proj, logger) {
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metricsCollector, err := metrics.NewCollector(metricsConfigFrom(runtimeCfg))
	if err != nil {
		logger.Error("failed to build metrics collector", map[string]interface{}{"error": err.Error()})
		return 1
	}
	if runtimeCfg.Metrics.Enabled {
		if err := metricsCollector.Start(ctx); err != nil {
			logger.Error("failed to start metrics server", map[string]interface{}{"error": err.Error()})
			return 1
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsCollector.Stop(stopCtx)
		}()
	}

	knownGroups := map[string]bool{}
	if proj.Group != "" {
		knownGroups[proj.Group] = true
	}
	escalator := privilege.New(knownGroups, logger, metricsCollector)

	retryer := retry.New(retry.DefaultConfig())
	gitBin := envOr("CCCOPY_GIT_BIN_PATH", "git")
	vcsAdapter := vcs.New(gitBin, retryer, logger)

	stateDir, err := project.DefaultStateDir()
	if err != nil {
		logger.Error("failed to resolve state directory", map[string]interface{}{"error": err.Error()})
		return 1
	}
	tagStore := tagstore.New(stateDir, vcsAdapter)
	classifierImpl := classifier.New(vcsAdapter)

	ui := textui.New()
	diffLauncher := conflict.NewVSCodeDiffLauncher(envOr("CCCOPY_VSCODE_PATH", "code"))
	mediator := conflict.New(ui, diffLauncher, vcsAdapter, escalator)

	statusTracker := status.NewTracker(status.DefaultTrackerConfig())
	projectTracker := status.NewProjectTracker(statusTracker)

	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("vcs")
	healthTracker.RegisterComponent("escalation")

	engine := sync.New(sync.Config{
		VCS:        vcsAdapter,
		Escalator:  escalator,
		TagStore:   tagStore,
		Pattern:    func(sources, excludes []string) types.PatternMatcher { return pattern.New(sources, excludes, nil) },
		Classifier: classifierImpl,
		Mediator:   mediator,
		UI:         ui,
		Status:     projectTracker,
		Metrics:    metricsCollector,
		Logger:     logger,
		LockConfig: lockConfigFrom(runtimeCfg),
	})

	var stopStatusServer func()
	if addr := os.Getenv("CCCOPY_STATUS_HTTP_ADDR"); addr != "" {
		stopStatusServer = startStatusServer(ctx, addr, statusTracker, healthTracker, logger)
		defer stopStatusServer()
	}

	exitCode := dispatch(ctx, engine, &proj, args[0], opArgs)
	if exitCode == 0 {
		healthTracker.RecordSuccess("vcs")
	} else {
		healthTracker.RecordError("vcs", fmt.Errorf("%s exited with status %d", args[0], exitCode))
	}
	return exitCode
}

// metricsConfigFrom translates the runtime config's address-based metrics
// knob into the collector's Port/Path contract. A malformed address falls
// back to the collector's own default port.
func metricsConfigFrom(cfg *runtimeconfig.Config) *metrics.Config {
	port := 9090
	if _, portStr, err := net.SplitHostPort(cfg.Metrics.Address); err == nil {
		if p, convErr := strconv.Atoi(portStr); convErr == nil {
			port = p
		}
	}
	return &metrics.Config{
		Enabled:        cfg.Metrics.Enabled,
		Port:           port,
		Path:           "/metrics",
		Namespace:      "cccopy",
		UpdateInterval: 30 * time.Second,
	}
}

func lockConfigFrom(cfg *runtimeconfig.Config) lock.Config {
	lc := lock.DefaultConfig()
	if cfg.Lock.PollInterval > 0 {
		lc.PollInterval = cfg.Lock.PollInterval
	}
	if cfg.Lock.StaleAfter > 0 {
		lc.StaleAfter = cfg.Lock.StaleAfter
	}
	return lc
}

func newResolver() (*project.Resolver, error) {
	templateDir := envOr("CCCOPY_PROJECT_TEMPLATE_DIR", project.TemplateDir("."))
	stateDir, err := project.DefaultStateDir()
	if err != nil {
		return nil, err
	}
	return project.New(templateDir, stateDir), nil
}

func selectProject(resolver *project.Resolver, rest []string) (string, error) {
	if len(rest) > 0 {
		_ = resolver.SetLastProject(rest[0])
		return rest[0], nil
	}
	last, err := resolver.LastProject()
	if err == nil && last != "" {
		return last, nil
	}
	templates, err := resolver.Templates()
	if err != nil {
		return "", err
	}
	for id := range templates {
		return id, nil
	}
	return "", fmt.Errorf("no project specified and no project templates found")
}

// reexecIfGroupMismatch re-executes the process under the project's
// required group via sg(1) when the effective group doesn't already match,
// so that direct filesystem operations below the privilege escalator (the
// project's own command invocation) observe the right group ownership.
// Guarded by CCCOPY_REEXEC_DONE so a re-exec never loops.
func reexecIfGroupMismatch(proj types.Project, logger *utils.StructuredLogger) bool {
	if proj.Group == "" || os.Getenv(reexecGuardEnv) == "1" {
		return false
	}
	if g, lookupErr := user.LookupGroup(proj.Group); lookupErr == nil && g.Gid == strconv.Itoa(os.Getegid()) {
		return false
	}
	self, err := os.Executable()
	if err != nil {
		logger.Warn("could not resolve executable path for group re-exec", map[string]interface{}{"error": err.Error()})
		return false
	}

	env := append(os.Environ(), reexecGuardEnv+"=1")
	proc := exec.Command("sg", proj.Group, "-c", shellJoin(self, os.Args[1:]))
	proc.Env = env
	proc.Stdin, proc.Stdout, proc.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := proc.Run(); err != nil {
		logger.Warn("group re-exec failed, continuing with current credentials", map[string]interface{}{"group": proj.Group, "error": err.Error()})
		return false
	}
	return true
}

func startStatusServer(ctx context.Context, addr string, statusTracker *status.Tracker, healthTracker *health.Tracker, logger *utils.StructuredLogger) func() {
	cfg := api.DefaultServerConfig()
	cfg.Address = addr
	server := api.NewServer(cfg, statusTracker, healthTracker)

	server.StartBackground()

	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(stopCtx)
	}
}

func shellJoin(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(bin))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func dispatch(ctx context.Context, engine *sync.Engine, proj *types.Project, cmd string, rest []string) int {
	switch cmd {
	case "download":
		return runOp(engine.Download(ctx, proj))
	case "upload":
		message := argOr(rest, 0, "")
		return runOp(engine.Upload(ctx, proj, message))
	case "save":
		message := argOr(rest, 0, "Work changes")
		return runOp(engine.Save(ctx, proj, message))
	case "rollback":
		return runOp(engine.Rollback(ctx, proj, argOr(rest, 0, "")))
	case "export":
		return runOp(engine.Export(ctx, proj, argOr(rest, 0, ""), argOr(rest, 1, "")))
	default:
		printUsage()
		return 2
	}
}

func runOp(err error) int {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: cccopy <download|upload|save|rollback|export> [project] [args...]`)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func argOr(args []string, index int, fallback string) string {
	if index < len(args) {
		return args[index]
	}
	return fallback
}
