package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"jan-server/tools/model-updater/internal/config"
	"jan-server/tools/model-updater/internal/infrastructure/logger"
	"jan-server/tools/model-updater/internal/infrastructure/modelapi"
	"jan-server/tools/model-updater/internal/utils/platformerrors"
	"jan-server/tools/model-updater/internal/utils/redact"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev"

const (
	exitOK             = 0
	exitFatal          = 1
	exitPartialFailure = 2
)

// errPartialFailure marks a completed run in which some writes failed.
var errPartialFailure = errors.New("some model updates failed")

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and maps the outcome to a process exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errPartialFailure):
		return exitPartialFailure
	default:
		msg := err.Error()
		var platformErr *platformerrors.PlatformError
		if errors.As(err, &platformErr) {
			msg = platformerrors.Detail(err)
		}
		fmt.Fprintf(stderr, "Error: %s\n", msg)
		return exitFatal
	}
}

// app carries the state shared by all commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configFile     string
	envFile        string
	baseURL        string
	apiPath        string
	apiKey         string
	cfID           string
	cfSecret       string
	headers        []string
	timeout        time.Duration
	connectTimeout time.Duration
	logLevel       string
	logFormat      string
	debug          bool

	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, log: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "model-updater",
		Short: "Bulk-update the base model of derived models on an OpenWebUI instance",
		Long: `model-updater rewrites the base_model_id of every derived model that points
at a deprecated base model, in parallel or one at a time.

Examples:
  # Preview what would change
  model-updater update --from gpt-4 --to gpt-4o --dry-run

  # Apply with 10 concurrent writes
  model-updater update --from gpt-4 --to gpt-4o --concurrency 10

  # Inspect the remote side
  model-updater list
  model-updater show my-assistant`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "YAML config file")
	flags.StringVar(&a.envFile, "env-file", "", "dotenv file to load (default: ./.env when present)")
	flags.StringVar(&a.baseURL, "url", "", "OpenWebUI base URL (OPENWEBUI_URL)")
	flags.StringVar(&a.apiPath, "api-path", "", "API base path (default /api/v1)")
	flags.StringVar(&a.apiKey, "api-key", "", "API bearer token (OPENWEBUI_API_KEY)")
	flags.StringVar(&a.cfID, "cf-id", "", "Cloudflare Access client id")
	flags.StringVar(&a.cfSecret, "cf-secret", "", "Cloudflare Access client secret")
	flags.StringArrayVar(&a.headers, "header", nil, "Extra request header as Name=Value (repeatable)")
	flags.DurationVar(&a.timeout, "timeout", 0, "Overall timeout per request (default 30s)")
	flags.DurationVar(&a.connectTimeout, "connect-timeout", 0, "Connect timeout (default 10s)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: console or json")
	flags.BoolVar(&a.debug, "debug", false, "Shortcut for --log-level debug")

	root.AddCommand(newUpdateCmd(a))
	root.AddCommand(newListCmd(a))
	root.AddCommand(newShowCmd(a))
	return root
}

// setup loads configuration, applies explicit flags on top and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile, a.envFile)
	if err != nil {
		return configError(cmd.Context(), err)
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.OpenWebUIURL = a.baseURL
	}
	if flags.Changed("api-path") {
		cfg.APIBasePath = a.apiPath
	}
	if flags.Changed("api-key") {
		cfg.APIKey = a.apiKey
	}
	if flags.Changed("cf-id") {
		cfg.CFClientID = a.cfID
	}
	if flags.Changed("cf-secret") {
		cfg.CFClientSecret = a.cfSecret
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = a.timeout
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = a.connectTimeout
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if a.debug {
		cfg.LogLevel = "debug"
	}
	for _, raw := range a.headers {
		name, value, err := config.ParseHeader(raw)
		if err != nil {
			return configError(cmd.Context(), err)
		}
		if cfg.ExtraHeaders == nil {
			cfg.ExtraHeaders = map[string]string{}
		}
		cfg.ExtraHeaders[name] = value
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, a.stderr)
	if err != nil {
		return configError(cmd.Context(), fmt.Errorf("logger: %w", err))
	}
	a.cfg = cfg
	a.log = log.With().Str("service", "model-updater").Logger()
	return nil
}

// newClient builds the transport client from the loaded configuration.
func (a *app) newClient() (*modelapi.Client, error) {
	cfg := a.cfg
	headers := cfg.ServiceHeaders()

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sanitizer := redact.NewSanitizer(redact.LevelNone, "", names...)

	return modelapi.NewClient(modelapi.Config{
		BaseURL:         cfg.OpenWebUIURL,
		APIBasePath:     cfg.APIBasePath,
		ListEndpoints:   cfg.ListEndpoints,
		UpdateEndpoints: cfg.UpdateEndpoints,
		UpdateMethod:    cfg.UpdateMethod,
		ConnectTimeout:  cfg.ConnectTimeout,
		RequestTimeout:  cfg.RequestTimeout,
		Auth:            modelapi.NewAuthenticator(cfg.APIKey, headers),
	}, a.log, sanitizer)
}

func configError(ctx context.Context, err error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return platformerrors.NewError(ctx, platformerrors.LayerCLI, platformerrors.ErrorTypeConfiguration,
		"invalid configuration", err, "")
}
