// Command mcp-server boots a server-role MCP session bound either to
// stdio (in-process mode) or a Streamable HTTP listener, serving the
// pkg/mcpdemo toolkit. Mirrors cmd/llm/main.go's Globals/kong.Parse shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	kong "github.com/alecthomas/kong"
	otel "github.com/mutablelogic/go-client/pkg/otel"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	trace "go.opentelemetry.io/otel/trace"
	yaml "gopkg.in/yaml.v3"

	"github.com/mutablelogic/go-mcp/pkg/mcpdemo"
	"github.com/mutablelogic/go-mcp/pkg/mcphttp"
	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcpserver"
	"github.com/mutablelogic/go-mcp/pkg/mcpstdio"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
	"github.com/mutablelogic/go-mcp/pkg/version"
)

type Globals struct {
	Debug   bool             `name:"debug" help:"Enable debug logging"`
	Verbose bool             `name:"verbose" help:"Accepted but not read; only --debug changes logging"`
	Version kong.VersionFlag `name:"version" help:"Print version and exit"`
	Config  string `name:"config" help:"Optional YAML config file (http_addr and log_level defaults; a toolkit key is accepted but not used)" optional:"" type:"existingfile"`

	HTTP struct {
		Addr string `name:"addr" env:"MCP_ADDR" help:"HTTP listen address; when empty, serve on stdio instead" default:""`
		Path string `name:"path" help:"HTTP endpoint path" default:"/mcp"`
	} `embed:"" prefix:"http."`

	Stdio struct {
		Enable bool `name:"enable" help:"Accepted but not read; stdio (in-process mode) is served whenever --http.addr is empty" default:"true"`
	} `embed:"" prefix:"stdio."`

	OTel struct {
		Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" help:"OpenTelemetry endpoint" default:""`
		Header   string `env:"OTEL_EXPORTER_OTLP_HEADERS" help:"OpenTelemetry collector headers"`
		Name     string `env:"OTEL_SERVICE_NAME" help:"OpenTelemetry service name" default:"mcp-server"`
	} `embed:"" prefix:"otel."`
}

// fileConfig is the shape of the optional --config YAML file. Flags and
// env vars always take precedence: a field is only applied when the
// corresponding Globals value is still at its zero/default.
type fileConfig struct {
	Toolkit  string `yaml:"toolkit"`
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	if path == "" {
		return &fileConfig{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg fileConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func main() {
	cli := new(Globals)
	kong.Parse(cli,
		kong.Name("mcp-server"),
		kong.Description("mcp-server command line interface"),
		kong.Vars{"version": string(version.JSON("mcp-server"))},
		kong.UsageOnError(),
	)

	fileCfg, err := loadFileConfig(cli.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if cli.HTTP.Addr == "" && fileCfg.HTTPAddr != "" {
		cli.HTTP.Addr = fileCfg.HTTPAddr
	}
	debug := cli.Debug || strings.EqualFold(fileCfg.LogLevel, "debug")

	log := logger.New(os.Stderr, logger.Term, debug)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var tracer trace.Tracer
	if cli.OTel.Endpoint != "" {
		provider, err := otel.NewProvider(cli.OTel.Endpoint, cli.OTel.Header, cli.OTel.Name)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		defer provider.Shutdown(context.Background())
		tracer = provider.Tracer(cli.OTel.Name)
	}

	info := mcpschema.Implementation{Name: "mcp-server", Version: version.Version()}

	if cli.HTTP.Addr != "" {
		runHTTP(ctx, cli, info, log, tracer)
		return
	}
	runStdio(ctx, info, log, tracer)
}

func runStdio(ctx context.Context, info mcpschema.Implementation, log *logger.Logger, tracer trace.Tracer) {
	// mcpstdio.InProcess starts its read loop inline, before a
	// *mcpserver.Server can exist to own it (the Server constructor needs
	// the transport in hand). Break the cycle with a DeferredOwner: any
	// message arriving before Bind just blocks until it's called.
	deferred := mcptransport.NewDeferredOwner()
	transport := mcpstdio.InProcess(ctx, os.Stdin, os.Stdout, deferred)

	opts := []mcpserver.Option{mcpserver.WithLogger(log)}
	if tracer != nil {
		opts = append(opts, mcpserver.WithTracer(tracer))
	}
	srv := mcpserver.New(transport, info, mcpdemo.Toolkit{}, opts...)
	deferred.Bind(srv)

	<-ctx.Done()
	_ = srv.Close()
	srv.Wait()
}

func runHTTP(ctx context.Context, cli *Globals, info mcpschema.Implementation, log *logger.Logger, tracer trace.Tracer) {
	dispatcherOpts := []mcphttp.Option{mcphttp.WithLogger(log)}
	if tracer != nil {
		dispatcherOpts = append(dispatcherOpts, mcphttp.WithTracer(tracer))
	}
	dispatcher := mcphttp.NewDispatcher(cli.HTTP.Path, info,
		func() any { return mcpdemo.Toolkit{} },
		dispatcherOpts...,
	)

	srv := &http.Server{Addr: cli.HTTP.Addr, Handler: dispatcher}
	go func() {
		<-ctx.Done()
		dispatcher.Close()
		_ = srv.Close()
	}()

	log.Printf(ctx, "mcp-server listening on %s%s", cli.HTTP.Addr, cli.HTTP.Path)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
