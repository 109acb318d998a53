// Command mcp-client is a smoke-test CLI driving pkg/mcpclient.Session
// against either a stdio subprocess or a Streamable HTTP URL target.
// Mirrors the teacher's own cmd/mcp-client/main.go kong command layout
// (Ping/Tools/Do/Prompts/Prompt), generalized from an OAuth-authenticated
// HTTP-only client to the dual stdio/HTTP transport this runtime supports;
// OAuth login is dropped (see DESIGN.md's Open Question decisions).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	kong "github.com/alecthomas/kong"
	otel "github.com/mutablelogic/go-client/pkg/otel"
	trace "go.opentelemetry.io/otel/trace"

	"github.com/mutablelogic/go-mcp/pkg/mcpclient"
	"github.com/mutablelogic/go-mcp/pkg/mcphttpclient"
	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcpstdio"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
	"github.com/mutablelogic/go-mcp/pkg/version"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type CLI struct {
	Globals

	// Commands
	Ping    PingCommand      `cmd:"" help:"Ping the MCP server"`
	Tools   ToolsCommand     `cmd:"" help:"List available tools"`
	Do      DoCommand        `cmd:"" help:"Call a tool by name"`
	Prompts PromptsCommand   `cmd:"" help:"List available prompts"`
	Prompt  PromptCommand    `cmd:"" help:"Get a prompt by name"`
	Version kong.VersionFlag `name:"version" help:"Print version and exit"`
}

type Globals struct {
	Target string   `arg:"" help:"Server target: an http(s):// URL, or a command to spawn over stdio"`
	Args   []string `arg:"" help:"Arguments for the spawned command, when Target is not a URL" optional:""`
	Debug  bool     `name:"debug" help:"Enable debug output" default:"false"`

	OTel struct {
		Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" help:"OpenTelemetry endpoint" default:""`
		Header   string `env:"OTEL_EXPORTER_OTLP_HEADERS" help:"OpenTelemetry collector headers"`
		Name     string `env:"OTEL_SERVICE_NAME" help:"OpenTelemetry service name" default:"mcp-client"`
	} `embed:"" prefix:"otel."`

	// Private
	ctx     context.Context
	cancel  context.CancelFunc
	tracer  trace.Tracer
	session *mcpclient.Session
}

type PingCommand struct{}
type ToolsCommand struct{}

type DoCommand struct {
	Name string   `arg:"" help:"Tool name"`
	Args []string `arg:"" help:"Tool arguments as key=value pairs" optional:""`
}

type PromptsCommand struct{}

type PromptCommand struct {
	Name string   `arg:"" help:"Prompt name"`
	Args []string `arg:"" help:"Prompt arguments as key=value pairs" optional:""`
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func main() {
	cli := CLI{}
	cmd := kong.Parse(&cli,
		kong.Name("mcp-client"),
		kong.Description("mcp-client command line interface"),
		kong.Vars{"version": string(version.JSON("mcp-client"))},
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	cli.ctx, cli.cancel = signal.NotifyContext(context.Background(), os.Interrupt)
	defer cli.cancel()

	if cli.OTel.Endpoint != "" {
		provider, err := otel.NewProvider(cli.OTel.Endpoint, cli.OTel.Header, cli.OTel.Name)
		cmd.FatalIfErrorf(err)
		defer provider.Shutdown(context.Background())
		cli.tracer = provider.Tracer(cli.OTel.Name)
	}

	cmd.FatalIfErrorf(cli.connect())
	defer cli.session.Close()

	cmd.FatalIfErrorf(cmd.Run(&cli.Globals))
}

// connect dials Target (spawning a stdio subprocess, or dialing an HTTP
// URL) and runs the initialize/initialized handshake, storing the ready
// session on Globals.
func (g *Globals) connect() error {
	info := mcpschema.Implementation{Name: "mcp-client", Version: version.Version()}

	var opts []mcpclient.Option
	if g.Debug {
		opts = append(opts, mcpclient.WithNotificationSink(func(method string, params json.RawMessage) {
			fmt.Fprintf(os.Stderr, "notification: %s %s\n", method, string(params))
		}))
	}
	if g.tracer != nil {
		opts = append(opts, mcpclient.WithTracer(g.tracer))
	}

	var session *mcpclient.Session

	if strings.HasPrefix(g.Target, "http://") || strings.HasPrefix(g.Target, "https://") {
		httpTransport, err := mcphttpclient.New(g.Target, "mcp-client/0.1.0")
		if err != nil {
			return err
		}
		session = mcpclient.New(httpTransport, info, opts...)
		httpTransport.Bind(session)
	} else {
		// mcpstdio.Spawn starts its read loop inline, before the Session
		// that will own it can exist — resolved the same way
		// cmd/mcp-server's runStdio resolves it.
		deferred := mcptransport.NewDeferredOwner()
		var stderrFn func(string)
		if g.Debug {
			stderrFn = func(line string) { fmt.Fprintln(os.Stderr, "stderr:", line) }
		}
		stdioTransport, err := mcpstdio.Spawn(g.ctx, deferred, stderrFn, g.Target, g.Args...)
		if err != nil {
			return err
		}
		session = mcpclient.New(stdioTransport, info, opts...)
		deferred.Bind(session)
	}

	if err := session.Connect(g.ctx); err != nil {
		return err
	}
	g.session = session
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *PingCommand) Run(g *Globals) error {
	if err := g.session.Ping(g.ctx); err != nil {
		return err
	}
	fmt.Println("OK")

	info := g.session.ServerInfo()
	caps := g.session.ServerCapabilities()
	fmt.Printf("Server: %s %s\n", info.Name, info.Version)
	fmt.Printf("Capabilities: tools=%v prompts=%v resources=%v logging=%v\n",
		caps.Tools != nil,
		caps.Prompts != nil,
		caps.Resources != nil,
		caps.Logging != nil,
	)
	return nil
}

func (cmd *ToolsCommand) Run(g *Globals) error {
	tools, err := g.session.ListAllTools(g.ctx)
	if err != nil {
		return err
	}
	for i, tool := range tools {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s\n", tool.Name)
		if tool.Description != "" {
			fmt.Printf("  %s\n", tool.Description)
		}
		if len(tool.InputSchema) > 0 {
			var pretty bytes.Buffer
			if json.Indent(&pretty, tool.InputSchema, "  ", "  ") == nil {
				fmt.Printf("  %s\n", pretty.String())
			}
		}
	}
	fmt.Printf("\n%d tools\n", len(tools))
	return nil
}

func (cmd *DoCommand) Run(g *Globals) error {
	args, err := parseArgsJSON(cmd.Args)
	if err != nil {
		return err
	}

	result, err := g.session.CallTool(g.ctx, cmd.Name, args)
	if err != nil {
		return err
	}

	if result.IsError {
		fmt.Fprintln(os.Stderr, "Tool returned an error")
	}
	for _, c := range result.Content {
		switch c.Type {
		case "text":
			fmt.Println(c.Text)
		default:
			fmt.Printf("[%s] %s\n", c.Type, c.MimeType)
		}
	}
	return nil
}

func (cmd *PromptsCommand) Run(g *Globals) error {
	prompts, err := g.session.ListAllPrompts(g.ctx)
	if err != nil {
		return err
	}
	for _, p := range prompts {
		fmt.Printf("%-30s %s\n", p.Name, p.Description)
		for _, arg := range p.Arguments {
			req := ""
			if arg.Required {
				req = " (required)"
			}
			fmt.Printf("  %-28s %s%s\n", arg.Name, arg.Description, req)
		}
	}
	fmt.Printf("\n%d prompts\n", len(prompts))
	return nil
}

func (cmd *PromptCommand) Run(g *Globals) error {
	args := make(map[string]string)
	for _, kv := range cmd.Args {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("argument must be key=value, got %q", kv)
		}
		args[parts[0]] = parts[1]
	}

	result, err := g.session.GetPrompt(g.ctx, cmd.Name, args)
	if err != nil {
		return err
	}
	if result.Description != "" {
		fmt.Println(result.Description)
		fmt.Println()
	}
	for i, msg := range result.Messages {
		fmt.Printf("[%d] %s (%s):\n", i, msg.Role, msg.Content.Type)
		if msg.Content.Text != "" {
			fmt.Println(msg.Content.Text)
		}
		fmt.Println()
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// HELPERS

// parseArgsJSON converts key=value pairs to a JSON object, or "{}" if no
// args are provided. A value that parses as JSON (number, bool, object) is
// kept as such; anything else is kept as a string.
func parseArgsJSON(args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return json.RawMessage(`{}`), nil
	}
	m := make(map[string]any, len(args))
	for _, kv := range args {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("argument must be key=value, got %q", kv)
		}
		var v any
		if err := json.Unmarshal([]byte(parts[1]), &v); err != nil {
			v = parts[1]
		}
		m[parts[0]] = v
	}
	return json.Marshal(m)
}
