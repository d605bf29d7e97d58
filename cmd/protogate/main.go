package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/protogate/protogate/internal/eventbus"
	"github.com/protogate/protogate/internal/gateway"
	"github.com/protogate/protogate/internal/grpcpool"
	"github.com/protogate/protogate/internal/logging"
	"github.com/protogate/protogate/internal/otel"
	"github.com/protogate/protogate/internal/server"
)

const rootUsage = `protogate — dynamic gRPC ↔ GraphQL gateway

USAGE:
  protogate <command> [flags]

COMMANDS:
  serve          Serve the GraphQL API described by a descriptor set
  print-schema   Print the synthesized GraphQL SDL
  help           Show help for any command
`

const serveUsage = `serve FLAGS:
  -descriptor <file>              Binary FileDescriptorSet (required)
  -federation                     Enable federation directives and _entities
  -service <fqn>                  Restrict to a service. Repeatable
  -backend <Svc=host:port>        Map a gRPC service to an endpoint; use
                                  *=host:port as the default for services named
                                  with -service that have no explicit backend
                                  (ignored without -service). Repeatable
  -backend-insecure               Dial explicit backends in plaintext
  -entity <Type=Svc/Method:key>   Entity resolution mapping. Repeatable
  -client.deadline <duration>     Default unary deadline (default: 3s)
  -client.eager                   Dial all backends at startup, fail fast
  -server.addr <addr>             HTTP listen address (default: :8080)
  -server.timeout <duration>      Per-request timeout (default: 10s)
  -server.pretty                  Pretty-print JSON responses
  -server.max-body-bytes <n>      Request body limit (default: unlimited)
  -server.metadata-header <name>  Forward HTTP header to gRPC metadata. Repeatable
  -server.cors-origin <origin>    Allowed CORS origin. Repeatable
  -introspection <bool>           Enable introspection (default: true)
  -otel.endpoint <addr>           OTLP collector endpoint
  -otel.service <name>            OpenTelemetry service name (default: protogate)
  -log.level <level>              zap level: debug|info|warn|error (default: info)
`

const printSchemaUsage = `print-schema FLAGS:
  -descriptor <file>   Binary FileDescriptorSet (required)
  -federation          Enable federation directives and _entities
  -service <fqn>       Restrict to a service. Repeatable
  -out <file>          Write SDL to file (default: stdout)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "serve":
		return cmdServe(args[1:])
	case "print-schema":
		return cmdPrintSchema(args[1:])
	case "help":
		return cmdHelp(args[1:])
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "print-schema":
		fmt.Print(printSchemaUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type backendFlag struct {
	m map[string]string
}

func (b *backendFlag) String() string { return "" }

func (b *backendFlag) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return fmt.Errorf("invalid backend %q", v)
	}
	if b.m == nil {
		b.m = map[string]string{}
	}
	b.m[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	return nil
}

type entityFlag struct {
	mappings []gateway.EntityMapping
}

func (e *entityFlag) String() string { return "" }

// Set parses "Type=pkg.Service/Method:keyField".
func (e *entityFlag) Set(v string) error {
	typeAndRest := strings.SplitN(v, "=", 2)
	if len(typeAndRest) != 2 {
		return fmt.Errorf("invalid entity mapping %q", v)
	}
	svcAndKey := strings.SplitN(typeAndRest[1], ":", 2)
	if len(svcAndKey) != 2 {
		return fmt.Errorf("invalid entity mapping %q", v)
	}
	svcAndMethod := strings.SplitN(svcAndKey[0], "/", 2)
	if len(svcAndMethod) != 2 {
		return fmt.Errorf("invalid entity mapping %q", v)
	}
	e.mappings = append(e.mappings, gateway.EntityMapping{
		TypeName: strings.TrimSpace(typeAndRest[0]),
		Service:  strings.TrimSpace(svcAndMethod[0]),
		Method:   strings.TrimSpace(svcAndMethod[1]),
		KeyField: strings.TrimSpace(svcAndKey[1]),
	})
	return nil
}

func cmdServe(args []string) error {
	descriptorFile := ""
	federation := false
	addr := ":8080"
	timeout := 10 * time.Second
	pretty := false
	maxBody := int64(0)
	introspection := true
	clientDeadline := 3 * time.Second
	eager := false
	backendInsecure := false
	otelEndpoint := ""
	otelService := "protogate"
	logLevel := "info"
	var services, metadataHeaders, corsOrigins stringListFlag
	var backends backendFlag
	var entities entityFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&descriptorFile, "descriptor", descriptorFile, "Binary FileDescriptorSet")
	fs.BoolVar(&federation, "federation", federation, "Enable federation")
	fs.Var(&services, "service", "Restrict to a service")
	fs.Var(&backends, "backend", "Map a gRPC service to an endpoint")
	fs.BoolVar(&backendInsecure, "backend-insecure", backendInsecure, "Dial explicit backends in plaintext")
	fs.Var(&entities, "entity", "Entity resolution mapping")
	fs.DurationVar(&clientDeadline, "client.deadline", clientDeadline, "Default unary deadline")
	fs.BoolVar(&eager, "client.eager", eager, "Dial all backends at startup")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.Int64Var(&maxBody, "server.max-body-bytes", maxBody, "Request body limit")
	fs.Var(&metadataHeaders, "server.metadata-header", "Forward HTTP header to gRPC metadata")
	fs.Var(&corsOrigins, "server.cors-origin", "Allowed CORS origin")
	fs.BoolVar(&introspection, "introspection", introspection, "Enable introspection")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	fs.StringVar(&logLevel, "log.level", logLevel, "zap log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if descriptorFile == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-descriptor is required")
	}

	eventbus.Use(eventbus.New())
	logger, err := logging.New(logLevel)
	if err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}
	defer logger.Sync()
	detach := logging.Attach(logger)
	defer detach()

	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	builder := gateway.NewBuilder().
		WithIntrospection(introspection).
		WithClientDefaults(grpcpool.Defaults{Deadline: clientDeadline}).
		WithServerOptions(
			server.WithTimeout(timeout),
			server.WithMetadataHeaders(metadataHeaders...),
		)
	if _, err := builder.WithDescriptorSetFile(descriptorFile); err != nil {
		return fmt.Errorf("read descriptor set: %w", err)
	}
	if federation {
		builder.WithFederation()
	}
	if len(services) > 0 {
		builder.WithServices(services...)
	}
	if pretty {
		builder.WithServerOptions(server.WithPretty())
	}
	if maxBody > 0 {
		builder.WithServerOptions(server.WithMaxBodyBytes(maxBody))
	}
	if len(corsOrigins) > 0 {
		builder.WithServerOptions(server.WithCORS(corsOrigins...))
	}
	if eager {
		builder.WithEagerConnect()
	}
	wildcard := backends.m["*"]
	for svc, ep := range backends.m {
		if svc == "*" {
			continue
		}
		builder.WithBackend(gateway.Backend{Service: svc, Endpoint: ep, Insecure: backendInsecure})
	}
	if wildcard != "" {
		for _, svc := range services {
			if _, explicit := backends.m[svc]; !explicit {
				builder.WithBackend(gateway.Backend{Service: svc, Endpoint: wildcard, Insecure: backendInsecure})
			}
		}
	}
	for _, m := range entities.mappings {
		builder.WithEntityMapping(m)
	}

	gw, err := builder.Build(context.Background())
	if err != nil {
		return err
	}
	defer gw.Close()

	logger.Info("gateway listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, gw.Handler())
}

func cmdPrintSchema(args []string) error {
	descriptorFile := ""
	federation := false
	outFile := ""
	var services stringListFlag

	fs := flag.NewFlagSet("print-schema", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&descriptorFile, "descriptor", descriptorFile, "Binary FileDescriptorSet")
	fs.BoolVar(&federation, "federation", federation, "Enable federation")
	fs.Var(&services, "service", "Restrict to a service")
	fs.StringVar(&outFile, "out", outFile, "Write SDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, printSchemaUsage)
		return err
	}
	if descriptorFile == "" {
		fmt.Fprint(os.Stderr, printSchemaUsage)
		return fmt.Errorf("-descriptor is required")
	}

	builder := gateway.NewBuilder().WithIntrospection(false)
	if _, err := builder.WithDescriptorSetFile(descriptorFile); err != nil {
		return fmt.Errorf("read descriptor set: %w", err)
	}
	if federation {
		builder.WithFederation()
	}
	if len(services) > 0 {
		builder.WithServices(services...)
	}
	gw, err := builder.Build(context.Background())
	if err != nil {
		return err
	}
	defer gw.Close()

	if outFile == "" {
		fmt.Print(gw.SDL())
		return nil
	}
	return os.WriteFile(outFile, []byte(gw.SDL()), 0644)
}
