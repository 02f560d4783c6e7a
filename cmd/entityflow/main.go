package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/hanpama/entityflow/internal/assemble"
	"github.com/hanpama/entityflow/internal/entity"
	"github.com/hanpama/entityflow/internal/entitycache"
	"github.com/hanpama/entityflow/internal/eventbus"
	"github.com/hanpama/entityflow/internal/eventobs"
	"github.com/hanpama/entityflow/internal/language"
	"github.com/hanpama/entityflow/internal/metrics"
	"github.com/hanpama/entityflow/internal/otel"
	"github.com/hanpama/entityflow/internal/pgstore"
	"github.com/hanpama/entityflow/internal/selection"
	"github.com/hanpama/entityflow/internal/server"
)

const rootUsage = `entityflow - federated _entities resolution service

USAGE:
  entityflow <command> [flags]

COMMANDS:
  serve            Run the HTTP _entities endpoint backed by PostgreSQL read views
  resolve          Resolve one request read from a file against fixture documents
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  --entity <Type[=key,...][@view]>    Bind an entity type to its read view. Repeatable;
                                      at least one required. Keys default to id,
                                      the view to tv_<snake_type>.
  --db.dsn <url>                      PostgreSQL connection string (or $DATABASE_URL)
  --db.codec <json|msgpack>           Document column codec (default: json)
  --cache.size N                      Per-type LRU document cache size, 0 disables (default: 0)
  --server.addr <addr>                HTTP listen address (default: :8080)
  --server.timeout <duration>         Per-request timeout, e.g. 10s (default: 10s)
  --server.max-body-bytes N           Request body limit, 0 is unlimited (default: 8MiB)
  --server.cors-origin <origin>       Allowed CORS origin. Repeatable
  --pipeline.max-groups N             Max concurrent group fetches per request, 0 is unbounded
  --otel.endpoint <addr>              OTLP collector endpoint
  --otel.service <name>               OpenTelemetry service name (default: entityflow)
  --log.level <level>                 Log level (default: info)
  --log.json                          Log as JSON
`

const resolveUsage = `resolve FLAGS:
  --fixtures <file>   JSON object mapping typename to a list of documents (required)
  --in <file>         Request JSON {query, representations}; - reads stdin (default: -)
  --key <Type=key,...> Key fields of a fixture type. Repeatable; default id
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		logrus.Fatal(err)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return errors.New("missing command")
	}
	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "resolve":
		return cmdResolve(cmdArgs, stdin, stdout)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return errors.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(stdout, serveUsage)
	case "resolve":
		fmt.Fprint(stdout, resolveUsage)
	default:
		return errors.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

// entitySpec is one parsed --entity binding.
type entitySpec struct {
	typename string
	keys     []string
	view     string
}

func parseEntitySpec(v string) (entitySpec, error) {
	var s entitySpec
	rest := strings.TrimSpace(v)
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		s.view = strings.TrimSpace(rest[i+1:])
		rest = rest[:i]
		if s.view == "" {
			return s, errors.Errorf("invalid entity %q: empty view", v)
		}
	}
	name, keys, hasKeys := strings.Cut(rest, "=")
	s.typename = strings.TrimSpace(name)
	if s.typename == "" {
		return s, errors.Errorf("invalid entity %q", v)
	}
	if hasKeys {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k == "" {
				return s, errors.Errorf("invalid entity %q: empty key field", v)
			}
			s.keys = append(s.keys, k)
		}
	}
	return s, nil
}

func newLogger(level string, asJSON bool) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(lvl)
	if asJSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l, nil
}

func cmdServe(args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	entities := fs.StringArray("entity", nil, "Bind an entity type to its read view")
	dsn := fs.String("db.dsn", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	codecName := fs.String("db.codec", "json", "Document column codec")
	cacheSize := fs.Int("cache.size", 0, "Per-type LRU document cache size")
	addr := fs.String("server.addr", ":8080", "HTTP listen address")
	timeout := fs.Duration("server.timeout", 10*time.Second, "Per-request timeout")
	maxBody := fs.Int64("server.max-body-bytes", 8<<20, "Request body limit")
	origins := fs.StringArray("server.cors-origin", nil, "Allowed CORS origin")
	maxGroups := fs.Int("pipeline.max-groups", 0, "Max concurrent group fetches per request")
	otelEndpoint := fs.String("otel.endpoint", "", "OTLP collector endpoint")
	otelService := fs.String("otel.service", "entityflow", "OpenTelemetry service name")
	logLevel := fs.String("log.level", "info", "Log level")
	logJSON := fs.Bool("log.json", false, "Log as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if len(*entities) == 0 {
		fmt.Fprint(os.Stderr, serveUsage)
		return errors.New("at least one --entity is required")
	}
	if *dsn == "" {
		return errors.New("--db.dsn is required")
	}
	var codec pgstore.Codec
	switch *codecName {
	case "json":
		codec = pgstore.JSON
	case "msgpack":
		codec = pgstore.MessagePack
	default:
		return errors.Errorf("unknown codec %q", *codecName)
	}
	log, err := newLogger(*logLevel, *logJSON)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		return errors.Wrap(err, "connect database")
	}
	defer pool.Close()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(*otelEndpoint, *otelService)
	if err != nil {
		return errors.Wrap(err, "otel setup")
	}
	defer func() { _ = shutdown(context.Background()) }()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(promReg)
	if err != nil {
		return errors.Wrap(err, "metrics setup")
	}
	defer m.Subscribe()()

	reg := entity.NewRegistry()
	for _, raw := range *entities {
		spec, err := parseEntitySpec(raw)
		if err != nil {
			return err
		}
		opts := []pgstore.Option{pgstore.WithCodec(codec)}
		if spec.view != "" {
			opts = append(opts, pgstore.WithView(spec.view))
		}
		var resolver entity.Resolver = pgstore.New(pool, opts...)
		if *cacheSize > 0 {
			c, err := entitycache.New(resolver, *cacheSize)
			if err != nil {
				return err
			}
			stats := func() (int64, int64, int) { s := c.Stats(); return s.Hits, s.Misses, s.Len }
			if err := metrics.RegisterCache(promReg, spec.typename, stats); err != nil {
				return errors.Wrap(err, "cache metrics")
			}
			resolver = c
		}
		if err := reg.RegisterDirect(spec.typename, resolver, spec.keys...); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"typename": spec.typename, "keys": spec.keys, "view": spec.view}).Info("entity bound")
	}

	pipe := entity.New(reg,
		entity.WithMaxConcurrentGroups(*maxGroups),
		entity.WithObserver(eventobs.Observer{}),
		entity.WithLogger(log),
	)
	sopts := []server.Option{server.WithLogger(log), server.WithMaxBodyBytes(*maxBody)}
	if *timeout > 0 {
		sopts = append(sopts, server.WithTimeout(*timeout))
	}
	if len(*origins) > 0 {
		sopts = append(sopts, server.WithCORS(*origins...))
	}
	h, err := server.New(pipe, sopts...)
	if err != nil {
		return errors.Wrap(err, "server init")
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	log.WithField("addr", *addr).Info("entities server listening")
	return http.ListenAndServe(*addr, mux)
}

// request is the file format read by the resolve command.
type request struct {
	Query           string         `json:"query"`
	OperationName   string         `json:"operationName"`
	Variables       map[string]any `json:"variables"`
	Representations any            `json:"representations"`
}

var fileJSON = jsoniter.Config{EscapeHTML: true, UseNumber: true}.Froze()

func cmdResolve(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fixturesPath := fs.String("fixtures", "", "Fixture documents file")
	in := fs.String("in", "-", "Request file")
	keySpecs := fs.StringArray("key", nil, "Key fields of a fixture type")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, resolveUsage)
		return err
	}
	if *fixturesPath == "" {
		fmt.Fprint(os.Stderr, resolveUsage)
		return errors.New("--fixtures is required")
	}

	var fixtures map[string][]map[string]any
	if err := readJSON(*fixturesPath, nil, &fixtures); err != nil {
		return errors.Wrap(err, "read fixtures")
	}
	var req request
	if err := readJSON(*in, stdin, &req); err != nil {
		return errors.Wrap(err, "read request")
	}

	keys := map[string][]string{}
	for _, raw := range *keySpecs {
		spec, err := parseEntitySpec(raw)
		if err != nil {
			return err
		}
		keys[spec.typename] = spec.keys
	}
	reg := entity.NewRegistry()
	for typename, docs := range fixtures {
		fields := keys[typename]
		if len(fields) == 0 {
			fields = []string{"id"}
		}
		if err := reg.RegisterCustom(typename, fixtureResolver(fields, docs), fields...); err != nil {
			return err
		}
	}

	field := selection.EntitiesField
	var sel selection.PerType
	if req.Query != "" {
		doc, err := language.ParseQuery(req.Query)
		if err != nil {
			return errors.Wrap(err, "parse query")
		}
		if sel, err = selection.FromQuery(doc, req.OperationName, req.Variables, field); err != nil {
			return err
		}
		field = selection.RootResponseKey(doc, req.OperationName, req.Variables, field)
	}
	reps := req.Representations
	if reps == nil {
		reps = req.Variables["representations"]
	}

	res, err := entity.New(reg).Run(context.Background(), reps, sel)
	if err != nil {
		return err
	}
	return assemble.WriteEnvelope(stdout, field, true, res, sel)
}

// fixtureResolver indexes docs by their canonical key.
func fixtureResolver(fields []string, docs []map[string]any) entity.ResolverFunc {
	return func(_ context.Context, typename string, keys []entity.Key) (map[entity.CanonicalKey]entity.Fetched, error) {
		index := make(map[entity.CanonicalKey]any, len(docs))
		for _, d := range docs {
			kf := make([]entity.KeyField, 0, len(fields))
			for _, f := range fields {
				kf = append(kf, entity.KeyField{Name: f, Value: d[f]})
			}
			index[entity.Canonicalize(typename, kf)] = d
		}
		out := make(map[entity.CanonicalKey]entity.Fetched, len(keys))
		for _, k := range keys {
			if d, ok := index[k.Canonical]; ok {
				out[k.Canonical] = entity.Fetched{Document: d}
			}
		}
		return out, nil
	}
}

func readJSON(path string, stdin io.Reader, v any) error {
	var r io.Reader
	if path == "-" {
		if stdin == nil {
			return errors.New("stdin not available")
		}
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return fileJSON.NewDecoder(r).Decode(v)
}
