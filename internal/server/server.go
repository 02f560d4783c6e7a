package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hanpama/entityflow/internal/assemble"
	"github.com/hanpama/entityflow/internal/entity"
	eventbus "github.com/hanpama/entityflow/internal/eventbus"
	events "github.com/hanpama/entityflow/internal/events"
	language "github.com/hanpama/entityflow/internal/language"
	reqid "github.com/hanpama/entityflow/internal/reqid"
	"github.com/hanpama/entityflow/internal/selection"
)

// decoder keeps JSON numbers as json.Number so integer keys keep their
// exact digits.
var decoder = jsoniter.Config{
	EscapeHTML:             true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Handler is an http.Handler that serves `_entities` requests.
// It parses the request, runs the entity pipeline, and streams the
// GraphQL response.
type Handler struct {
	pipe *entity.Pipeline
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// Logger receives request failures. Defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option      { return func(o *Options) { o.Timeout = d } }
func WithMaxBodyBytes(n int64) Option         { return func(o *Options) { o.MaxBodyBytes = n } }
func WithLogger(l logrus.FieldLogger) Option { return func(o *Options) { o.Logger = l } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a new HTTP handler around pipe.
func New(pipe *entity.Pipeline, opts ...Option) (*Handler, error) {
	if pipe == nil {
		return nil, errors.New("server: nil pipeline")
	}
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = logrus.StandardLogger()
	}
	return &Handler{pipe: pipe, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.WithID(ctx, r.Header.Get(reqid.Header))
	w.Header().Set(reqid.Header, rid)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}
	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeError(w, status, "method not allowed")
		return
	}

	req, err := parseRequest(r, h.opt.MaxBodyBytes)
	if err != nil {
		status = http.StatusBadRequest
		if errors.Cause(err) == errBodyTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}
	status = h.serveEntities(ctx, w, req)
}

// serveEntities runs one request and returns the HTTP status written.
func (h *Handler) serveEntities(ctx context.Context, w http.ResponseWriter, req Request) int {
	log := h.opt.Logger.WithField("operation", req.OperationName)
	if rid, ok := reqid.FromContext(ctx); ok {
		log = log.WithField("request_id", rid)
	}

	field := selection.EntitiesField
	var sel selection.PerType
	if req.Query != "" {
		doc, err := language.ParseQuery(req.Query)
		if err != nil {
			msg := err.Error()
			if ge, ok := err.(*language.Error); ok {
				msg = ge.Message
			}
			writeError(w, http.StatusBadRequest, msg)
			return http.StatusBadRequest
		}
		sel, err = selection.FromQuery(doc, req.OperationName, req.Variables, selection.EntitiesField)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return http.StatusBadRequest
		}
		field = selection.RootResponseKey(doc, req.OperationName, req.Variables, selection.EntitiesField)
	}

	reps := req.Representations
	if reps == nil {
		reps = req.Variables["representations"]
	}

	n := 0
	if l, ok := reps.([]any); ok {
		n = len(l)
	}
	start := time.Now()
	eventbus.Publish(ctx, events.EntitiesStart{OperationName: req.OperationName, Representations: n})
	res, err := h.pipe.Run(ctx, reps, sel)
	finish := events.EntitiesFinish{OperationName: req.OperationName, Err: err, Duration: time.Since(start)}
	if res != nil {
		finish.Stats = res.Stats
		finish.ErrorCount = len(res.Errors)
	}
	eventbus.Publish(ctx, finish)

	switch {
	case errors.Is(err, entity.ErrInvalidRepresentations):
		writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	case err != nil:
		log.WithError(err).Warn("entities request aborted")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := assemble.WriteEnvelope(w, field, true, res, sel); err != nil {
		log.WithError(err).Warn("writing entities response")
	}
	return http.StatusOK
}

// ------------------ Request parsing ------------------

// Request is the POST body. Representations may be given at the top level
// or as the "representations" variable.
type Request struct {
	Query           string         `json:"query"`
	OperationName   string         `json:"operationName,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	Representations any            `json:"representations,omitempty"`
}

var errBodyTooLarge = errors.New("body too large")

func parseRequest(r *http.Request, maxBody int64) (Request, error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return Request{}, errors.New("unsupported Content-Type")
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return Request{}, errors.Wrap(err, "failed to read body")
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return Request{}, errBodyTooLarge
	}
	var req Request
	if err := decoder.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		return Request{}, errors.New("invalid JSON")
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return req, nil
}

// ------------------ Response formatting ------------------

type errorResult struct {
	Data   any              `json:"data"`
	Errors []assemble.Error `json:"errors"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = decoder.NewEncoder(w).Encode(errorResult{Errors: []assemble.Error{{Message: msg}}})
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
