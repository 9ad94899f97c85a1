// Package pipeline runs incremental syncs: it partitions a stream into
// slices, requests each slice with retries driven by the error handler
// chain, emits records to a sink and checkpoints state after every slice.
//
// # Basic Usage
//
//	s, err := factory.Build(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	stats, err := pipeline.NewReader(s, pipeline.NewJSONLinesSink(os.Stdout)).Run(ctx)
//
// A failed run leaves the last completed slice checkpointed, so rerunning
// resumes from there.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-cdk/pkg/connector/factory"
	"github.com/ajitpratap0/nebula-cdk/pkg/errorhandler"
	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
	"github.com/ajitpratap0/nebula-cdk/pkg/interpolation"
	"github.com/ajitpratap0/nebula-cdk/pkg/logger"
	"github.com/ajitpratap0/nebula-cdk/pkg/metrics"
	"github.com/ajitpratap0/nebula-cdk/pkg/observability"
)

// Stats summarizes one run.
type Stats struct {
	SyncID           string                  `json:"sync_id"`
	Slices           int                     `json:"slices"`
	SlicesCompleted  int                     `json:"slices_completed"`
	Requests         int                     `json:"requests"`
	Retries          int                     `json:"retries"`
	IgnoredResponses int                     `json:"ignored_responses"`
	Records          int                     `json:"records"`
	SkippedRecords   int                     `json:"skipped_records"`
	Duration         time.Duration           `json:"duration"`
	State            incremental.StreamState `json:"state"`
}

// Reader reads one stream.
type Reader struct {
	stream     *factory.Stream
	sink       Sink
	logger     *zap.Logger
	eval       *interpolation.Evaluator
	collector  *metrics.Collector
	throughput *metrics.ThroughputTracker
	label      string
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// WithSleep replaces the context-aware sleep used between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reader) { r.sleep = sleep }
}

// WithClock sets the clock used for retry budgets and templates.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// NewReader creates a reader emitting to sink.
func NewReader(stream *factory.Stream, sink Sink, opts ...Option) *Reader {
	name := stream.Config.Stream
	r := &Reader{
		stream:     stream,
		sink:       sink,
		collector:  metrics.NewCollector(name),
		throughput: metrics.NewThroughputTracker(name),
		label:      handlerLabel(stream.Handler),
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get()
	}
	r.eval = interpolation.New(interpolation.WithClock(r.now))
	return r
}

// Plan loads the stored state and returns the slices a run would read.
func (r *Reader) Plan(ctx context.Context) ([]incremental.StreamSlice, incremental.StreamState, error) {
	state, err := r.loadState(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := r.stream.Cursor.SetInitialState(state); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeState, "stored state is not usable").
			WithDetail("stream", r.stream.Config.Stream)
	}
	slices, err := r.stream.Cursor.StreamSlices(state)
	if err != nil {
		return nil, nil, err
	}
	return slices, state, nil
}

// Run reads every pending slice. On error the returned stats describe the
// work done before the failure.
func (r *Reader) Run(ctx context.Context) (*Stats, error) {
	started := r.now()
	name := r.stream.Config.Stream
	stats := &Stats{SyncID: uuid.NewString()}

	ctx = logger.WithSyncID(ctx, stats.SyncID)
	ctx = logger.WithStream(ctx, name)
	log := logger.WithContext(ctx, r.logger)

	slices, state, err := r.Plan(ctx)
	if err != nil {
		return stats, err
	}
	stats.Slices = len(slices)
	r.collector.SlicesGenerated(len(slices))
	log.Info("starting sync", zap.Int("slices", len(slices)), zap.Any("state", state))

	for _, slice := range slices {
		if err := ctx.Err(); err != nil {
			return stats, errors.Wrap(err, errors.ErrorTypeTimeout, "sync cancelled")
		}
		if err := r.readSlice(ctx, log, slice, state, stats); err != nil {
			log.Error("slice failed", zap.Any("slice", slice), zap.Error(err))
			return stats, err
		}
		if err := r.checkpoint(ctx, slice); err != nil {
			return stats, err
		}
		stats.SlicesCompleted++
	}

	stats.State = r.stream.Cursor.StreamState()
	stats.Duration = r.now().Sub(started)
	log.Info("sync completed",
		zap.Int("slices", stats.SlicesCompleted),
		zap.Int("records", stats.Records),
		zap.Int("requests", stats.Requests),
		zap.Int("retries", stats.Retries),
		zap.Float64("records_per_second", r.throughput.GetAndReset()),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (r *Reader) loadState(ctx context.Context) (incremental.StreamState, error) {
	if r.stream.Store == nil {
		return incremental.StreamState{}, nil
	}
	return r.stream.Store.Load(ctx, r.stream.Config.Stream)
}

func (r *Reader) checkpoint(ctx context.Context, slice incremental.StreamSlice) error {
	cursor := r.stream.Cursor
	if err := cursor.UpdateCursor(slice, nil); err != nil {
		return err
	}
	st := cursor.StreamState()
	name := r.stream.Config.Stream

	if r.stream.Store != nil {
		if err := r.stream.Store.Save(ctx, name, st); err != nil {
			return err
		}
	}
	if err := r.sink.WriteState(ctx, name, st); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to emit state")
	}
	if v := cursor.State().CursorValue; v != nil {
		if t, err := cursor.ParseDate(*v); err == nil {
			r.collector.Checkpointed(t)
		}
	}
	return nil
}

func (r *Reader) readSlice(ctx context.Context, log *zap.Logger, slice incremental.StreamSlice, state incremental.StreamState, stats *Stats) error {
	ctx, span := observability.StartSliceSpan(ctx, r.stream.Config.Stream, slice)
	defer span.End()

	cfg := r.stream.Config
	cursor := r.stream.Cursor
	ictx := interpolation.Context{Config: cfg.Config, StreamState: state, StreamSlice: slice}
	opts := cursor.RequestOptions(slice)

	var token string
	for page := 1; ; page++ {
		spec, err := r.buildRequest(ictx, opts, token)
		if err != nil {
			span.RecordError(err)
			return err
		}

		resp, res, err := r.send(ctx, log, spec, stats)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if res.Status.Action() == errorhandler.ActionIgnore {
			stats.IgnoredResponses++
			log.Info("response ignored", zap.Any("slice", slice), zap.String("reason", res.Message))
			return nil
		}

		records, err := extractRecords(resp.Body, cfg.Requester.RecordsPath)
		if err != nil {
			span.RecordError(err)
			return err
		}
		emitted := 0
		for _, rec := range records {
			if !cursor.ShouldBeSynced(rec, state) {
				stats.SkippedRecords++
				continue
			}
			if err := r.sink.WriteRecord(ctx, cfg.Stream, rec); err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "failed to emit record")
			}
			if err := cursor.UpdateCursor(slice, rec); err != nil {
				log.Warn("record cursor value ignored", zap.Error(err))
			}
			emitted++
		}
		stats.Records += emitted
		r.collector.RecordsRead(emitted)
		r.throughput.Increment(int64(emitted))
		span.SetAttribute("records", emitted)

		token = nextPageToken(resp.Body, cfg.Requester.NextPagePath)
		if token == "" || (cfg.Requester.MaxPages > 0 && page >= cfg.Requester.MaxPages) {
			span.RecordError(nil)
			return nil
		}
	}
}

// send issues spec until the handler chain stops asking for retries.
func (r *Reader) send(ctx context.Context, log *zap.Logger, spec *requestSpec, stats *Stats) (*errorhandler.Response, errorhandler.Resolution, error) {
	handler := r.stream.Handler
	maxRetries := handler.MaxRetries()
	maxTime := handler.MaxTime()
	first := r.now()

	for attempt := 1; ; attempt++ {
		req, err := spec.request(ctx)
		if err != nil {
			return nil, errorhandler.Resolution{}, err
		}
		reqCtx, span := observability.StartRequestSpan(ctx, r.stream.Config.Stream, req, attempt)
		req = req.WithContext(reqCtx)
		observability.InjectHeaders(reqCtx, req.Header)

		timer := metrics.NewTimer("request")
		httpResp, err := r.stream.Client.Do(req)
		stats.Requests++
		r.collector.RequestDone(req.Method, timer.Stop())
		if err != nil {
			span.RecordError(err)
			span.End()
			return nil, errorhandler.Resolution{}, err
		}

		resp, err := errorhandler.NewResponse(httpResp)
		if err != nil {
			span.RecordError(err)
			span.End()
			return nil, errorhandler.Resolution{}, err
		}
		resp.Request = req

		res := handler.Resolve(resp)
		r.collector.Classified(r.label, res.Status.Action().String())
		span.SetAttribute("http.status_code", resp.StatusCode)
		span.SetAttribute("classification", res.Status.String())

		switch res.Status.Action() {
		case errorhandler.ActionSuccess, errorhandler.ActionIgnore:
			span.RecordError(nil)
			span.End()
			return resp, res, nil
		case errorhandler.ActionFail:
			err := errors.New(errors.ErrorTypeUpstream, res.Message).
				WithDetail("status", resp.StatusCode).
				WithDetail("url", req.URL.Redacted())
			span.RecordError(err)
			span.End()
			return nil, res, err
		}
		span.End()

		wait := res.Status.RetryAfter()
		if attempt > maxRetries {
			return nil, res, errors.Newf(errors.ErrorTypeRateLimit, "giving up after %d retries: %s", maxRetries, res.Message).
				WithDetail("status", resp.StatusCode)
		}
		if maxTime > 0 && r.now().Sub(first)+wait > maxTime {
			return nil, res, errors.Newf(errors.ErrorTypeRateLimit, "retry budget of %s exhausted: %s", maxTime, res.Message).
				WithDetail("status", resp.StatusCode)
		}

		stats.Retries++
		r.collector.BackedOff(r.label, wait)
		log.Warn("retrying request",
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("reason", res.Message))
		if err := r.sleep(ctx, wait); err != nil {
			return nil, res, errors.Wrap(err, errors.ErrorTypeTimeout, "cancelled while backing off")
		}
	}
}

// requestSpec is a fully evaluated request that can be rebuilt per attempt.
type requestSpec struct {
	method string
	url    string
	header http.Header
	body   []byte
}

func (s *requestSpec) request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if s.body != nil {
		body = bytes.NewReader(s.body)
	}
	req, err := http.NewRequestWithContext(ctx, s.method, s.url, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid request")
	}
	req.Header = s.header.Clone()
	return req, nil
}

func (r *Reader) buildRequest(ictx interpolation.Context, opts incremental.RequestOptions, token string) (*requestSpec, error) {
	rc := r.stream.Config.Requester

	path, err := r.eval.Eval(rc.Path, ictx)
	if err != nil {
		return nil, err
	}
	raw := strings.TrimRight(rc.URLBase, "/")
	if path != "" {
		raw += "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid request url").WithDetail("url", raw)
	}

	q := u.Query()
	for k, v := range rc.Params {
		val, err := r.eval.Eval(v, ictx)
		if err != nil {
			return nil, err
		}
		q.Set(k, val)
	}
	for k, v := range opts.Params {
		q.Set(k, v)
	}
	if token != "" {
		q.Set(rc.PageTokenParam, token)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	for k, v := range rc.Headers {
		val, err := r.eval.Eval(v, ictx)
		if err != nil {
			return nil, err
		}
		header.Set(k, val)
	}
	for k, v := range opts.Headers {
		header.Set(k, v)
	}

	method := strings.ToUpper(rc.Method)
	if method == "" {
		method = http.MethodGet
	}

	spec := &requestSpec{method: method, url: u.String(), header: header}
	switch {
	case len(opts.BodyJSON) > 0:
		body, err := gojson.Marshal(opts.BodyJSON)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode request body")
		}
		spec.body = body
		header.Set("Content-Type", "application/json")
	case len(opts.BodyData) > 0:
		form := url.Values{}
		for k, v := range opts.BodyData {
			form.Set(k, v)
		}
		spec.body = []byte(form.Encode())
		header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return spec, nil
}

// extractRecords returns the objects found at path. An array yields its
// elements and a single object yields itself.
func extractRecords(body []byte, path string) ([]incremental.Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New(errors.ErrorTypeData, "response body is not valid JSON")
	}

	res := gjson.ParseBytes(body)
	if path != "" {
		res = gjson.GetBytes(body, path)
	}
	if !res.Exists() || res.Type == gjson.Null {
		return nil, nil
	}

	var records []incremental.Record
	decode := func(v gjson.Result) error {
		if !v.IsObject() {
			return errors.New(errors.ErrorTypeData, "record is not a JSON object").WithDetail("value", v.Raw)
		}
		var rec incremental.Record
		if err := gojson.Unmarshal([]byte(v.Raw), &rec); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to decode record")
		}
		records = append(records, rec)
		return nil
	}

	if !res.IsArray() {
		if err := decode(res); err != nil {
			return nil, err
		}
		return records, nil
	}

	var decodeErr error
	res.ForEach(func(_, v gjson.Result) bool {
		decodeErr = decode(v)
		return decodeErr == nil
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return records, nil
}

func nextPageToken(body []byte, path string) string {
	if path == "" {
		return ""
	}
	res := gjson.GetBytes(body, path)
	if !res.Exists() || res.Type == gjson.Null {
		return ""
	}
	return res.String()
}

func handlerLabel(h errorhandler.ErrorHandler) string {
	if named, ok := h.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "chain"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
