package incremental

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-cdk/pkg/datetime"
	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/interpolation"
	"github.com/ajitpratap0/nebula-cdk/pkg/logger"
)

// Config describes a datetime-based cursor.
type Config struct {
	CursorField           string         `mapstructure:"cursor_field" yaml:"cursor_field"`
	DatetimeFormat        string         `mapstructure:"datetime_format" yaml:"datetime_format,omitempty"`
	CursorDatetimeFormats []string       `mapstructure:"cursor_datetime_formats" yaml:"cursor_datetime_formats,omitempty"`
	StartDatetime         MinMaxDatetime `mapstructure:"start_datetime" yaml:"start_datetime"`
	EndDatetime           MinMaxDatetime `mapstructure:"end_datetime" yaml:"end_datetime,omitempty"`
	Step                  string         `mapstructure:"step" yaml:"step,omitempty"`
	CursorGranularity     string         `mapstructure:"cursor_granularity" yaml:"cursor_granularity,omitempty"`
	LookbackWindow        string         `mapstructure:"lookback_window" yaml:"lookback_window,omitempty"`
	PartitionFieldStart   string         `mapstructure:"partition_field_start" yaml:"partition_field_start,omitempty"`
	PartitionFieldEnd     string         `mapstructure:"partition_field_end" yaml:"partition_field_end,omitempty"`
	StartTimeOption       *RequestOption `mapstructure:"start_time_option" yaml:"start_time_option,omitempty"`
	EndTimeOption         *RequestOption `mapstructure:"end_time_option" yaml:"end_time_option,omitempty"`
}

// DatetimeCursor slices a time range into windows and tracks the furthest
// cursor value seen. It is safe for concurrent use.
type DatetimeCursor struct {
	cfg            Config
	format         string
	cursorFormats  []string
	step           datetime.Duration
	granularity    datetime.Duration
	partitionStart string
	partitionEnd   string

	eval            *interpolation.Evaluator
	connectorConfig map[string]any
	now             func() time.Time
	logger          *zap.Logger

	mu     sync.RWMutex
	cursor *time.Time
}

// Option configures a DatetimeCursor.
type Option func(*DatetimeCursor)

// WithConnectorConfig sets the values templates see as config.
func WithConnectorConfig(values map[string]any) Option {
	return func(c *DatetimeCursor) {
		c.connectorConfig = values
	}
}

// WithClock overrides the wall clock. The same clock drives now_utc().
func WithClock(now func() time.Time) Option {
	return func(c *DatetimeCursor) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *DatetimeCursor) {
		c.logger = l
	}
}

// NewDatetimeCursor validates cfg and builds a cursor.
func NewDatetimeCursor(cfg Config, opts ...Option) (*DatetimeCursor, error) {
	if cfg.CursorField == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "cursor_field is required")
	}
	if !cfg.StartDatetime.IsSet() {
		return nil, errors.New(errors.ErrorTypeConfig, "start_datetime is required")
	}
	if (cfg.Step == "") != (cfg.CursorGranularity == "") {
		return nil, errors.New(errors.ErrorTypeConfig, "step and cursor_granularity must be set together").
			WithDetail("step", cfg.Step).
			WithDetail("cursor_granularity", cfg.CursorGranularity)
	}

	c := &DatetimeCursor{
		cfg:             cfg,
		format:          cfg.DatetimeFormat,
		partitionStart:  cfg.PartitionFieldStart,
		partitionEnd:    cfg.PartitionFieldEnd,
		connectorConfig: map[string]any{},
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get()
	}
	c.logger = c.logger.With(zap.String("cursor_field", cfg.CursorField))
	c.eval = interpolation.New(interpolation.WithClock(c.now))

	if c.format == "" {
		c.format = datetime.DefaultFormat
	}
	if err := datetime.ValidateFormat(c.format); err != nil {
		return nil, err
	}
	if c.partitionStart == "" {
		c.partitionStart = DefaultPartitionFieldStart
	}
	if c.partitionEnd == "" {
		c.partitionEnd = DefaultPartitionFieldEnd
	}

	c.cursorFormats = append([]string(nil), cfg.CursorDatetimeFormats...)
	if !contains(c.cursorFormats, c.format) {
		c.cursorFormats = append(c.cursorFormats, c.format)
	}
	for _, f := range c.cursorFormats {
		if err := datetime.ValidateFormat(f); err != nil {
			return nil, err
		}
	}

	// bounds without their own format use the cursor's
	if c.cfg.StartDatetime.DatetimeFormat == "" {
		c.cfg.StartDatetime.DatetimeFormat = c.format
	}
	if c.cfg.EndDatetime.IsSet() && c.cfg.EndDatetime.DatetimeFormat == "" {
		c.cfg.EndDatetime.DatetimeFormat = c.format
	}

	var err error
	if c.step, err = datetime.ParseDuration(cfg.Step); err != nil {
		return nil, err
	}
	if c.granularity, err = datetime.ParseDuration(cfg.CursorGranularity); err != nil {
		return nil, err
	}
	if cfg.Step != "" {
		if !c.step.IsPositive() {
			return nil, errors.New(errors.ErrorTypeConfig, "step must be a positive duration").
				WithDetail("step", cfg.Step)
		}
		if !c.granularity.IsPositive() {
			return nil, errors.New(errors.ErrorTypeConfig, "cursor_granularity must be a positive duration").
				WithDetail("cursor_granularity", cfg.CursorGranularity)
		}
	}
	if !interpolation.IsTemplate(cfg.LookbackWindow) {
		if _, err := datetime.ParseDuration(cfg.LookbackWindow); err != nil {
			return nil, err
		}
	}

	if err := cfg.StartTimeOption.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EndTimeOption.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// CursorField returns the record field the cursor tracks.
func (c *DatetimeCursor) CursorField() string {
	return c.cfg.CursorField
}

// PartitionFields returns the slice keys holding the window start and end.
func (c *DatetimeCursor) PartitionFields() (start, end string) {
	return c.partitionStart, c.partitionEnd
}

// SetInitialState seeds the cursor from persisted state. A state without the
// cursor field leaves the cursor unset.
func (c *DatetimeCursor) SetInitialState(state StreamState) error {
	raw, ok := scalarString(state[c.cfg.CursorField])
	if !ok {
		return nil
	}
	t, err := c.ParseDate(raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cursor = &t
	c.mu.Unlock()
	return nil
}

// State returns the current bookmark.
func (c *DatetimeCursor) State() CursorState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := CursorState{CursorField: c.cfg.CursorField}
	if c.cursor != nil {
		v := c.FormatDatetime(*c.cursor)
		st.CursorValue = &v
	}
	return st
}

// StreamState returns the bookmark in its persisted map form.
func (c *DatetimeCursor) StreamState() StreamState {
	return c.State().Map()
}

// UpdateCursor folds the slice's and the record's cursor values into the
// running state. The cursor only ever moves forward.
func (c *DatetimeCursor) UpdateCursor(slice StreamSlice, lastRecord Record) error {
	var candidate *time.Time

	if raw, ok := slice[c.cfg.CursorField]; ok && raw != "" {
		t, err := c.ParseDate(raw)
		if err != nil {
			return err
		}
		candidate = &t
	}
	if raw, ok := scalarString(lastRecord[c.cfg.CursorField]); ok {
		t, err := c.ParseDate(raw)
		if err != nil {
			return err
		}
		if candidate == nil || t.After(*candidate) {
			candidate = &t
		}
	}
	if candidate == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor == nil || candidate.After(*c.cursor) {
		c.cursor = candidate
	}
	return nil
}

// ShouldBeSynced reports whether record falls inside the configured
// [start, end] range. Records without a parsable cursor value are kept.
func (c *DatetimeCursor) ShouldBeSynced(record Record, state StreamState) bool {
	raw, ok := scalarString(record[c.cfg.CursorField])
	if !ok {
		c.logger.Warn("record has no cursor value", zap.Any("record", record))
		return true
	}
	t, err := c.ParseDate(raw)
	if err != nil {
		c.logger.Warn("record cursor value is not parsable", zap.String("value", raw), zap.Error(err))
		return true
	}

	ctx := c.interpolationContext(state)
	start, err := c.cfg.StartDatetime.Resolve(c.eval, ctx)
	if err != nil {
		return true
	}
	end, err := c.endDatetime(ctx)
	if err != nil {
		return true
	}
	return !t.Before(start) && !t.After(end)
}

// ParseDate parses a cursor value, trying cursor_datetime_formats first and
// the cursor's datetime format last.
func (c *DatetimeCursor) ParseDate(value string) (time.Time, error) {
	return datetime.ParseAny(value, c.cursorFormats...)
}

// FormatDatetime formats t with the cursor's datetime format.
func (c *DatetimeCursor) FormatDatetime(t time.Time) string {
	return datetime.Format(t, c.format)
}

// StreamSlices returns the windows to read for state, formatted as slices.
func (c *DatetimeCursor) StreamSlices(state StreamState) ([]StreamSlice, error) {
	windows, err := c.Windows(state)
	if err != nil {
		return nil, err
	}

	slices := make([]StreamSlice, 0, len(windows))
	for _, w := range windows {
		slices = append(slices, StreamSlice{
			c.partitionStart: c.FormatDatetime(w.Start),
			c.partitionEnd:   c.FormatDatetime(w.End),
		})
	}
	return slices, nil
}

// Windows partitions the range still to be read into consecutive windows.
// A stream that is already caught up yields no windows.
func (c *DatetimeCursor) Windows(state StreamState) ([]TimeWindow, error) {
	ctx := c.interpolationContext(state)

	end, err := c.endDatetime(ctx)
	if err != nil {
		return nil, err
	}

	lookbackRaw, err := c.eval.Eval(c.cfg.LookbackWindow, ctx)
	if err != nil {
		return nil, err
	}
	lookback, err := datetime.ParseDuration(lookbackRaw)
	if err != nil {
		return nil, err
	}

	start, err := c.cfg.StartDatetime.Resolve(c.eval, ctx)
	if err != nil {
		return nil, err
	}
	earliest := datetime.Min(start, end)

	cursorDT := datetime.MinTime
	fromState := false
	if raw, ok := scalarString(state[c.cfg.CursorField]); ok {
		cursorDT, err = c.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		fromState = true
	}

	effective := lookback.SubtractFrom(datetime.Max(earliest, cursorDT))
	if fromState {
		if !effective.Before(end) {
			c.logger.Debug("stream is caught up", zap.Time("cursor", cursorDT), zap.Time("end", end))
			return nil, nil
		}
		effective = datetime.Max(effective, earliest)
	}

	windows := c.partition(effective, end)
	c.logger.Debug("computed stream slices",
		zap.Int("count", len(windows)),
		zap.Time("start", effective),
		zap.Time("end", end),
		zap.Stringer("lookback", lookback))
	return windows, nil
}

func (c *DatetimeCursor) partition(start, end time.Time) []TimeWindow {
	var windows []TimeWindow
	for !start.After(end) {
		next := datetime.MaxTime
		if !c.step.IsZero() {
			next = c.step.AddTo(start)
		}
		windows = append(windows, TimeWindow{
			Start: start,
			End:   datetime.Min(c.granularity.SubtractFrom(next), end),
		})
		// a boundary clamped to MaxTime closes the range
		if !next.After(start) || !next.Before(datetime.MaxTime) {
			break
		}
		start = next
	}
	return windows
}

func (c *DatetimeCursor) endDatetime(ctx interpolation.Context) (time.Time, error) {
	now := c.now().UTC()
	if !c.cfg.EndDatetime.IsSet() {
		return now, nil
	}
	end, err := c.cfg.EndDatetime.Resolve(c.eval, ctx)
	if err != nil {
		return time.Time{}, err
	}
	return datetime.Min(end, now), nil
}

func (c *DatetimeCursor) interpolationContext(state StreamState) interpolation.Context {
	return interpolation.Context{
		Config:      c.connectorConfig,
		StreamState: state,
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
