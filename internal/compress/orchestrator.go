// Package compress runs PDF compression for a session: read, load, save
// with object streams, store the result and report the savings.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/config"
	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/storage"
)

// Status texts shown while processing.
const (
	StatusReading     = "Reading PDF file..."
	StatusAnalyzing   = "Analyzing PDF structure..."
	StatusCompressing = "Compressing PDF with optimization..."
	StatusFinalizing  = "Finalizing..."
)

// Pacing holds the delays inserted before each step so progress stays readable.
type Pacing struct {
	Analyze  time.Duration
	Compress time.Duration
	Finalize time.Duration
}

// DefaultPacing returns the 300/300/200 ms delays.
func DefaultPacing() Pacing {
	return Pacing{
		Analyze:  300 * time.Millisecond,
		Compress: 300 * time.Millisecond,
		Finalize: 200 * time.Millisecond,
	}
}

// Config tunes the orchestrator.
type Config struct {
	Pacing        Pacing
	SaveOptions   pdf.SaveOptions
	MaxConcurrent int
	// MinFreeMemory refuses new work when less is available. Zero disables.
	MinFreeMemory uint64
	// AdmissionAttempts bounds how often a job retries for a free slot.
	AdmissionAttempts int
	AdmissionDelay    time.Duration
}

// DefaultConfig returns a configuration without pacing.
func DefaultConfig() Config {
	return Config{
		SaveOptions:       pdf.DefaultSaveOptions(),
		MaxConcurrent:     3,
		AdmissionAttempts: 20,
		AdmissionDelay:    250 * time.Millisecond,
	}
}

// ConfigFrom maps application settings onto an orchestrator config.
func ConfigFrom(app *config.AppConfig) Config {
	cfg := DefaultConfig()
	p := app.Processing
	if p.MaxConcurrentJobs > 0 {
		cfg.MaxConcurrent = p.MaxConcurrentJobs
	}
	if p.ObjectsPerTick > 0 {
		cfg.SaveOptions.ObjectsPerTick = p.ObjectsPerTick
	}
	if p.PacingEnabled {
		cfg.Pacing = Pacing{
			Analyze:  time.Duration(p.PacingAnalyzeMs) * time.Millisecond,
			Compress: time.Duration(p.PacingCompressMs) * time.Millisecond,
			Finalize: time.Duration(p.PacingFinalizeMs) * time.Millisecond,
		}
	}
	if p.MinFreeMemoryMB > 0 {
		cfg.MinFreeMemory = uint64(p.MinFreeMemoryMB) * 1024 * 1024
	}
	return cfg
}

// Reporter receives status updates while a job runs.
type Reporter func(status string, progress float64)

// Job is one compression request.
type Job struct {
	SessionID string
	Tool      string
	File      *models.FileInfo
}

// Sessions is the part of the session manager Start drives.
type Sessions interface {
	BeginCompress(id string) (*models.FileInfo, string, error)
	SetStatus(id, text string, progress float64)
	Succeed(id string, result *models.CompressionResult) error
	Fail(id, message string) error
}

// outcome carries the job's own error so bulkhead and retry only ever see
// admission failures.
type outcome struct {
	result *models.CompressionResult
	err    error
}

// Orchestrator sequences compression jobs.
type Orchestrator struct {
	engine   pdf.Engine
	store    storage.Store
	tracker  analytics.Tracker
	logger   *bolt.Logger
	cfg      Config
	bulkhead bulkhead.Bulkhead[outcome]
	admit    retry.Retry[outcome]
	memory   func() (uint64, error)
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator. tracker may be nil.
func New(engine pdf.Engine, store storage.Store, tracker analytics.Tracker, cfg Config, logger *bolt.Logger) *Orchestrator {
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.AdmissionAttempts <= 0 {
		cfg.AdmissionAttempts = 1
	}
	if cfg.SaveOptions.ObjectsPerTick <= 0 {
		cfg.SaveOptions = pdf.DefaultSaveOptions()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		engine:  engine,
		store:   store,
		tracker: tracker,
		logger:  logging.OrDefault(logger),
		cfg:     cfg,
		bulkhead: bulkhead.New[outcome](bulkhead.Config{
			MaxConcurrent: cfg.MaxConcurrent,
		}),
		admit: retry.New[outcome](retry.Config{
			MaxAttempts:   cfg.AdmissionAttempts,
			InitialDelay:  cfg.AdmissionDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    1.5,
		}),
		memory: availableMemory,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run executes job synchronously. Failures are classified, logged and
// tracked before they are returned.
func (o *Orchestrator) Run(ctx context.Context, job Job, report Reporter) (*models.CompressionResult, error) {
	if report == nil {
		report = func(string, float64) {}
	}

	out, err := o.admit.Do(ctx, func(ctx context.Context) (outcome, error) {
		return o.bulkhead.Execute(ctx, func(ctx context.Context) (outcome, error) {
			res, err := o.run(ctx, job, report)
			return outcome{result: res, err: err}, nil
		})
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrBusy, err)
		o.failed(ctx, job, err)
		return nil, err
	}
	if out.err != nil {
		o.failed(ctx, job, out.err)
		return nil, out.err
	}
	return out.result, nil
}

func (o *Orchestrator) run(ctx context.Context, job Job, report Reporter) (result *models.CompressionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &pdf.Error{Kind: pdf.KindUnknown, Op: "compress", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if job.File == nil {
		return nil, &pdf.Error{Kind: pdf.KindRead, Op: "read", Err: fmt.Errorf("no file")}
	}
	start := o.now()

	if err := o.checkMemory(); err != nil {
		return nil, err
	}

	report(StatusReading, 10)
	data, err := o.store.ReadAll(job.File.ID)
	if err != nil {
		return nil, &pdf.Error{Kind: pdf.KindRead, Op: "read", Err: err}
	}

	report(StatusAnalyzing, 25)
	if err := o.pause(ctx, o.cfg.Pacing.Analyze); err != nil {
		return nil, err
	}
	doc, err := o.engine.Load(ctx, data)
	if err != nil {
		return nil, err
	}

	report(StatusCompressing, 50)
	if err := o.pause(ctx, o.cfg.Pacing.Compress); err != nil {
		return nil, err
	}
	compressed, err := doc.Save(ctx, o.cfg.SaveOptions)
	if err != nil {
		return nil, err
	}

	report(StatusFinalizing, 90)
	if err := o.pause(ctx, o.cfg.Pacing.Finalize); err != nil {
		return nil, err
	}
	downloadName := DownloadName(job.File.Name)
	info, err := o.store.Save(downloadName, "application/pdf", models.FileKindResult, bytes.NewReader(compressed))
	if err != nil {
		return nil, &pdf.Error{Kind: pdf.KindResource, Op: "store", Err: err}
	}

	elapsed := o.now().Sub(start)
	result = &models.CompressionResult{
		FileID:       info.ID,
		DownloadName: downloadName,
		ElapsedMs:    elapsed.Milliseconds(),
		PageCount:    doc.PageCount(),
	}
	Stats(result, int64(len(data)), info.Size)

	o.tracker.Track(ctx, analytics.EventCompressionCompleted, analytics.Params{
		"tool":             job.Tool,
		"original_size":    fmt.Sprint(result.OriginalSize),
		"compressed_size":  fmt.Sprint(result.CompressedSize),
		"compression_time": fmt.Sprintf("%.2f", elapsed.Seconds()),
	})
	logging.With(o.logger.Info(),
		logging.SessionID(job.SessionID),
		logging.Tool(job.Tool),
		logging.FileSize(result.OriginalSize),
		logging.Duration(elapsed),
	).
		Int64("compressed_size", result.CompressedSize).
		Int("objects_per_tick", o.cfg.SaveOptions.ObjectsPerTick).
		Msg("Compression complete")

	return result, nil
}

func (o *Orchestrator) failed(ctx context.Context, job Job, err error) {
	o.tracker.Track(ctx, analytics.EventCompressionError, analytics.Params{
		"tool":          job.Tool,
		"error_message": err.Error(),
	})
	logging.With(o.logger.Warn(),
		logging.SessionID(job.SessionID),
		logging.Tool(job.Tool),
		logging.ErrorField(err),
	).
		Str("kind", string(Classify(err))).
		Msg("Compression failed")
}

// pause waits d unless ctx ends first.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return &pdf.Error{Kind: pdf.KindUnknown, Op: "compress", Err: ctx.Err()}
	case <-t.C:
		return nil
	}
}

// Start moves session id into processing and compresses its file in the
// background. The returned error covers only the transition.
func (o *Orchestrator) Start(sessions Sessions, id string) error {
	file, tool, err := sessions.BeginCompress(id)
	if err != nil {
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error().Str("session_id", id).Str("panic", fmt.Sprint(r)).Msg("Compression goroutine panicked")
				_ = sessions.Fail(id, UserMessage(fmt.Errorf("panic: %v", r)))
			}
		}()

		ctx := analytics.WithClientID(o.ctx, id)
		job := Job{SessionID: id, Tool: tool, File: file}
		result, err := o.Run(ctx, job, func(text string, progress float64) {
			sessions.SetStatus(id, text, progress)
		})
		if err != nil {
			if ferr := sessions.Fail(id, UserMessage(err)); ferr != nil {
				logging.With(o.logger.Warn(), logging.SessionID(id), logging.ErrorField(ferr)).Msg("Could not record failure")
			}
			return
		}
		if serr := sessions.Succeed(id, result); serr != nil {
			logging.With(o.logger.Warn(), logging.SessionID(id), logging.ErrorField(serr)).Msg("Could not record result")
		}
	}()
	return nil
}

// Wait blocks until every started job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels running jobs and waits for them.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}
