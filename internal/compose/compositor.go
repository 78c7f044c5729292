package compose

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"faceframe/internal/template"
)

var (
	ErrDownload = errors.New("source download failed")
	ErrCodec    = errors.New("image codec failure")
)

// Fallback output dimensions when the template asset is missing: the source
// image is returned standalone as a canonical square.
const (
	fallbackWidth  = 1024
	fallbackHeight = 1024
)

type Mode string

const (
	ModeComposite Mode = "composite"
	ModeFallback  Mode = "fallback"
)

// Result is the single outcome of a composite operation. DataURI and Err are
// mutually exclusive: a failure carries a message and no payload, never both.
type Result struct {
	DataURI string
	Mode    Mode
	Err     error
}

func (r Result) Failed() bool {
	return r.Err != nil
}

func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// PNG extracts the raw encoded image from the data URI payload.
func (r Result) PNG() ([]byte, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if !strings.HasPrefix(r.DataURI, dataURIPrefix) {
		return nil, errors.New("result payload is not a png data uri")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(r.DataURI, dataURIPrefix))
}

// AssetStore is the slice of the storage accessor the compositor needs.
type AssetStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// templateAsset is the outcome of the template load step. Absent covers both
// a genuinely missing asset and a storage read failure: missing templates
// degrade gracefully into fallback mode, they never fail the composite.
type assetState int

const (
	assetAbsent assetState = iota
	assetLoaded
)

type templateAsset struct {
	state assetState
	image image.Image
}

// Compositor overlays an AI-generated face image onto a registered template.
// It shares no mutable state between calls; concurrent use is safe.
type Compositor struct {
	registry *template.Registry
	assets   AssetStore
	fetcher  SourceFetcher
	logger   *log.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

func New(registry *template.Registry, assets AssetStore, fetcher SourceFetcher, logger *log.Logger, metrics *Metrics) (*Compositor, error) {
	if registry == nil {
		return nil, errors.New("template registry is required")
	}
	if assets == nil {
		return nil, errors.New("asset store is required")
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(0)
	}
	return &Compositor{
		registry: registry,
		assets:   assets,
		fetcher:  fetcher,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer("faceframe/compose"),
	}, nil
}

// CompositeOnTemplate fetches the source image from sourceURL and composites
// it onto the named template. An empty templateName selects the default
// template. The template load and the source fetch run concurrently; the
// resize target is decided only after both complete.
//
// Every failure is converted into the Result; no error escapes this boundary.
func (c *Compositor) CompositeOnTemplate(ctx context.Context, sourceURL, templateName string) (res Result) {
	defer c.recoverToResult(&res)

	ctx, span := c.tracer.Start(ctx, "compose.composite", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	cfg, err := c.resolveTemplate(templateName)
	if err != nil {
		return c.fail(span, "", err)
	}
	span.SetAttributes(attribute.String("template.name", cfg.Name))

	var (
		tpl      templateAsset
		tplErr   error
		srcBytes []byte
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tpl, tplErr = c.loadTemplate(gctx, cfg.Name)
		return nil
	})
	g.Go(func() error {
		data, err := c.fetcher.Fetch(gctx, sourceURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDownload, err)
		}
		srcBytes = data
		return nil
	})
	if err := g.Wait(); err != nil {
		return c.fail(span, "", err)
	}
	if tplErr != nil {
		return c.fail(span, "", tplErr)
	}

	return c.finish(span, c.render(cfg, tpl, srcBytes))
}

// CompositeBytes composites an already-fetched source image onto the named
// template. The worker uses it after the stylize step, which produces the
// source bytes directly instead of a URL.
func (c *Compositor) CompositeBytes(ctx context.Context, source []byte, templateName string) (res Result) {
	defer c.recoverToResult(&res)

	_, span := c.tracer.Start(ctx, "compose.composite_bytes", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	cfg, err := c.resolveTemplate(templateName)
	if err != nil {
		return c.fail(span, "", err)
	}
	span.SetAttributes(attribute.String("template.name", cfg.Name))

	tpl, err := c.loadTemplate(ctx, cfg.Name)
	if err != nil {
		return c.fail(span, "", err)
	}

	return c.finish(span, c.render(cfg, tpl, source))
}

func (c *Compositor) resolveTemplate(name string) (template.Config, error) {
	if name == "" {
		name = template.DefaultName
	}
	return c.registry.Resolve(name)
}

// loadTemplate reads and decodes the template's backing asset. A storage
// failure of any kind is reclassified as Absent (the fallback trigger) and
// surfaced through the log and the asset-miss metric rather than propagated.
// Decoding garbage bytes that did load is a hard codec failure.
func (c *Compositor) loadTemplate(ctx context.Context, name string) (templateAsset, error) {
	key := template.AssetKey(name)

	data, err := c.assets.Load(ctx, key)
	if err != nil {
		c.logf("template asset unavailable, using fallback template=%s err=%v", name, err)
		c.metrics.observeAssetMiss()
		return templateAsset{state: assetAbsent}, nil
	}

	img, err := decodeImage(data)
	if err != nil {
		return templateAsset{}, fmt.Errorf("%w: template %s: %v", ErrCodec, name, err)
	}
	return templateAsset{state: assetLoaded, image: img}, nil
}

func (c *Compositor) render(cfg template.Config, tpl templateAsset, srcBytes []byte) Result {
	src, err := decodeImage(srcBytes)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: source: %v", ErrCodec, err)}
	}

	var (
		out  image.Image
		mode Mode
	)
	switch tpl.state {
	case assetLoaded:
		slot := cfg.FacePosition
		face := coverResize(src, slot.Width, slot.Height)

		bounds := tpl.image.Bounds()
		if slot.X+slot.Width > bounds.Dx() || slot.Y+slot.Height > bounds.Dy() {
			c.logf("face slot exceeds template bounds, overlay will clip template=%s slot=%+v template_size=%dx%d",
				cfg.Name, slot, bounds.Dx(), bounds.Dy())
		}

		out = overlay(tpl.image, face, slot.X, slot.Y)
		mode = ModeComposite
	default:
		out = coverResize(src, fallbackWidth, fallbackHeight)
		mode = ModeFallback
	}

	data, err := encodePNG(out)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", ErrCodec, err)}
	}

	return Result{DataURI: pngDataURI(data), Mode: mode}
}

func (c *Compositor) finish(span trace.Span, res Result) Result {
	if res.Err != nil {
		return c.fail(span, res.Mode, res.Err)
	}
	span.SetAttributes(attribute.String("compose.mode", string(res.Mode)))
	span.SetStatus(codes.Ok, "composited")
	c.metrics.observeComposite(res.Mode, "success")
	return res
}

func (c *Compositor) fail(span trace.Span, mode Mode, err error) Result {
	span.RecordError(err)
	span.SetStatus(codes.Error, "composite failed")
	c.metrics.observeComposite(mode, "failure")
	c.logf("composite failed err=%v", err)
	return Result{Err: err}
}

// recoverToResult is the catch-all at the operation boundary: a panic on a
// pathological input becomes a failure Result like any other error.
func (c *Compositor) recoverToResult(res *Result) {
	if r := recover(); r != nil {
		*res = Result{Err: fmt.Errorf("composite aborted: %v", r)}
		c.logf("composite panic recovered: %v", r)
	}
}

func (c *Compositor) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
