// Package pipeline orchestrates the defense layers around a single tool
// call: alignment and sequence checks before dispatch, injection
// neutralization, sanitization, scoring, framing, and stamping after.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roninproxy/ronin/internal/alert"
	"github.com/roninproxy/ronin/internal/alignment"
	"github.com/roninproxy/ronin/internal/audit"
	"github.com/roninproxy/ronin/internal/config"
	"github.com/roninproxy/ronin/internal/frame"
	"github.com/roninproxy/ronin/internal/inject"
	"github.com/roninproxy/ronin/internal/mcp/jsonrpc"
	"github.com/roninproxy/ronin/internal/metrics"
	"github.com/roninproxy/ronin/internal/sanitize"
	"github.com/roninproxy/ronin/internal/sequence"
	"github.com/roninproxy/ronin/internal/store"
)

// Layer names used in audit events, metrics labels, and the decision store.
const (
	LayerAlignment = "alignment"
	LayerSequence  = "sequence"
)

// Result is the post-processed tool call result handed back to the proxy.
type Result = jsonrpc.ToolResult

// PolicyError reports a tool call vetoed by a defense layer before dispatch.
type PolicyError struct {
	Tool   string
	Layer  string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("Blocked tool '%s': %s", e.Tool, e.Reason)
}

// Executor dispatches a tool call to the backend MCP server.
type Executor interface {
	Execute(ctx context.Context, tool string, args map[string]any) (Result, error)
}

// Describer resolves a tool's description for alignment scoring. Absence is
// a normal condition, not an error: unknown tools score against their name
// alone.
type Describer interface {
	Describe(tool string) (string, bool)
}

// Deps carries the pipeline's collaborators. Executor is required; every
// other field has a working default.
type Deps struct {
	Executor  Executor
	Describer Describer
	Tracker   *sequence.Tracker
	Detector  *inject.Detector
	Sanitizer *sanitize.Sanitizer
	Audit     *audit.Logger
	Metrics   *metrics.Metrics
	Store     *store.DB      // optional decision store
	Alerts    *alert.Emitter // optional webhook alerting; nil is a no-op
}

// Pipeline runs every tool call through the defense layers.
type Pipeline struct {
	exec      Executor
	describer Describer
	tracker   *sequence.Tracker
	sanitizer *sanitize.Sanitizer
	audit     *audit.Logger
	metrics   *metrics.Metrics
	store     *store.DB
	alerts    *alert.Emitter

	mu       sync.RWMutex
	cfg      *config.Config
	detector *inject.Detector
}

// New builds a Pipeline from config and collaborators.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if deps.Executor == nil {
		return nil, fmt.Errorf("pipeline requires an executor")
	}
	if cfg == nil {
		cfg = config.Defaults()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNop()
	}
	if deps.Tracker == nil {
		deps.Tracker = sequence.NewTracker(cfg.Sequence.MaxHistory, cfg.Sequence.BurstWindow())
	}
	if deps.Detector == nil {
		d, err := DetectorFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		deps.Detector = d
	}
	if deps.Sanitizer == nil {
		var onSpan func(string)
		if deps.Metrics != nil {
			onSpan = deps.Metrics.RecordSanitizedSpan
		}
		deps.Sanitizer = sanitize.New(deps.Audit, onSpan)
	}

	return &Pipeline{
		exec:      deps.Executor,
		describer: deps.Describer,
		tracker:   deps.Tracker,
		sanitizer: deps.Sanitizer,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		store:     deps.Store,
		alerts:    deps.Alerts,
		cfg:       cfg,
		detector:  deps.Detector,
	}, nil
}

// DetectorFromConfig builds an injection detector from config-supplied
// patterns, falling back to the built-in library when none are configured.
func DetectorFromConfig(cfg *config.Config) (*inject.Detector, error) {
	if len(cfg.Injection.Patterns) == 0 {
		return inject.NewDetector(), nil
	}

	var lib inject.Library
	for _, p := range cfg.Injection.Patterns {
		pat := inject.Pattern{ID: p.Name, Regex: p.Regex}
		switch p.Family {
		case config.FamilyAuthority:
			lib.Authority = append(lib.Authority, pat)
		case config.FamilyCommand:
			lib.Command = append(lib.Command, pat)
		case config.FamilyToolManipulation:
			lib.ToolManipulation = append(lib.ToolManipulation, pat)
		case config.FamilyFalseClaim:
			lib.FalseClaim = append(lib.FalseClaim, pat)
		default:
			return nil, fmt.Errorf("injection pattern %q has unknown family %q", p.Name, p.Family)
		}
	}
	return inject.NewDetectorWithLibrary(lib)
}

// SetConfig swaps in a reloaded config, rebuilding the detector when its
// pattern set changed. Tracker bounds are fixed at construction; threshold
// and toggle changes take effect on the next call.
func (p *Pipeline) SetConfig(cfg *config.Config) error {
	detector, err := DetectorFromConfig(cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.cfg = cfg
	p.detector = detector
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) snapshot() (*config.Config, *inject.Detector) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg, p.detector
}

// CallTool runs one tool call through the full pipeline. Vetoed calls return
// a *PolicyError and never reach the backend; backend errors propagate
// unchanged with no post-processing and no history record.
func (p *Pipeline) CallTool(ctx context.Context, tool string, args map[string]any) (Result, error) {
	cfg, detector := p.snapshot()
	requestID := uuid.NewString()
	start := time.Now()

	alignScore := 1.0
	if cfg.Alignment.IsEnabled() {
		var description string
		if p.describer != nil {
			description, _ = p.describer.Describe(tool)
		}
		res := alignment.Evaluate(args, tool, description, cfg.Alignment.Threshold)
		alignScore = res.Score
		if !res.Allow {
			reason := fmt.Sprintf(
				"it appears unrelated to the current request (alignment score=%.2f); this may indicate an unsafe or unintended tool invocation",
				res.Score)
			if blocked := p.veto(ctx, cfg, tool, LayerAlignment, reason, requestID, res.Score, start); blocked != nil {
				return Result{}, blocked
			}
		}
	}

	if cfg.Sequence.IsEnabled() {
		if suspicious, reason := p.tracker.CheckSuspicious(tool); suspicious {
			reason = "suspicious call sequence detected: " + reason
			if blocked := p.veto(ctx, cfg, tool, LayerSequence, reason, requestID, 0, start); blocked != nil {
				return Result{}, blocked
			}
		}
	}

	execCtx := ctx
	if cfg.Upstream.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cfg.Upstream.Timeout())
		defer cancel()
	}
	result, err := p.exec.Execute(execCtx, tool, args)
	if err != nil {
		p.audit.LogError(tool, requestID, err)
		if p.metrics != nil {
			p.metrics.RecordError(time.Since(start))
		}
		p.record(ctx, requestID, tool, "error", "", err.Error(), 0)
		p.alerts.Emit(ctx, alert.TypeError, map[string]any{
			"tool":       tool,
			"request_id": requestID,
			"error":      err.Error(),
		})
		return Result{}, err
	}

	p.tracker.Record(tool)

	for i := range result.Content {
		if result.Content[i].Type == "text" && result.Content[i].Text != "" {
			result.Content[i].Text = p.processText(ctx, cfg, detector, result.Content[i].Text, tool, requestID)
		}
	}
	if result.HasData {
		result.Data = p.processText(ctx, cfg, detector, result.Data, tool, requestID)
	}

	p.audit.LogAllowed(tool, requestID, alignScore, time.Since(start))
	if p.metrics != nil {
		p.metrics.RecordAllowed(time.Since(start))
	}
	p.record(ctx, requestID, tool, "allowed", "", "", alignScore)

	return result, nil
}

// veto handles a layer rejection: audit, metrics, store, and — in enforcing
// mode — a *PolicyError. In monitor mode it returns nil so the call proceeds.
func (p *Pipeline) veto(ctx context.Context, cfg *config.Config, tool, layer, reason, requestID string, score float64, start time.Time) error {
	if layer == LayerSequence {
		p.audit.LogSequenceAnomaly(tool, reason, requestID)
	} else {
		p.audit.LogBlocked(tool, layer, reason, requestID)
	}

	if !cfg.EnforceEnabled() {
		return nil
	}

	if p.metrics != nil {
		p.metrics.RecordBlocked(tool, layer, time.Since(start))
	}
	p.record(ctx, requestID, tool, "blocked", layer, reason, score)

	eventType := alert.TypeBlocked
	if layer == LayerSequence {
		eventType = alert.TypeSequenceAnomaly
	}
	p.alerts.Emit(ctx, eventType, map[string]any{
		"tool":       tool,
		"layer":      layer,
		"reason":     reason,
		"request_id": requestID,
	})

	return &PolicyError{Tool: tool, Layer: layer, Reason: reason}
}

// processText applies the response-side layers to one textual field and
// returns the stamped result.
func (p *Pipeline) processText(ctx context.Context, cfg *config.Config, detector *inject.Detector, text, tool, requestID string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	suspicious := false
	var matched []string
	if cfg.Injection.IsEnabled() {
		suspicious, matched = detector.Detect(text)
		if suspicious {
			text = detector.Neutralize(text)
		}
	}

	if cfg.Sanitization.IsEnabled() {
		var spans []sanitize.Span
		text, spans = p.sanitizer.SanitizeSpans(text, tool)
		for _, span := range spans {
			p.recordSpan(ctx, requestID, tool, span)
		}
	}

	score := frame.InstructionScore(text)
	highScore := score > cfg.Framing.Threshold()

	if suspicious {
		p.audit.LogInjection(tool, requestID, matched, score)
		if p.metrics != nil {
			p.metrics.RecordInjection()
		}
		p.alerts.Emit(context.Background(), alert.TypeInjection, map[string]any{
			"tool":              tool,
			"request_id":        requestID,
			"patterns":          matched,
			"instruction_score": score,
		})
	}

	if cfg.Framing.IsEnabled() && (suspicious || highScore) {
		var parts []string
		if len(matched) > 0 {
			parts = append(parts, fmt.Sprintf("Matched patterns: %d", len(matched)))
		}
		if highScore {
			parts = append(parts, fmt.Sprintf("Instruction score: %.2f", score))
		}
		text = frame.Frame(text, tool, true, strings.Join(parts, " | "))
	}

	return frame.Stamp(text)
}

// record writes a decision row to the store, best-effort. A store failure is
// logged and otherwise ignored: persistence must never fail a call.
func (p *Pipeline) record(ctx context.Context, requestID, tool, result, layer, reason string, score float64) {
	if p.store == nil {
		return
	}
	if err := p.store.RecordDecision(ctx, requestID, tool, result, layer, reason, score); err != nil {
		p.audit.LogError(tool, requestID, fmt.Errorf("decision store write: %w", err))
	}
}

// recordSpan persists one stripped span, best-effort like record.
func (p *Pipeline) recordSpan(ctx context.Context, requestID, tool string, span sanitize.Span) {
	if p.store == nil {
		return
	}
	if err := p.store.RecordSanitizedSpan(ctx, requestID, tool, span.Category, span.Length, span.Snippet); err != nil {
		p.audit.LogError(tool, requestID, fmt.Errorf("span store write: %w", err))
	}
}
