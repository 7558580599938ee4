// Package service runs the asynchronous hook dispatcher
package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	perr "agpm/internal/platform/errors"
	"agpm/internal/platform/logger"
	"agpm/internal/services/hooks/domain"
)

const (
	defaultQueueSize = 256
	regexMarker      = "regex:"
)

// compiledOverride pairs an override with its matcher
type compiledOverride struct {
	domain.Override
	re *regexp.Regexp
}

func (o compiledOverride) matches(slug string) bool {
	if o.re != nil {
		return o.re.MatchString(slug)
	}
	return o.Pattern == slug
}

// Dispatcher owns the bounded event queue and its single worker.
// Emit never blocks; a full queue drops the event with a warning
type Dispatcher struct {
	cfg       domain.Settings
	overrides []compiledOverride
	log       logger.Logger

	queue chan domain.Event
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	runCommand func(ctx context.Context, a domain.Action, env []string) error
	postHTTP   func(ctx context.Context, a domain.Action, payload []byte) (int, error)
}

// New compiles the configuration and starts the worker
func New(cfg domain.Settings, log logger.Logger) (*Dispatcher, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	overrides := make([]compiledOverride, 0, len(cfg.Overrides))
	for _, o := range cfg.Overrides {
		co := compiledOverride{Override: o}
		if rest, ok := strings.CutPrefix(o.Pattern, regexMarker); ok {
			re, err := regexp.Compile(rest)
			if err != nil {
				return nil, perr.Wrapf(err, perr.ErrorCodeConfig, "bad hook override pattern %q", o.Pattern)
			}
			co.re = re
		}
		overrides = append(overrides, co)
	}
	d := &Dispatcher{
		cfg:        cfg,
		overrides:  overrides,
		log:        log,
		queue:      make(chan domain.Event, cfg.QueueSize),
		quit:       make(chan struct{}),
		runCommand: runCommand,
		postHTTP:   postHTTP,
	}
	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// Emit implements domain.EmitterPort
func (d *Dispatcher) Emit(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case d.queue <- ev:
	default:
		d.log.Warn().Str("event", ev.Name).Msg("hook queue full, dropping event")
	}
}

// Stop wakes the worker, lets it drain the queue, and joins it. Idempotent
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.quit) })
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.dispatch(ev)
		case <-d.quit:
			for {
				select {
				case ev := <-d.queue:
					d.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

// resolve picks the action list for an event, honouring repository overrides.
// An override replaces the per event list only for the names it carries; for
// every other name the global per event list still applies
func (d *Dispatcher) resolve(ev domain.Event) (actions []domain.Action, enabled bool) {
	enabled = d.cfg.Enabled
	defaults := d.cfg.DefaultActions
	var overridden map[string][]domain.Action

	if slug, ok := eventSlug(ev); ok {
		for _, o := range d.overrides {
			if !o.matches(slug) {
				continue
			}
			if o.Enabled != nil {
				enabled = *o.Enabled
			}
			if o.DefaultActions != nil {
				defaults = o.DefaultActions
			}
			if o.EventActions != nil {
				overridden = o.EventActions
			}
			break
		}
	}

	if list, ok := overridden[ev.Name]; ok {
		return list, enabled
	}
	if list, ok := d.cfg.EventActions[ev.Name]; ok {
		return list, enabled
	}
	return defaults, enabled
}

func (d *Dispatcher) dispatch(ev domain.Event) {
	actions, enabled := d.resolve(ev)
	if !enabled || len(actions) == 0 {
		return
	}
	delivery := uuid.NewString()
	for _, a := range actions {
		payload, err := buildPayload(ev, a)
		if err != nil {
			d.log.Error().Err(err).Str("event", ev.Name).Msg("hook payload marshal failed")
			continue
		}
		d.run(ev, a, payload, delivery)
	}
}

func (d *Dispatcher) run(ev domain.Event, a domain.Action, payload []byte, delivery string) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout(a))
	defer cancel()

	start := time.Now()
	var err error
	switch a.Kind {
	case domain.ActionCommand:
		err = d.runCommand(ctx, a, commandEnv(ev.Name, a, payload))
	case domain.ActionHTTP:
		var status int
		status, err = d.postHTTP(ctx, a, payload)
		if err == nil {
			d.log.Info().
				Str("delivery", delivery).
				Str("event", ev.Name).
				Str("endpoint", a.Endpoint).
				Int("status", status).
				Dur("took", time.Since(start)).
				Msg("hook http delivered")
			return
		}
	default:
		d.log.Warn().Str("kind", string(a.Kind)).Msg("hook action kind unknown, skipping")
		return
	}
	if err != nil {
		d.log.Warn().
			Err(err).
			Str("delivery", delivery).
			Str("event", ev.Name).
			Str("kind", string(a.Kind)).
			Msg("hook action failed")
		return
	}
	d.log.Info().
		Str("delivery", delivery).
		Str("event", ev.Name).
		Str("kind", string(a.Kind)).
		Dur("took", time.Since(start)).
		Msg("hook delivered")
}

// buildPayload serializes {event, timestamp, data[, parameters]}
func buildPayload(ev domain.Event, a domain.Action) ([]byte, error) {
	doc := map[string]any{
		"event":     ev.Name,
		"timestamp": ev.Timestamp.Format(time.RFC3339),
		"data":      ev.Data,
	}
	if len(a.Parameters) > 0 {
		doc["parameters"] = a.Parameters
	}
	return json.Marshal(doc)
}

// eventSlug extracts owner/repo from the event data when both are strings
func eventSlug(ev domain.Event) (string, bool) {
	owner, ok1 := ev.Data["owner"].(string)
	repo, ok2 := ev.Data["repo"].(string)
	if !ok1 || !ok2 || owner == "" || repo == "" {
		return "", false
	}
	return owner + "/" + repo, true
}
