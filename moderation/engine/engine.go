package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/chatwarden/warden/moderation/chatstore"
	"github.com/chatwarden/warden/moderation/escalation"
	"github.com/chatwarden/warden/moderation/filter"
	"github.com/chatwarden/warden/moderation/flood"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var linkRegex = regexp.MustCompile(`(?i)https?://|t\.me/|telegram\.me/`)

// Coordinates moderation of inbound events against per-chat state.
//
// Store must be non-nil. Authorizer defaults to trusting the caller flag. Notifier is optional.
type Engine struct {
	Logger     *slog.Logger
	Store      *chatstore.Store
	Authorizer Authorizer
	Notifier   Notifier
	// clock used when an event carries no timestamp. defaults to time.Now
	Now func() time.Time
}

func (eng *Engine) now() time.Time {
	if eng.Now != nil {
		return eng.Now()
	}
	return time.Now()
}

func (eng *Engine) eventTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return eng.now()
	}
	return ts
}

func (eng *Engine) logger() *slog.Logger {
	if eng.Logger == nil {
		return slog.Default()
	}
	return eng.Logger
}

// Store.Mutate, treating errUnchanged as success.
func (eng *Engine) mutate(ctx context.Context, chatID int64, fn func(conf *chatstore.ChatConfig) error) error {
	_, err := eng.Store.Mutate(ctx, chatID, fn)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

func (eng *Engine) authorizer() Authorizer {
	if eng.Authorizer == nil {
		return CallerFlagAuthorizer{}
	}
	return eng.Authorizer
}

// Evaluates one message against the chat's filters, link rule and flood detector, in that order.
//
// All reads and writes for the message happen within a single mutation of the chat, so escalation and flood counters are serialized per chat and persisted before the decision is returned.
func (eng *Engine) ProcessMessage(ctx context.Context, evt MessageEvent) (dec *Decision, err error) {
	ctx, span := tracer.Start(ctx, "ProcessMessage", trace.WithAttributes(
		attribute.Int64("chat", evt.ChatID),
		attribute.Int64("user", evt.UserID),
	))
	defer span.End()

	start := time.Now()
	logger := eng.logger().With("chat", evt.ChatID, "user", evt.UserID)
	// similar to an HTTP server, we want to recover any panics from rule execution
	defer func() {
		if r := recover(); r != nil {
			logger.Error("moderation event execution exception", "err", r, "type", "message")
			err = fmt.Errorf("message processing panic: %v", r)
			dec = nil
		}
		eng.observe("message", start, dec, err, span)
	}()

	eng.Store.Touch(evt.UserID, evt.ChatID, evt.IsGroup)
	now := eng.eventTime(evt.Timestamp)
	dec = newDecision(evt.ChatID, evt.UserID, "message", now)

	err = eng.mutate(ctx, evt.ChatID, func(conf *chatstore.ChatConfig) error {
		dec.Actions = nil
		if !evaluateMessage(conf, evt, now, dec) {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dec.finish()
	dec.CanonicalLogLine(logger)
	eng.notify(ctx, logger, dec)
	return dec, nil
}

// The per-message state machine. Appends actions to dec, and returns whether conf was modified.
func evaluateMessage(conf *chatstore.ChatConfig, evt MessageEvent, now time.Time, dec *Decision) bool {
	if !conf.AntispamEnabled && conf.Filters.Len() == 0 {
		return false
	}

	// a filter match short-circuits everything else
	if m, ok := filter.Match(conf, evt.Text); ok {
		dec.Trigger = "filter"
		dec.add(Action{Kind: ActionDeleteMessage, UserID: evt.UserID, Reason: "filter:" + m.Word})
		if !m.Warn {
			return false
		}
		v := escalation.RecordViolation(conf, evt.UserID, "filter:"+m.Word)
		dec.add(verdictAction(evt.UserID, v))
		return true
	}

	if !conf.AntispamEnabled {
		return false
	}

	// links are deleted, but never escalated
	if linkRegex.MatchString(evt.Text) {
		dec.Trigger = "link"
		dec.add(Action{Kind: ActionDeleteMessage, UserID: evt.UserID, Reason: "link"})
		return false
	}

	dec.Trigger = "flood"
	if flood.Check(conf, evt.UserID, now) == flood.Flagged {
		until := now.Add(flood.MuteDuration)
		dec.add(Action{Kind: ActionMuteUser, UserID: evt.UserID, Until: &until, Reason: "flood"})
	} else {
		dec.Trigger = "message"
	}
	return true
}

// Produces a welcome action for a new member, if the chat has welcome messages enabled.
func (eng *Engine) ProcessJoin(ctx context.Context, evt JoinEvent) (dec *Decision, err error) {
	ctx, span := tracer.Start(ctx, "ProcessJoin", trace.WithAttributes(
		attribute.Int64("chat", evt.ChatID),
		attribute.Int64("user", evt.UserID),
	))
	defer span.End()

	start := time.Now()
	logger := eng.logger().With("chat", evt.ChatID, "user", evt.UserID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("moderation event execution exception", "err", r, "type", "join")
			err = fmt.Errorf("join processing panic: %v", r)
			dec = nil
		}
		eng.observe("join", start, dec, err, span)
	}()

	eng.Store.Touch(evt.UserID, evt.ChatID, evt.IsGroup)
	dec = newDecision(evt.ChatID, evt.UserID, "join", eng.eventTime(evt.Timestamp))
	conf := eng.Store.Get(evt.ChatID)
	if conf.WelcomeEnabled {
		dec.add(Action{Kind: ActionWelcomeUser, UserID: evt.UserID, Template: conf.WelcomeText})
	}
	dec.finish()
	dec.CanonicalLogLine(logger)
	return dec, nil
}

func (eng *Engine) notify(ctx context.Context, logger *slog.Logger, dec *Decision) {
	if eng.Notifier == nil || !dec.Notable() {
		return
	}
	if err := eng.Notifier.Notify(ctx, dec); err != nil {
		logger.Warn("failed to enqueue audit notification", "decision", dec.ID, "err", err)
	}
}

func (eng *Engine) observe(typ string, start time.Time, dec *Decision, err error, span trace.Span) {
	eventProcessDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	eventProcessCount.WithLabelValues(typ).Inc()
	if err != nil {
		eventErrorCount.WithLabelValues(typ).Inc()
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if dec != nil {
		span.SetAttributes(attribute.String("decision", dec.ID), attribute.StringSlice("actions", dec.Kinds()))
		for _, a := range dec.Actions {
			actionCount.WithLabelValues(string(a.Kind)).Inc()
		}
	}
}
