package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chatwarden/warden/moderation/chatstore"
	"github.com/chatwarden/warden/moderation/escalation"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome of a command. Decision carries any platform actions; the remaining fields are filled only by the commands which report them.
type CommandResult struct {
	Decision *Decision `json:"decision"`
	// short plain-text status
	Message string `json:"message"`

	Warnings        *WarnStatus           `json:"warnings,omitempty"`
	Filters         []FilterInfo          `json:"filters,omitempty"`
	AntispamEnabled *bool                 `json:"antispam_enabled,omitempty"`
	Stats           *chatstore.StoreStats `json:"stats,omitempty"`
}

type WarnStatus struct {
	UserID int64 `json:"user_id"`
	Count  int   `json:"count"`
	Max    int   `json:"max"`
}

type FilterInfo struct {
	Word string `json:"word"`
	Warn bool   `json:"warn"`
}

// per-invocation state handed to each command implementation
type commandCall struct {
	Command
	name string
	now  time.Time
	res  *CommandResult
}

func (c *commandCall) add(a Action) {
	c.res.Decision.add(a)
}

type commandFunc func(eng *Engine, ctx context.Context, c *commandCall) error

type commandSpec struct {
	adminOnly bool
	run       commandFunc
}

var commandTable = map[string]commandSpec{
	"warn":          {adminOnly: true, run: (*Engine).cmdWarn},
	"warnings":      {adminOnly: false, run: (*Engine).cmdWarnings},
	"resetwarns":    {adminOnly: true, run: (*Engine).cmdResetWarns},
	"setmaxwarns":   {adminOnly: true, run: (*Engine).cmdSetMaxWarns},
	"mute":          {adminOnly: true, run: (*Engine).cmdMute},
	"silent":        {adminOnly: true, run: (*Engine).cmdMute},
	"unmute":        {adminOnly: true, run: (*Engine).cmdUnmute},
	"ban":           {adminOnly: true, run: (*Engine).cmdBan},
	"unban":         {adminOnly: true, run: (*Engine).cmdUnban},
	"kick":          {adminOnly: true, run: (*Engine).cmdKick},
	"addfilter":     {adminOnly: true, run: (*Engine).cmdAddFilter},
	"rmfilter":      {adminOnly: true, run: (*Engine).cmdRmFilter},
	"filters":       {adminOnly: false, run: (*Engine).cmdFilters},
	"antispam":      {adminOnly: true, run: (*Engine).cmdAntispam},
	"slowmode":      {adminOnly: true, run: (*Engine).cmdSlowmode},
	"setwelcome":    {adminOnly: true, run: (*Engine).cmdSetWelcome},
	"togglewelcome": {adminOnly: true, run: (*Engine).cmdToggleWelcome},
	"stats":         {adminOnly: false, run: (*Engine).cmdStats},
}

// Names of every supported command, for help output.
func CommandNames() []string {
	out := make([]string, 0, len(commandTable))
	for name := range commandTable {
		out = append(out, name)
	}
	return out
}

// "/Warn@SomeBot" -> "warn"
func normalizeCommandName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// Runs a parsed command against the chat's state.
//
// Returns ErrUnknownCommand for unsupported names, ErrForbidden when a non-admin invokes an admin-only command, and an *InvalidArgumentError for rejected arguments. In each of those cases no state is changed.
func (eng *Engine) ProcessCommand(ctx context.Context, cmd Command) (res *CommandResult, err error) {
	name := normalizeCommandName(cmd.Name)
	ctx, span := tracer.Start(ctx, "ProcessCommand", trace.WithAttributes(
		attribute.Int64("chat", cmd.ChatID),
		attribute.Int64("user", cmd.CallerID),
		attribute.String("command", name),
	))
	defer span.End()

	start := time.Now()
	logger := eng.logger().With("chat", cmd.ChatID, "user", cmd.CallerID, "command", name)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("moderation command execution exception", "err", r)
			err = fmt.Errorf("command processing panic: %v", r)
			res = nil
		}
		var dec *Decision
		if res != nil {
			dec = res.Decision
		}
		eng.observe("command", start, dec, err, span)
	}()

	spec, ok := commandTable[name]
	if !ok {
		return nil, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}

	if spec.adminOnly {
		admin, err := eng.authorizer().IsAdmin(ctx, cmd.ChatID, cmd.CallerID, cmd.IsAdminCaller)
		if err != nil {
			// fail closed
			logger.Warn("admin check failed", "err", err)
			return nil, ErrForbidden
		}
		if !admin {
			logger.Info("rejected admin command from non-admin")
			return nil, ErrForbidden
		}
	}

	eng.Store.Touch(cmd.CallerID, cmd.ChatID, cmd.IsGroup)
	now := eng.eventTime(cmd.Timestamp)
	c := &commandCall{
		Command: cmd,
		name:    name,
		now:     now,
		res: &CommandResult{
			Decision: newDecision(cmd.ChatID, cmd.CallerID, "command:"+name, now),
		},
	}
	if err := spec.run(eng, ctx, c); err != nil {
		logger.Info("command rejected", "err", err)
		return nil, err
	}

	res = c.res
	res.Decision.finish()
	res.Decision.CanonicalLogLine(logger)
	eng.notify(ctx, logger, res.Decision)
	return res, nil
}

// Target of commands which act on a replied-to user (warn, mute, ban, kick).
func (c *commandCall) replyTarget(usage string) (int64, error) {
	if c.ReplyToUserID == 0 {
		return 0, invalidArgf(c.name, "reply to a user to %s", usage)
	}
	return c.ReplyToUserID, nil
}

// Target given as a numeric user id argument, falling back to the replied-to user. Returns zero (and no error) if neither is present.
func (c *commandCall) argOrReplyTarget() (int64, error) {
	if len(c.Args) > 0 {
		uid, err := strconv.ParseInt(strings.TrimSpace(c.Args[0]), 10, 64)
		if err != nil || uid == 0 {
			return 0, invalidArgf(c.name, "user must be a numeric user id: %q", c.Args[0])
		}
		return uid, nil
	}
	return c.ReplyToUserID, nil
}

// Optional duration argument for mute and ban. Returns nil for indefinite.
func (c *commandCall) untilArg(idx int) (*time.Time, error) {
	if len(c.Args) <= idx {
		return nil, nil
	}
	d, ok := ParseDuration(c.Args[idx])
	if !ok || d <= 0 {
		return nil, invalidArgf(c.name, "malformed duration %q (expected eg 30s, 10m, 2h, 1d)", c.Args[idx])
	}
	until := c.now.Add(d)
	return &until, nil
}

func (eng *Engine) cmdWarn(ctx context.Context, c *commandCall) error {
	target, err := c.replyTarget("warn")
	if err != nil {
		return err
	}
	reason := strings.TrimSpace(strings.Join(c.Args, " "))
	if reason == "" {
		reason = "manual"
	}
	var v escalation.Verdict
	err = eng.mutate(ctx, c.ChatID, func(conf *chatstore.ChatConfig) error {
		v = escalation.RecordViolation(conf, target, reason)
		return nil
	})
	if err != nil {
		return err
	}
	c.add(verdictAction(target, v))
	if v.Outcome == escalation.Banned {
		c.res.Message = fmt.Sprintf("banned (max warns reached, %d/%d)", v.Count, v.Max)
	} else {
		c.res.Message = fmt.Sprintf("warned (%d/%d)", v.Count, v.Max)
	}
	return nil
}

func (eng *Engine) cmdWarnings(ctx context.Context, c *commandCall) error {
	target, err := c.argOrReplyTarget()
	if err != nil {
		return err
	}
	if target == 0 {
		target = c.CallerID
	}
	conf := eng.Store.Get(c.ChatID)
	c.res.Warnings = &WarnStatus{UserID: target, Count: conf.WarnCount(target), Max: conf.MaxWarns}
	c.res.Message = fmt.Sprintf("warnings: %d/%d", c.res.Warnings.Count, c.res.Warnings.Max)
	return nil
}

func (eng *Engine) cmdResetWarns(ctx context.Context, c *commandCall) error {
	target, err := c.argOrReplyTarget()
	if err != nil {
		return err
	}
	if target == 0 {
		return invalidArgf(c.name, "specify a user (reply or user id)")
	}
	err = eng.mutate(ctx, c.ChatID, func(conf *chatstore.ChatConfig) error {
		if escalation.Reset(conf, target) == 0 {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.res.Message = "warnings reset"
	return nil
}

func (eng *Engine) cmdSetMaxWarns(ctx context.Context, c *commandCall) error {
	if len(c.Args) == 0 {
		return invalidArgf(c.name, "usage: /setmaxwarns N")
	}
	n, err := strconv.Atoi(strings.TrimSpace(c.Args[0]))
	if err != nil || n < 1 {
		return invalidArgf(c.name, "max warns must be a positive integer: %q", c.Args[0])
	}
	err = eng.mutate(ctx, c.ChatID, func(conf *chatstore.ChatConfig) error {
		conf.MaxWarns = n
		return nil
	})
	if err != nil {
		return err
	}
	c.res.Message = fmt.Sprintf("max warns set to %d", n)
	return nil
}

func (eng *Engine) cmdMute(ctx context.Context, c *commandCall) error {
	target, err := c.replyTarget("mute")
	if err != nil {
		return err
	}
	until, err := c.untilArg(0)
	if err != nil {
		return err
	}
	c.add(Action{Kind: ActionMuteUser, UserID: target, Until: until, Reason: "manual"})
	c.res.Message = "muted"
	return nil
}

func (eng *Engine) cmdUnmute(ctx context.Context, c *commandCall) error {
	target, err := c.replyTarget("unmute")
	if err != nil {
		return err
	}
	c.add(Action{Kind: ActionUnmute, UserID: target})
	c.res.Message = "unmuted"
	return nil
}

func (eng *Engine) cmdBan(ctx context.Context, c *commandCall) error {
	target, err := c.replyTarget("ban")
	if err != nil {
		return err
	}
	until, err := c.untilArg(0)
	if err != nil {
		return err
	}
	c.add(Action{Kind: ActionBanned, UserID: target, Until: until, Reason: "manual"})
	c.res.Message = "banned"
	return nil
}

func (eng *Engine) cmdUnban(ctx context.Context, c *commandCall) error {
	target, err := c.argOrReplyTarget()
	if err != nil {
		return err
	}
	if target == 0 {
		return invalidArgf(c.name, "usage: /unban <user id>")
	}
	c.add(Action{Kind: ActionUnban, UserID: target})
	c.res.Message = "unbanned"
	return nil
}

func (eng *Engine) cmdKick(ctx context.Context, c *commandCall) error {
	target, err := c.replyTarget("kick")
	if err != nil {
		return err
	}
	c.add(Action{Kind: ActionKick, UserID: target})
	c.res.Message = "kicked"
	return nil
}

func (eng *Engine) cmdAddFilter(ctx context.Context, c *commandCall) error {
	if len(c.Args) == 0 || strings.TrimSpace(c.Args[0]) == "" {
		return invalidArgf(c.name, "usage: /addfilter <word> [warn]")
	}
	word := strings.TrimSpace(c.Args[0])
	warn := len(c.Args) > 1 && strings.EqualFold(c.Args[1], "warn")
	var stored string
	err := eng.mutate(ctx, c.ChatID, func(conf *chatstore.ChatConfig) error {
		stored = conf.Filters.Put(word, chatstore.FilterSpec{Warn: warn})
		return nil
	})
	if err != nil {
		return err
	}
	c.res.Filters = []FilterInfo{{Word: stored, Warn: warn}}
	c.res.Message = fmt.Sprintf("filter added for %q (warn=%t)", stored, warn)
	return nil
}

func (eng *Engine) cmdRmFilter(ctx context.Context, c *commandCall) error {
	if len(c.Args) == 0 || strings.TrimSpace(c.Args[0]) == "" {
		return invalidArgf(c.name, "usage: /rmfilter <word>")
	}
	word := strings.TrimSpace(c.Args[0])
	removed := false
	err := eng.mutate(ctx, c.ChatID, func(conf *chatstore.ChatConfig) error {
		removed = conf.Filters.Remove(word)
		if !removed {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return err
	}
	if removed {
		c.res.Message = fmt.Sprintf("filter removed for %q", chatstore.FoldWord(word))
	} else {
		c.res.Message = "no such filter"
	}
	return nil
}

func (eng *Engine) cmdFilters(ctx context.Context, c *commandCall) error {
	conf := eng.Store.Get(c.ChatID)
	c.res.Filters = []FilterInfo{}
	for _, e := range conf.Filters.Entries() {
		c.res.Filters = append(c.res.Filters, FilterInfo{Word: e.Word, Warn: e.Spec.Warn})
	}
	if len(c.res.Filters) == 0 {
		c.res.Message = "no filters set"
	} else {
		c.res.Message = fmt.Sprintf("%d filters", len(c.res.Filters))
	}
	return nil
}

func (eng *Engine) cmdAntispam(ctx context.Context, c *commandCall) error {
	var arg string
	if len(c.Args) > 0 {
		arg = strings.ToLower(strings.TrimSpace(c.Args[0]))
	}
	if arg != "on" && arg != "off" {
		// no (or unrecognized) argument reports the current setting
		enabled := eng.Store.Get(c.ChatID).AntispamEnabled
		c.res.AntispamEnabled = &enabled
		c.res.Message = fmt.Sprintf("anti-spam is %s. use /antispam on|off", onOff(enabled))
		return nil
	}
	enabled := arg == "on"
	err := eng.mutate(ctx, c.ChatID, func(conf *chatstore.ChatConfig) error {
		if conf.AntispamEnabled == enabled {
			return errUnchanged
		}
		conf.AntispamEnabled = enabled
		return nil
	})
	if err != nil {
		return err
	}
	c.res.AntispamEnabled = &enabled
	c.res.Message = fmt.Sprintf("anti-spam %s", onOff(enabled))
	return nil
}

func (eng *Engine) cmdSlowmode(ctx context.Context, c *commandCall) error {
	if len(c.Args) == 0 {
		return invalidArgf(c.name, "usage: /slowmode <seconds|off>")
	}
	arg := strings.ToLower(strings.TrimSpace(c.Args[0]))
	secs := 0
	if arg != "off" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return invalidArgf(c.name, "slowmode must be a number of seconds, or off: %q", c.Args[0])
		}
		secs = n
	}
	err := eng.mutate(ctx, c.ChatID, func(conf *chatstore.ChatConfig) error {
		conf.Slowmode = secs
		return nil
	})
	if err != nil {
		return err
	}
	c.add(Action{Kind: ActionSetSlowmode, Seconds: secs})
	c.res.Message = fmt.Sprintf("slow mode set to %d seconds", secs)
	return nil
}

func (eng *Engine) cmdSetWelcome(ctx context.Context, c *commandCall) error {
	text := strings.TrimSpace(strings.Join(c.Args, " "))
	if text == "" {
		return invalidArgf(c.name, "usage: /setwelcome <text with {mention}>")
	}
	err := eng.mutate(ctx, c.ChatID, func(conf *chatstore.ChatConfig) error {
		conf.WelcomeText = text
		return nil
	})
	if err != nil {
		return err
	}
	c.res.Message = "welcome text updated"
	return nil
}

func (eng *Engine) cmdToggleWelcome(ctx context.Context, c *commandCall) error {
	var enabled bool
	err := eng.mutate(ctx, c.ChatID, func(conf *chatstore.ChatConfig) error {
		conf.WelcomeEnabled = !conf.WelcomeEnabled
		enabled = conf.WelcomeEnabled
		return nil
	})
	if err != nil {
		return err
	}
	c.res.Message = fmt.Sprintf("welcome messages %s", onOff(enabled))
	return nil
}

func (eng *Engine) cmdStats(ctx context.Context, c *commandCall) error {
	stats := eng.Store.Stats()
	c.res.Stats = &stats
	c.res.Message = fmt.Sprintf("users seen: %d, groups seen: %d", stats.Users, stats.Groups)
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
