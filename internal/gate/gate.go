// Package gate implements the admission control checks every inbound
// capture message must pass before it is processed: fixed-window rate
// limits, a sender allowlist, a command whitelist, and content
// sanitization with a graduated block threshold. Every decision, allowed
// or not, produces exactly one audit entry.
package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/notekeep/gatehouse/internal/audit"
)

// DefaultAllowedCommands is the command whitelist applied when the config
// does not override it.
var DefaultAllowedCommands = []string{"start", "help", "status", "recent", "retry", "tags"}

// Message is one inbound capture event, already decoded by the transport
// client (text message, voice transcription, photo caption, document).
// TagMentions and PersonMentions are the transport's explicitly flagged
// candidates; the gate passes them through untouched for reconciliation
// downstream.
type Message struct {
	ID             string
	SenderID       string
	ChannelID      string
	ContentType    string // "text", "voice", "photo", "document"
	Text           string
	Commands       []string // leading-slash tokens extracted by the transport
	Attachments    []string
	TagMentions    []string
	PersonMentions []string
	Timestamp      time.Time
}

// Decision is the gate verdict for one message.
type Decision struct {
	Allowed         bool
	Action          audit.Action
	Reason          string
	SanitizedText   string // set only when allowed
	Signatures      []string
	Warnings        []string
	ValidCommands   []string
	BlockedCommands []string
}

// ExtraSignature is a config-supplied pattern appended to the default table.
type ExtraSignature struct {
	Name    string
	Pattern string
}

// Config holds the gate's tunables. Zero limits disable the corresponding
// window; an empty sender allowlist admits every sender.
type Config struct {
	AllowedSenders  []string
	AllowedCommands []string
	PerMinute       int
	PerHour         int
	SanitizeContent bool
	BlockThreshold  int
	ExtraSignatures []ExtraSignature
}

// Gate runs the admission checks in order: rate limit, sender, commands,
// sanitization. The first failing check decides; later checks never run.
type Gate struct {
	cfg       Config
	senders   map[string]struct{}
	commands  map[string]struct{}
	limiter   *RateLimiter
	sanitizer *Sanitizer
	clock     clockwork.Clock
	writer    audit.Writer
	logger    *zap.Logger
}

// New builds a Gate. Config-supplied signature patterns are compiled here
// so a bad pattern fails at startup, not per message.
func New(cfg Config, clock clockwork.Clock, writer audit.Writer, logger *zap.Logger) (*Gate, error) {
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = 3
	}
	if cfg.AllowedCommands == nil {
		cfg.AllowedCommands = DefaultAllowedCommands
	}

	extras := make([]Signature, 0, len(cfg.ExtraSignatures))
	for _, es := range cfg.ExtraSignatures {
		sig, err := CompileSignature(es.Name, es.Pattern)
		if err != nil {
			return nil, fmt.Errorf("gate.New: %w", err)
		}
		extras = append(extras, sig)
	}

	senders := make(map[string]struct{}, len(cfg.AllowedSenders))
	for _, s := range cfg.AllowedSenders {
		senders[s] = struct{}{}
	}
	commands := make(map[string]struct{}, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		commands[normalizeCommand(c)] = struct{}{}
	}

	return &Gate{
		cfg:       cfg,
		senders:   senders,
		commands:  commands,
		limiter:   NewRateLimiter(cfg.PerMinute, cfg.PerHour, clock),
		sanitizer: NewSanitizer(extras...),
		clock:     clock,
		writer:    writer,
		logger:    logger,
	}, nil
}

// Check runs the admission checks and audits the decision.
func (g *Gate) Check(msg *Message) Decision {
	if ok, reason := g.limiter.Allow(); !ok {
		return g.audited(msg, Decision{
			Allowed: false,
			Action:  audit.ActionRateLimited,
			Reason:  reason,
		})
	}

	if !g.senderAllowed(msg.SenderID) {
		return g.audited(msg, Decision{
			Allowed: false,
			Action:  audit.ActionBlocked,
			Reason:  fmt.Sprintf("sender %q is not on the allowlist", msg.SenderID),
		})
	}

	valid, blocked := g.partitionCommands(msg.Commands)
	var warnings []string
	if len(blocked) > 0 {
		warnings = append(warnings, fmt.Sprintf("dropped commands not on the whitelist: %s", strings.Join(blocked, ", ")))
	}

	text := msg.Text
	var matched []string
	if g.cfg.SanitizeContent && text != "" {
		res := g.sanitizer.Sanitize(text)
		matched = res.Signatures
		warnings = append(warnings, res.Warnings...)

		if len(matched) >= g.cfg.BlockThreshold {
			return g.audited(msg, Decision{
				Allowed:         false,
				Action:          audit.ActionBlocked,
				Reason:          fmt.Sprintf("content matched %d injection signatures", len(matched)),
				Signatures:      matched,
				Warnings:        warnings,
				ValidCommands:   valid,
				BlockedCommands: blocked,
			})
		}
		if len(matched) > 0 {
			text = res.Text
			warnings = append(warnings, fmt.Sprintf("redacted content matching: %s", strings.Join(matched, ", ")))
		}
	}

	action := audit.ActionProcessed
	reason := "passed all checks"
	if len(matched) > 0 {
		action = audit.ActionSanitized
		reason = fmt.Sprintf("redacted %d suspicious spans", len(matched))
	}

	return g.audited(msg, Decision{
		Allowed:         true,
		Action:          action,
		Reason:          reason,
		SanitizedText:   text,
		Signatures:      matched,
		Warnings:        warnings,
		ValidCommands:   valid,
		BlockedCommands: blocked,
	})
}

func (g *Gate) senderAllowed(senderID string) bool {
	if len(g.senders) == 0 {
		return true
	}
	_, ok := g.senders[senderID]
	return ok
}

// partitionCommands splits the message's command tokens into whitelisted
// and dropped. Blocked commands warn; they are never a hard failure.
func (g *Gate) partitionCommands(cmds []string) (valid, blocked []string) {
	for _, c := range cmds {
		if _, ok := g.commands[normalizeCommand(c)]; ok {
			valid = append(valid, c)
		} else {
			blocked = append(blocked, c)
		}
	}
	return valid, blocked
}

func normalizeCommand(c string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "/"))
}

// audited writes exactly one entry for the decision and passes it through.
// Sink failures are the sink's problem: Write never returns one.
func (g *Gate) audited(msg *Message, d Decision) Decision {
	g.writer.Write(&audit.Entry{
		ID:          uuid.New().String(),
		Timestamp:   g.clock.Now().UTC(),
		MessageID:   msg.ID,
		SenderID:    msg.SenderID,
		ChannelID:   msg.ChannelID,
		ContentType: msg.ContentType,
		Action:      d.Action,
		Reason:      d.Reason,
		Signatures:  d.Signatures,
	})
	return d
}
