package webmention

import (
	"log/slog"
)

// MentionCallback is invoked after an incoming Mention has been processed or
// deleted. A panic or error from the callback is itself never allowed to
// surface to the caller of ProcessIncoming: it is caught and logged, mirroring
// original_source/handlers/_common.py's on_mention_callback_wrapper.
type MentionCallback func(Mention)

// IncomingProcessor implements spec.md §4.3: fetch, verify, and store an
// incoming Webmention notification, or tombstone it if the source has gone
// away.
type IncomingProcessor struct {
	Storage            Storage
	Parser             *Parser
	InitialStatus      MentionStatus
	OnMentionProcessed MentionCallback
	OnMentionDeleted   MentionCallback
}

// NewIncomingProcessor builds an IncomingProcessor. InitialStatus defaults to
// StatusConfirmed when left zero-valued, matching the teacher handler's
// default.
func NewIncomingProcessor(storage Storage, parser *Parser) *IncomingProcessor {
	return &IncomingProcessor{
		Storage:       storage,
		Parser:        parser,
		InitialStatus: StatusConfirmed,
	}
}

// ProcessIncoming fetches source, verifies it links to target, and stores the
// resulting Mention. If the source is gone (404/410, or no longer contains
// target), any existing row for (source, target) is deleted instead and
// OnMentionDeleted fires in place of OnMentionProcessed.
func (p *IncomingProcessor) ProcessIncoming(source, target string) error {
	if source == "" || target == "" {
		return ValidationError("source and target URLs are required")
	}

	mention, err := p.Parser.Parse(source, target)
	if err != nil {
		if IsGone(err) {
			if delErr := p.Storage.Delete(source, target, DirectionIn); delErr != nil {
				return StorageError(delErr)
			}
			p.runCallback(p.OnMentionDeleted, NewMention(source, target, DirectionIn))
			return nil
		}
		return err
	}

	status := p.InitialStatus
	if status == "" {
		status = StatusConfirmed
	}
	mention.Status = status

	if err := p.Storage.Store(mention); err != nil {
		return StorageError(err)
	}

	p.runCallback(p.OnMentionProcessed, mention)
	return nil
}

// runCallback invokes cb if non-nil, recovering from and logging any panic so
// a misbehaving callback never takes down the caller.
func (p *IncomingProcessor) runCallback(cb MentionCallback, m Mention) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mention callback panicked",
				"source", m.Source, "target", m.Target, "direction", m.Direction,
				"panic", r)
		}
	}()
	cb(m)
}
