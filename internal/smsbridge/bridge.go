package smsbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

type InboundMessage struct {
	From string
	Body string
}

// Relayer forwards a bridged position to the relay store.
type Relayer interface {
	Relay(ctx context.Context, tripCode, memberID, relayedBy string, lat, lng float64) error
}

// Sender delivers an outbound SMS.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Bridge runs on the host device only.
type Bridge struct {
	tripCode string
	hostID   string
	relayer  Relayer
	sender   Sender
	log      *slog.Logger

	mu        sync.Mutex
	leader    [2]float64
	hasLeader bool
}

func NewBridge(tripCode, hostID string, r Relayer, s Sender, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		tripCode: tripCode,
		hostID:   hostID,
		relayer:  r,
		sender:   s,
		log:      log.With("component", "smsbridge", "trip", tripCode),
	}
}

// UpdateLeaderLocation sets the position sent back in KFL-STAT replies.
func (b *Bridge) UpdateLeaderLocation(lat, lon float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leader = [2]float64{lat, lon}
	b.hasLeader = true
}

// HandleIncoming relays a KFL-LOC message and replies with the host position.
// Bodies that are not bridge locations are ignored and return nil.
func (b *Bridge) HandleIncoming(ctx context.Context, msg InboundMessage) error {
	if !IsLocation(msg.Body) {
		return nil
	}
	loc, err := ParseLocation(msg.Body)
	if err != nil {
		b.log.Warn("ignoring malformed bridge message", "from", msg.From, "error", err)
		return err
	}

	if err := b.relayer.Relay(ctx, b.tripCode, loc.MemberID, b.hostID, loc.Latitude, loc.Longitude); err != nil {
		return fmt.Errorf("relay %s: %w", loc.MemberID, err)
	}
	b.log.Info("relayed bridged location", "member", loc.MemberID, "from", msg.From)

	b.mu.Lock()
	leader, ok := b.leader, b.hasLeader
	b.mu.Unlock()
	if !ok || msg.From == "" {
		return nil
	}
	if err := b.sender.Send(ctx, msg.From, EncodeLeaderReply(leader[0], leader[1])); err != nil {
		b.log.Warn("leader reply failed", "to", msg.From, "error", err)
	}
	return nil
}

// WriterSender writes outbound messages as "to|body" lines, for handing off
// to whatever actually sends SMS.
type WriterSender struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSender(w io.Writer) *WriterSender {
	return &WriterSender{w: w}
}

func (s *WriterSender) Send(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s|%s\n", to, body)
	return err
}

// ParseInbound reads the "from|body" line format WriterSender produces.
func ParseInbound(line string) (InboundMessage, bool) {
	from, body, ok := strings.Cut(strings.TrimSpace(line), "|")
	if !ok || strings.TrimSpace(body) == "" {
		return InboundMessage{}, false
	}
	return InboundMessage{From: strings.TrimSpace(from), Body: strings.TrimSpace(body)}, true
}
