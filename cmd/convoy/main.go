// Command convoy runs one member's trip session. GPS samples arrive on stdin
// as JSON lines; on the host with SMS_BRIDGE set, "from|body" lines are
// treated as inbound SMS and replies are written to stdout in the same form.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"backend-convoyhub/internal/apiclient"
	"backend-convoyhub/internal/config"
	"backend-convoyhub/internal/logging"
	"backend-convoyhub/internal/realtime"
	"backend-convoyhub/internal/roster"
	"backend-convoyhub/internal/session"
	"backend-convoyhub/internal/shared/geo"
	"backend-convoyhub/internal/smsbridge"
	"backend-convoyhub/internal/trip"
)

func main() {
	cfg := config.Load()
	log := logging.NewWithWriter(os.Stderr, cfg.LogLevel)
	if err := cfg.ValidateSession(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Stdin, os.Stdout); err != nil {
		log.Error("session ended with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, in io.Reader, out io.Writer) error {
	api := apiclient.New(cfg.APIURL, log)
	t, err := api.JoinTrip(ctx, cfg.TripCode, cfg.MemberID)
	if err != nil {
		return fmt.Errorf("join trip %s: %w", cfg.TripCode, err)
	}
	log.Info("joined trip", "trip", t.Code, "host", t.HostID, "participants", len(t.Participants))

	r := roster.New(cfg.MemberID, t.HostID)
	transport := realtime.NewClient(realtime.Options{
		BrokerURL: cfg.MQTTBrokerURL,
		MemberID:  cfg.MemberID,
		Logger:    log,
	})
	sess := session.New(session.Config{
		TripCode:          t.Code,
		MemberID:          cfg.MemberID,
		PollInterval:      cfg.PollInterval,
		ReconnectInterval: cfg.ReconnectInterval,
		SweepInterval:     cfg.SweepInterval,
		Logger:            log,
	}, transport, api, r)

	var bridge *smsbridge.Bridge
	if cfg.SMSBridge {
		if !trip.IsHost(t, cfg.MemberID) {
			log.Warn("sms bridge only runs on the host device; ignoring SMS_BRIDGE")
		} else {
			bridge = smsbridge.NewBridge(t.Code, cfg.MemberID, api, smsbridge.NewWriterSender(out), log)
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	h := &lineHandler{sess: sess, roster: r, log: log}
	if bridge != nil {
		h.bridge = bridge
	}
	scanErr := h.consume(ctx, in)

	sess.Leave()
	if err := <-runErr; err != nil {
		return err
	}
	return scanErr
}

type publisher interface {
	Publish(ctx context.Context, s geo.Sample)
	Offline()
}

type relay interface {
	HandleIncoming(ctx context.Context, msg smsbridge.InboundMessage) error
	UpdateLeaderLocation(lat, lon float64)
}

type gpsLine struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Heading   float64  `json:"heading"`
	Speed     float64  `json:"speed"`
	// Timestamp is the fix time in unix ms; the session stamps it when absent.
	Timestamp int64    `json:"timestamp"`
}

func (g gpsLine) sample() geo.Sample {
	s := geo.Sample{Latitude: *g.Latitude, Longitude: *g.Longitude, Heading: g.Heading, Speed: g.Speed}
	if g.Timestamp > 0 {
		s.At = time.UnixMilli(g.Timestamp)
	}
	return s
}

type lineHandler struct {
	sess   publisher
	bridge relay
	roster *roster.Roster
	log    *slog.Logger
}

var errBadSample = errors.New("latitude and longitude are required")

func (h *lineHandler) consume(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if err := h.handle(ctx, line); err != nil {
				h.log.Warn("ignoring input line", "error", err)
			}
		}
	}
}

func (h *lineHandler) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "offline":
		h.sess.Offline()
		return nil
	case strings.HasPrefix(line, "{"):
		var g gpsLine
		if err := json.Unmarshal([]byte(line), &g); err != nil {
			return err
		}
		if g.Latitude == nil || g.Longitude == nil {
			return errBadSample
		}
		h.sess.Publish(ctx, g.sample())
		if h.bridge != nil {
			h.bridge.UpdateLeaderLocation(*g.Latitude, *g.Longitude)
		}
		h.report()
		return nil
	default:
		msg, ok := smsbridge.ParseInbound(line)
		if !ok {
			return fmt.Errorf("unrecognised line %q", line)
		}
		if h.bridge == nil {
			return errors.New("sms bridge disabled")
		}
		return h.bridge.HandleIncoming(ctx, msg)
	}
}

func (h *lineHandler) report() {
	if h.roster == nil {
		return
	}
	attrs := []any{"members", len(h.roster.Snapshot()), "group_speed_kmh", h.roster.GroupSpeed()}
	if d, ok := h.roster.DistanceToLeader(); ok {
		attrs = append(attrs, "leader_distance_m", int(d))
	}
	h.log.Info("convoy", attrs...)
}
