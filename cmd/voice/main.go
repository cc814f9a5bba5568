package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/voicemesh/internal/adapters/capture"
	"github.com/dkeye/voicemesh/internal/adapters/relayclient"
	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/mesh"
	"github.com/dkeye/voicemesh/internal/app/speaking"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("voice", pflag.ExitOnError)
	flags.String("channel", "", "channel to join on start")
	flags.String("name", "", "display name")
	flags.String("id", "", "participant id (random when empty)")
	flags.String("relay", "", "relay websocket url")
	flags.String("record", "", "directory to record inbound media into")
	debug := flags.Bool("debug", false, "debug logging")
	_ = flags.Parse(os.Args[1:])
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	identity, err := app.NewStaticIdentity(cfg.Identity.ID, cfg.Identity.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("bad identity")
	}

	conns, err := rtc.NewFactory(rtc.DefaultWebRTCConfig(cfg.ICEServers))
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc setup")
	}

	relay, err := relayclient.Dial(ctx, cfg.RelayURL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.RelayURL).Msg("relay dial")
	}
	defer relay.Close()

	deps := mesh.Deps{
		Relay:     relay,
		Identity:  identity,
		Directory: app.StaticDirectory{},
		Conns:     conns,
		Capture: capture.NewRTPIngest(capture.Config{
			AudioAddr:   cfg.Capture.AudioAddr,
			CameraAddr:  cfg.Capture.CameraAddr,
			ScreenAddr:  cfg.Capture.ScreenAddr,
			IdleTimeout: cfg.Capture.IdleTimeout,
			LevelExtID:  cfg.Capture.LevelExtID,
		}),
	}
	if cfg.Capture.RecordDir != "" {
		deps.Sink = capture.FileSink{Dir: cfg.Capture.RecordDir}
	}

	session := mesh.New(meshConfig(cfg), deps)
	defer session.Close()

	go report(ctx, session)

	if cfg.Channel != "" {
		if err := session.Connect(ctx, domain.ChannelID(cfg.Channel)); err != nil {
			log.Error().Err(err).Str("channel", cfg.Channel).Msg("connect failed")
		}
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-relay.Done():
			log.Warn().Msg("relay connection lost")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := command(ctx, session, strings.Fields(line)); quit {
				return
			}
		}
	}
}

func meshConfig(cfg *config.Config) mesh.Config {
	return mesh.Config{
		RecoveryCooldown:   cfg.Mesh.RecoveryCooldown,
		RecoveryInterval:   cfg.Mesh.RecoveryInterval,
		LatencyInterval:    cfg.Mesh.LatencyInterval,
		RenegotiateRetries: cfg.Mesh.RenegotiateRetries,
		RenegotiateBackoff: cfg.Mesh.RenegotiateBackoff,
		MoveDelay:          cfg.Mesh.MoveDelay,
		VideoStaleAfter:    cfg.Mesh.VideoStaleAfter,
		Speaking: speaking.Config{
			Window:    cfg.Speaking.Window,
			Smoothing: cfg.Speaking.Smoothing,
			Threshold: cfg.Speaking.Threshold,
		},
	}
}

var moderation = map[string]domain.ModerationAction{
	"kick":   domain.ModKick,
	"mute":   domain.ModForceMute,
	"unmute": domain.ModForceUnmute,
	"move":   domain.ModMove,
}

// command runs one console line and reports whether the client should exit.
func command(ctx context.Context, s *mesh.Session, args []string) bool {
	if len(args) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	switch args[0] {
	case "m", "mute":
		if len(args) > 1 {
			err = moderate(ctx, s, args)
			break
		}
		err = s.ToggleMute(ctx)
	case "d", "deafen":
		err = s.ToggleDeafen(ctx)
	case "c", "camera":
		err = s.ToggleCamera(ctx)
	case "s", "screen":
		err = s.ToggleScreen(ctx)
	case "kick", "unmute", "move":
		err = moderate(ctx, s, args)
	case "join":
		if len(args) < 2 {
			err = errors.New("usage: join <channel>")
			break
		}
		err = s.Connect(ctx, domain.ChannelID(args[1]))
	case "leave":
		err = s.Disconnect(ctx)
	case "q", "quit":
		return true
	default:
		log.Warn().Str("cmd", args[0]).Msg("unknown command")
		return false
	}
	if err != nil {
		log.Error().Err(err).Str("cmd", args[0]).Msg("command failed")
	}
	return false
}

func moderate(ctx context.Context, s *mesh.Session, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: kick|mute|unmute <id>, move <id> <channel>")
	}
	var target domain.ChannelID
	if len(args) > 2 {
		target = domain.ChannelID(args[2])
	}
	return s.SendModeration(ctx, domain.ParticipantID(args[1]), moderation[args[0]], target)
}

func report(ctx context.Context, s *mesh.Session) {
	for st := range s.Watch(ctx) {
		ev := log.Info().
			Str("status", st.Status.String()).
			Str("channel", string(st.Channel)).
			Bool("muted", st.Local.Muted).
			Bool("deafened", st.Local.Deafened).
			Str("video", string(st.Video))
		if st.Latency.Valid {
			ev = ev.Dur("rtt", st.Latency.RTT)
		}
		ev.Int("peers", len(st.Roster)).Msg("state")
		for _, e := range st.Roster {
			log.Debug().
				Str("peer", string(e.ID)).
				Str("name", e.DisplayName).
				Bool("muted", e.Muted).
				Bool("speaking", e.Speaking).
				Bool("video", e.VideoVisible).
				Bool("linked", e.Linked).
				Msg("roster")
		}
	}
}
