package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	mediasrc "github.com/dkeye/Stage/internal/adapters/media"
	"github.com/dkeye/Stage/internal/adapters/render"
	"github.com/dkeye/Stage/internal/adapters/rtc"
	"github.com/dkeye/Stage/internal/adapters/wsclient"
	"github.com/dkeye/Stage/internal/app/call"
	"github.com/dkeye/Stage/internal/app/links"
	"github.com/dkeye/Stage/internal/app/media"
	"github.com/dkeye/Stage/internal/app/router"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	config.Flags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("stage client stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	topology, err := call.ParseTopology(cfg.Topology)
	if err != nil {
		return err
	}
	if err := domain.ValidateDisplayName(cfg.DisplayName); err != nil {
		return err
	}

	t, err := wsclient.Dial(ctx, wsclient.Options{
		URL:         cfg.RelayURL,
		Stage:       domain.StageName(cfg.Stage),
		DisplayName: cfg.DisplayName,
		PingPeriod:  cfg.PingPeriod,
	})
	if err != nil {
		return err
	}
	defer t.Close()
	self := t.Self()

	connector, err := rtc.NewConnector(rtc.Options{ICEServers: cfg.ICEServers, Trickle: cfg.Trickle})
	if err != nil {
		return err
	}

	var renderer core.Renderer = render.Log{}
	var files *render.Files
	if cfg.RenderDir != "" {
		if files, err = render.NewFiles(cfg.RenderDir); err != nil {
			return err
		}
		renderer = files
	}

	r := router.New(self, t)
	reg := links.NewRegistry(self, connector, r, links.Options{HandshakeTimeout: cfg.HandshakeTimeout})
	mc := media.NewController(mediasrc.NewSource("stage-"+string(self)), domain.CaptureKind(cfg.Capture))

	lc := call.New(domain.Participant{ID: self, DisplayName: cfg.DisplayName}, topology, call.Deps{
		Media:    mc,
		Links:    reg,
		Out:      r,
		Renderer: renderer,
	})
	r.Links = reg
	r.Control = lc

	lc.OnError(func(err error) {
		log.Error().Err(err).Str("module", "stage").Msg("relay refused, pick a role again with: host or audience")
	})
	lc.Roster().OnChange(func(ps []domain.Participant) {
		log.Debug().Str("module", "stage").Int("participants", len(ps)).Msg("roster changed")
	})

	go r.Run(ctx, t.Inbound())

	if err := selectRole(ctx, lc, cfg); err != nil {
		return err
	}

	cmds := make(chan string)
	go readCommands(os.Stdin, cmds)

	defer func() {
		if err := lc.Leave(); err != nil && !errors.Is(err, domain.ErrInvalidState) {
			log.Warn().Err(err).Str("module", "stage").Msg("leave")
		}
		if files != nil {
			files.Wait()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Done():
			log.Warn().Str("module", "stage").Msg("relay connection lost")
			return nil
		case line, ok := <-cmds:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if quit := execute(ctx, lc, line); quit {
				return nil
			}
		}
	}
}

func selectRole(ctx context.Context, lc *call.Lifecycle, cfg *config.Config) error {
	role, err := domain.ParseRole(cfg.Role)
	if err != nil {
		return err
	}
	switch role {
	case domain.RoleHost:
		return lc.SelectHost(ctx)
	default:
		if err := lc.SelectAudience(); err != nil {
			return err
		}
		if cfg.JoinCall {
			if err := lc.RequestJoinCall(ctx); err != nil {
				log.Warn().Err(err).Str("module", "stage").Msg("join call")
			}
		}
	}
	return nil
}
