package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/jkaberg/torrentxiv/config"
	"github.com/jkaberg/torrentxiv/http"
	dlog "github.com/jkaberg/torrentxiv/log"
	"github.com/jkaberg/torrentxiv/metrics"
	"github.com/jkaberg/torrentxiv/session"
	"github.com/jkaberg/torrentxiv/torrent"
)

const (
	configFlag      = "config"
	pathFlag        = "path"
	seedFlag        = "seed"
	connectionsFlag = "connections"
	uploadsFlag     = "uploads"
	portFlag        = "http-port"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("problem running application")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "xiv",
		Usage:     "Download a torrent from a magnet link, an info-hash or a .torrent file.",
		ArgsUsage: "<source>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Value:   "./xiv-data/config/config.yaml",
				EnvVars: []string{"XIV_CONFIG"},
				Usage:   "YAML file containing xiv configuration.",
			},
			&cli.StringFlag{
				Name:    pathFlag,
				EnvVars: []string{"XIV_PATH"},
				Usage:   "Download folder. Overrides session.path.",
			},
			&cli.BoolFlag{
				Name:    seedFlag,
				EnvVars: []string{"XIV_SEED"},
				Usage:   "Ask the engine to keep seeding. Overrides session.seed.",
			},
			&cli.IntFlag{
				Name:    connectionsFlag,
				EnvVars: []string{"XIV_CONNECTIONS"},
				Usage:   "Maximum peer connections. Overrides session.connections.",
			},
			&cli.IntFlag{
				Name:    uploadsFlag,
				EnvVars: []string{"XIV_UPLOADS"},
				Usage:   "Maximum concurrent uploads. Overrides session.uploads.",
			},
			&cli.IntFlag{
				Name:    portFlag,
				EnvVars: []string{"XIV_HTTP_PORT"},
				Usage:   "HTTP port for the status API, 0 keeps it disabled. Overrides http.port.",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one torrent source", 2)
			}

			return download(c.Context, c.Args().First(), c)
		},
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "Print what a torrent source resolves to.",
				ArgsUsage: "<source>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected exactly one torrent source", 2)
					}

					return inspect(c)
				},
			},
		},
		HideHelpCommand: true,
	}
}

func inspect(c *cli.Context) error {
	d, err := torrent.Parse(c.Args().First())
	if err != nil {
		return err
	}

	b, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("error marshaling descriptor: %w", err)
	}

	_, err = c.App.Writer.Write(b)
	return err
}

// sessionOptions applies command line overrides on top of the configured
// session options.
func sessionOptions(c *cli.Context, conf *config.Root) session.Options {
	opts := *conf.Session
	if c.IsSet(pathFlag) {
		opts.Path = c.String(pathFlag)
	}
	if c.IsSet(seedFlag) {
		opts.Seed = session.Bool(c.Bool(seedFlag))
	}
	if c.IsSet(connectionsFlag) {
		opts.Connections = c.Int(connectionsFlag)
	}
	if c.IsSet(uploadsFlag) {
		opts.Uploads = c.Int(uploadsFlag)
	}
	return opts
}

func download(ctx context.Context, source string, c *cli.Context) error {
	ch := config.NewHandler(c.String(configFlag))

	conf, err := ch.Get()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	dlog.Load(conf.Log)

	fis, err := torrent.NewFileItemStore(filepath.Join(conf.Client.MetadataFolder, "items"), 2*time.Hour)
	if err != nil {
		return fmt.Errorf("error starting item store: %w", err)
	}
	defer func() {
		log.Info().Msg("closing items database...")
		if err := fis.Close(); err != nil {
			log.Warn().Err(err).Msg("problem closing items database")
		}
	}()

	cl, err := torrent.NewClient(conf.Client, fis)
	if err != nil {
		return err
	}
	dl, ul := cl.Download, cl.Upload
	defer func() {
		log.Info().Msg("closing torrent client...")
		cl.Close()
	}()

	// subscribers are attached before the first engine exists
	opts := sessionOptions(c, conf)
	autostart := opts.AutostartEnabled()
	opts.Autostart = session.Bool(false)

	ctrl, err := session.New(source, opts, session.Deps{
		Parser:  torrent.Parser,
		Engines: torrent.NewEngineFactory(cl, conf.Client.ExtraTrackers),
	})
	if err != nil {
		return err
	}

	complete := make(chan struct{})
	follow(ctrl, complete)

	if conf.HTTP.Metrics {
		metrics.Register(prometheus.DefaultRegisterer)
		defer metrics.Observe(ctrl)()
	}

	w, err := ch.Watch(func(r *config.Root) {
		torrent.SetLimits(dl, ul, r.Client.DownloadLimitMbit, r.Client.UploadLimitMbit)
		d, u := torrent.Limits(dl, ul)
		log.Info().Float64("download-mbit", d).Float64("upload-mbit", u).Msg("rate limits applied")
	})
	if err != nil {
		log.Warn().Err(err).Msg("configuration changes will not be applied until restart")
	} else {
		defer w.Close()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := conf.HTTP.Port
	if c.IsSet(portFlag) {
		port = c.Int(portFlag)
	}
	httpDone := make(chan struct{})
	if port > 0 {
		hc := *conf.HTTP
		hc.Port = port
		go func() {
			defer close(httpDone)
			err := http.New(ctx, ctrl, http.Options{
				LogPath: filepath.Join(conf.Log.Path, dlog.FileName),
				Metrics: conf.HTTP.Metrics,
				Limiter: &limiter{ch: ch, dl: dl, ul: ul},
			}, &hc)
			if err != nil {
				log.Error().Err(err).Msg("error running HTTP server")
			}
		}()
	} else {
		close(httpDone)
	}

	if autostart {
		if err := ctrl.Start(); err != nil {
			return err
		}
	}

	select {
	case <-complete:
		log.Info().Msg("download complete")
	case <-ctx.Done():
		log.Info().Msg("interrupted")
	}
	stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("closing session...")
	if err := ctrl.Close(closeCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("error closing session: %w", err)
	}
	<-httpDone

	log.Info().Msg("exiting")
	return nil
}

// follow logs the session events and closes complete once the torrent is
// fully verified.
func follow(ctrl *session.Controller, complete chan<- struct{}) {
	l := log.Logger.With().Str("component", "xiv").Str("hash", ctrl.Descriptor().InfoHash).Logger()

	ctrl.On(session.EventActive, func(e session.Event) {
		l.Info().Str("name", e.Metadata.Name).Str("path", e.Metadata.Directory).Int("files", len(e.Metadata.Files)).Msg("active")
	})
	ctrl.On(session.EventInactive, func(e session.Event) {
		l.Info().Float64("percentage", e.Status.Percentage).Msg("inactive")
	})
	ctrl.On(session.EventProgress, func(e session.Event) {
		l.Info().Float64("percentage", e.Status.Percentage).Msg("progress")
	})
	ctrl.On(session.EventStats, func(e session.Event) {
		l.Debug().
			Float64("percentage", e.Stats.Percentage).
			Float64("down-speed", e.Stats.DownloadSpeed).
			Float64("up-speed", e.Stats.UploadSpeed).
			Int64("downloaded", e.Stats.Downloaded).
			Int64("uploaded", e.Stats.Uploaded).
			Int("peers", e.Stats.PeersTotal).
			Int("unchoked", e.Stats.PeersUnchoked).
			Msg("stats")
	})
	ctrl.On(session.EventComplete, func(e session.Event) {
		l.Info().Float64("percentage", e.Status.Percentage).Msg("complete")
		close(complete)
	})
}

// limiter applies rate limits at runtime and persists them to the
// configuration file.
type limiter struct {
	ch     *config.Handler
	dl, ul *rate.Limiter
}

func (l *limiter) Limits() (float64, float64) {
	return torrent.Limits(l.dl, l.ul)
}

func (l *limiter) SetLimits(dlMbit, ulMbit float64) error {
	torrent.SetLimits(l.dl, l.ul, dlMbit, ulMbit)

	conf, err := l.ch.Get()
	if err != nil {
		return err
	}
	next := *conf
	client := *conf.Client
	client.DownloadLimitMbit = dlMbit
	client.UploadLimitMbit = ulMbit
	next.Client = &client
	return l.ch.Save(&next)
}
