package torrent

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/dht/v2/bep44"
	tlog "github.com/anacrolix/log"
	"github.com/anacrolix/torrent"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jkaberg/torrentxiv/config"
	dlog "github.com/jkaberg/torrentxiv/log"
)

// Client is the process wide anacrolix client. Sessions add and drop their
// torrents on it; Download and Upload throttle all of them.
type Client struct {
	*torrent.Client
	Download *rate.Limiter
	Upload   *rate.Limiter

	chokes *chokes
}

func NewClient(cfg *config.Client, fis bep44.Store) (*Client, error) {
	if err := os.MkdirAll(cfg.MetadataFolder, 0744); err != nil {
		return nil, fmt.Errorf("error creating metadata folder: %w", err)
	}

	id, err := GetOrCreatePeerID(filepath.Join(cfg.MetadataFolder, "ID"))
	if err != nil {
		return nil, fmt.Errorf("error creating node ID: %w", err)
	}

	torrentCfg := torrent.NewDefaultClientConfig()
	torrentCfg.Seed = true
	torrentCfg.PeerID = string(id[:])
	torrentCfg.DataDir = filepath.Join(cfg.MetadataFolder, "data")
	if cfg.ListenPort > 0 {
		torrentCfg.ListenPort = cfg.ListenPort
	}
	torrentCfg.DisableIPv6 = cfg.DisableIPv6
	torrentCfg.DisableTCP = cfg.DisableTCP
	torrentCfg.DisableUTP = cfg.DisableUTP

	if cfg.IP != "" {
		ip := net.ParseIP(cfg.IP)
		if ip == nil {
			return nil, fmt.Errorf("invalid provided IP: %q", cfg.IP)
		}

		torrentCfg.PublicIp4 = ip
	}

	l := log.Logger.With().Str("component", "torrent-client").Logger()

	tl := tlog.NewLogger()
	tl.SetHandlers(&dlog.Torrent{L: l})
	torrentCfg.Logger = tl

	if fis != nil {
		torrentCfg.ConfigureAnacrolixDhtServer = func(cfg *dht.ServerConfig) {
			cfg.Store = fis
			cfg.Exp = 2 * time.Hour
			cfg.NoSecurity = false
		}
	}

	dl := rate.NewLimiter(rate.Inf, 0)
	ul := rate.NewLimiter(rate.Inf, 0)
	SetLimits(dl, ul, cfg.DownloadLimitMbit, cfg.UploadLimitMbit)
	torrentCfg.DownloadRateLimiter = dl
	torrentCfg.UploadRateLimiter = ul

	c, err := newClient(torrentCfg)
	if err != nil {
		return nil, err
	}

	l.Info().Int("port", c.LocalPort()).Msg("torrent client listening")
	return c, nil
}

func newClient(cfg *torrent.ClientConfig) (*Client, error) {
	ch := newChokes()
	ch.install(&cfg.Callbacks)

	c, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("error starting torrent client: %w", err)
	}

	return &Client{
		Client:   c,
		Download: cfg.DownloadRateLimiter,
		Upload:   cfg.UploadRateLimiter,
		chokes:   ch,
	}, nil
}
