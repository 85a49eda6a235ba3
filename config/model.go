package config

import "github.com/jkaberg/torrentxiv/session"

const (
	metadataFolder = "./xiv-data/metadata"
	logsFolder     = "./xiv-data/logs"
	downloadFolder = "./xiv-data/downloads"
)

// Root is the main yaml config object
type Root struct {
	Log     *Log             `yaml:"log"`
	Client  *Client          `yaml:"client"`
	Session *session.Options `yaml:"session"`
	HTTP    *HTTP            `yaml:"http"`
}

type Log struct {
	Debug      bool   `yaml:"debug"`
	MaxBackups int    `yaml:"max_backups"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	Path       string `yaml:"path"`
}

// Client configures the torrent client shared by all sessions of the process.
type Client struct {
	MetadataFolder    string  `yaml:"metadata_folder,omitempty"`
	DisableIPv6       bool    `yaml:"disable_ipv6,omitempty"`
	DisableTCP        bool    `yaml:"disable_tcp,omitempty"`
	DisableUTP        bool    `yaml:"disable_utp,omitempty"`
	IP                string  `yaml:"ip,omitempty"`
	ListenPort        int     `yaml:"listen_port,omitempty"`
	DownloadLimitMbit float64 `yaml:"download_limit_mbit,omitempty"`
	UploadLimitMbit   float64 `yaml:"upload_limit_mbit,omitempty"`
	// ExtraTrackers are announced to by every torrent.
	ExtraTrackers []string `yaml:"extra_trackers,omitempty"`
}

type HTTP struct {
	// Port 0 disables the HTTP interface.
	Port    int    `yaml:"port"`
	IP      string `yaml:"ip"`
	Metrics bool   `yaml:"metrics"`
}

func AddDefaults(r *Root) *Root {
	if r.Client == nil {
		r.Client = &Client{}
	}

	if r.Client.MetadataFolder == "" {
		r.Client.MetadataFolder = metadataFolder
	}

	if r.Session == nil {
		r.Session = &session.Options{}
	}

	if r.Session.Path == "" {
		r.Session.Path = downloadFolder
	}

	if r.HTTP == nil {
		r.HTTP = &HTTP{}
	}

	if r.HTTP.IP == "" {
		r.HTTP.IP = "0.0.0.0"
	}

	if r.Log == nil {
		r.Log = &Log{}
	}

	if r.Log.Path == "" {
		r.Log.Path = logsFolder
	}

	if r.Log.MaxBackups == 0 {
		r.Log.MaxBackups = 2
	}

	if r.Log.MaxSize == 0 {
		r.Log.MaxSize = 50
	}

	if r.Log.MaxAge == 0 {
		r.Log.MaxAge = 30
	}

	return r
}
