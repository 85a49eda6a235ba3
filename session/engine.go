package session

// Engine is one live swarm session for a torrent. A controller owns at most
// one Engine at a time and never shares it.
type Engine interface {
	InfoHash() string
	Name() string
	// Path is the directory the engine stores data in.
	Path() string
	// NumPieces is only meaningful after the engine notified readiness.
	NumPieces() int
	Files() []EngineFile
	Swarm() Swarm
	// Destroy closes all peer connections and releases resources. done is
	// called once, possibly from another goroutine, when teardown finished.
	Destroy(done func())
}

// EngineFile is a file of the torrent as seen by the engine.
type EngineFile interface {
	Name() string
	Path() string
	Length() int64
	// Select marks the file for transfer.
	Select()
}

// Swarm exposes the transfer counters of an engine.
type Swarm interface {
	// DownloadSpeed and UploadSpeed are in bytes per second.
	DownloadSpeed() float64
	UploadSpeed() float64
	Downloaded() int64
	Uploaded() int64
	Wires() []Wire
}

// Wire is a peer connection.
type Wire interface {
	// PeerChoking reports whether the remote peer is choking us.
	PeerChoking() bool
}

// Notifier receives the low level notifications of one engine. It is safe
// to call from any goroutine.
type Notifier interface {
	// Ready fires once, when metadata is known and files can be selected.
	Ready()
	// Download fires for every piece received.
	Download()
	// Verify fires for every piece that passed its hash check.
	Verify()
}

// EngineFactory builds engines. Notifications may start before NewEngine
// returns, but never from the goroutine calling it.
type EngineFactory interface {
	NewEngine(d *Descriptor, opts Options, n Notifier) (Engine, error)
}
