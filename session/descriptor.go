package session

// Descriptor is the resolved identity of a torrent. It is produced once by a
// Parser and never changes for the life of a controller.
type Descriptor struct {
	// Source is the value the descriptor was parsed from (magnet URI,
	// .torrent bytes, info-hash, ...). Engines use it to join the swarm.
	Source   any    `yaml:"-" json:"-"`
	InfoHash string `yaml:"infoHash" json:"infoHash"`
	Name     string `yaml:"name" json:"name"`
	Files    []File `yaml:"files,omitempty" json:"files,omitempty"`
}

// File is a file declared by the torrent metadata.
type File struct {
	Name   string `yaml:"name" json:"name"`
	Path   string `yaml:"path" json:"path"`
	Length int64  `yaml:"length" json:"length"`
}

// Parser resolves a user supplied source into a Descriptor. It must fail when
// no info-hash can be resolved.
type Parser interface {
	Parse(source any) (*Descriptor, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(source any) (*Descriptor, error)

func (f ParserFunc) Parse(source any) (*Descriptor, error) { return f(source) }

func (d *Descriptor) clone() *Descriptor {
	if d == nil {
		return nil
	}
	out := *d
	out.Files = append([]File(nil), d.Files...)
	return &out
}
