package torrent

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/jkaberg/torrentxiv/session"
)

// Parser resolves sources with anacrolix metainfo.
var Parser = session.ParserFunc(Parse)

// Parse resolves a magnet URI, a hex info-hash, .torrent bytes, a path to a
// .torrent file or an already decoded metainfo into a descriptor. The
// descriptor Source keeps the decoded form so engines can join the swarm
// without parsing again.
func Parse(source any) (*session.Descriptor, error) {
	switch v := source.(type) {
	case nil:
		return nil, fmt.Errorf("%w: empty source", session.ErrInvalidDescriptor)
	case *session.Descriptor:
		if v == nil || v.InfoHash == "" {
			return nil, fmt.Errorf("%w: descriptor without info-hash", session.ErrInvalidDescriptor)
		}
		return v, nil
	case string:
		return parseString(v)
	case []byte:
		mi, err := metainfo.Load(bytes.NewReader(v))
		if err != nil {
			return nil, fmt.Errorf("%w: error decoding torrent: %w", session.ErrInvalidDescriptor, err)
		}
		return fromMetaInfo(mi)
	case *metainfo.MetaInfo:
		if v == nil {
			return nil, fmt.Errorf("%w: nil metainfo", session.ErrInvalidDescriptor)
		}
		return fromMetaInfo(v)
	case metainfo.Magnet:
		return fromMagnet(&v)
	case *metainfo.Magnet:
		if v == nil {
			return nil, fmt.Errorf("%w: nil magnet", session.ErrInvalidDescriptor)
		}
		return fromMagnet(v)
	case metainfo.Hash:
		return fromHash(v)
	}

	return nil, fmt.Errorf("%w: unsupported source type %T", session.ErrInvalidDescriptor, source)
}

func parseString(s string) (*session.Descriptor, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, fmt.Errorf("%w: empty source", session.ErrInvalidDescriptor)
	case strings.HasPrefix(s, "magnet:"):
		m, err := metainfo.ParseMagnetUri(s)
		if err != nil {
			return nil, fmt.Errorf("%w: error parsing magnet: %w", session.ErrInvalidDescriptor, err)
		}
		return fromMagnet(&m)
	case len(s) == 40:
		var h metainfo.Hash
		if err := h.FromHexString(s); err == nil {
			return fromHash(h)
		}
	}

	if fi, err := os.Stat(s); err == nil && !fi.IsDir() {
		mi, err := metainfo.LoadFromFile(s)
		if err != nil {
			return nil, fmt.Errorf("%w: error loading torrent file %q: %w", session.ErrInvalidDescriptor, s, err)
		}
		return fromMetaInfo(mi)
	}

	return nil, fmt.Errorf("%w: %q is not a magnet, info-hash or torrent file", session.ErrInvalidDescriptor, s)
}

func fromHash(h metainfo.Hash) (*session.Descriptor, error) {
	if h == (metainfo.Hash{}) {
		return nil, fmt.Errorf("%w: zero info-hash", session.ErrInvalidDescriptor)
	}
	return &session.Descriptor{
		Source:   h,
		InfoHash: h.HexString(),
	}, nil
}

func fromMagnet(m *metainfo.Magnet) (*session.Descriptor, error) {
	d, err := fromHash(m.InfoHash)
	if err != nil {
		return nil, err
	}
	d.Source = m.String()
	d.Name = m.DisplayName
	return d, nil
}

func fromMetaInfo(mi *metainfo.MetaInfo) (*session.Descriptor, error) {
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("%w: error decoding info: %w", session.ErrInvalidDescriptor, err)
	}
	if info.PieceLength == 0 && info.TotalLength() > 0 {
		return nil, fmt.Errorf("%w: missing piece length", session.ErrInvalidDescriptor)
	}

	d := &session.Descriptor{
		Source:   mi,
		InfoHash: mi.HashInfoBytes().HexString(),
		Name:     info.Name,
	}
	for _, f := range info.UpvertedFiles() {
		p := f.DisplayPath(&info)
		d.Files = append(d.Files, session.File{
			Name:   filepath.Base(p),
			Path:   p,
			Length: f.Length,
		})
	}

	return d, nil
}
