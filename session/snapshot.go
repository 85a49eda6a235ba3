package session

import (
	"math"
	"path/filepath"
)

// Metadata is captured once per engine, when it becomes ready, and is read
// only afterwards.
type Metadata struct {
	InfoHash  string         `json:"infoHash"`
	Name      string         `json:"name"`
	Directory string         `json:"directory"`
	Files     []MetadataFile `json:"files"`
}

type MetadataFile struct {
	Name        string `json:"name"`
	TorrentPath string `json:"torrentPath"`
	Path        string `json:"path"`
	Length      int64  `json:"length"`
}

type Status struct {
	InfoHash   string  `json:"infoHash"`
	Phase      Phase   `json:"phase"`
	Active     bool    `json:"active"`
	Complete   bool    `json:"complete"`
	Percentage float64 `json:"percentage"`
}

// TrafficStats is only available while a session is active.
type TrafficStats struct {
	Percentage    float64 `json:"percentage"`
	DownloadSpeed float64 `json:"downSpeed"`
	UploadSpeed   float64 `json:"upSpeed"`
	Downloaded    int64   `json:"downloaded"`
	Uploaded      int64   `json:"uploaded"`
	PeersTotal    int     `json:"peersTotal"`
	PeersUnchoked int     `json:"peersUnchoked"`
}

// Snapshot is handed to pause callbacks.
type Snapshot struct {
	Metadata *Metadata `json:"metadata,omitempty"`
	Status   Status    `json:"status"`
}

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Files = append([]MetadataFile(nil), m.Files...)
	return &out
}

func captureMetadata(d *Descriptor, e Engine) *Metadata {
	m := &Metadata{
		InfoHash:  e.InfoHash(),
		Name:      e.Name(),
		Directory: e.Path(),
	}
	if m.InfoHash == "" {
		m.InfoHash = d.InfoHash
	}
	if m.Name == "" {
		m.Name = d.Name
	}

	for _, f := range e.Files() {
		m.Files = append(m.Files, MetadataFile{
			Name:        f.Name(),
			TorrentPath: f.Path(),
			Path:        filepath.Join(e.Path(), f.Path()),
			Length:      f.Length(),
		})
	}

	return m
}

// percentage is truncated to two decimals. Torrents without pieces report 0.
func percentage(verified, total int) float64 {
	if total <= 0 {
		return 0
	}
	if verified >= total {
		return 100
	}
	return math.Floor(float64(verified)/float64(total)*10000) / 100
}

func traffic(pct float64, sw Swarm) *TrafficStats {
	ts := &TrafficStats{
		Percentage:    pct,
		DownloadSpeed: sw.DownloadSpeed(),
		UploadSpeed:   sw.UploadSpeed(),
		Downloaded:    sw.Downloaded(),
		Uploaded:      sw.Uploaded(),
	}
	for _, w := range sw.Wires() {
		ts.PeersTotal++
		if !w.PeerChoking() {
			ts.PeersUnchoked++
		}
	}
	return ts
}
