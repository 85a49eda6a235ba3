package torrent

import (
	"crypto/rand"
	"fmt"
	"os"
)

const peerIDPrefix = "-XV0100-"

// GetOrCreatePeerID reads the peer ID stored at p, creating a random one the
// first time.
func GetOrCreatePeerID(p string) ([20]byte, error) {
	var id [20]byte

	b, err := os.ReadFile(p)
	if err == nil && len(b) == len(id) {
		copy(id[:], b)
		return id, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return id, fmt.Errorf("error reading peer ID: %w", err)
	}

	copy(id[:], peerIDPrefix)
	if _, err := rand.Read(id[len(peerIDPrefix):]); err != nil {
		return id, fmt.Errorf("error generating peer ID: %w", err)
	}

	if err := os.WriteFile(p, id[:], 0644); err != nil {
		return id, fmt.Errorf("error writing peer ID: %w", err)
	}

	return id, nil
}
