package market

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
)

const (
	idLength     = 4
	idMaxRetries = 5
)

// idRegistry hands out short unique ids for listings and auctions.
type idRegistry struct {
	used sync.Map
}

func newIDRegistry() *idRegistry {
	return &idRegistry{}
}

// generate returns a fresh 4-character base32 id.
func (r *idRegistry) generate() (string, error) {
	for i := 0; i < idMaxRetries; i++ {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}

		id := strings.ToUpper(base32.StdEncoding.EncodeToString(buf)[:idLength])
		if _, exists := r.used.LoadOrStore(id, true); !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique id after %d attempts", idMaxRetries)
}

// claim registers an id restored from a snapshot.
func (r *idRegistry) claim(id string) {
	r.used.Store(id, true)
}

// release frees an id once its listing or auction is gone.
func (r *idRegistry) release(id string) {
	r.used.Delete(id)
}
