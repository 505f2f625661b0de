// Package history keeps a bounded cache of recently settled events so the
// command layer can answer "what happened to X" queries after the underlying
// record is gone.
package history

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	lru "github.com/hashicorp/golang-lru"
)

type Kind string

const (
	KindMarket  Kind = "market"
	KindAuction Kind = "auction"
	KindJackpot Kind = "jackpot"
	KindBattle  Kind = "battle"
)

type Entry struct {
	Kind     Kind
	ID       string
	Outcome  string
	WinnerID snowflake.ID
	Amount   int64
	At       time.Time
}

type Recorder struct {
	cache *lru.Cache
}

func NewRecorder(size int) (*Recorder, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Recorder{cache: cache}, nil
}

func (r *Recorder) Record(e Entry) {
	if r == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.cache.Add(string(e.Kind)+":"+e.ID, e)
}

func (r *Recorder) Lookup(kind Kind, id string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	v, ok := r.cache.Get(string(kind) + ":" + id)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}
