package oracle

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fixedlend/native/lending"
)

// Snapshot is the on-disk price list operators hand to the daemon.
//
//	name: treasury-2024-06-01
//	maxAge: 1h
//	prices:
//	  USDC: "1"
//	  WBTC: "37000"
type Snapshot struct {
	Name      string            `yaml:"name"`
	MaxAge    time.Duration     `yaml:"maxAge"`
	UpdatedAt time.Time         `yaml:"updatedAt"`
	Prices    map[string]string `yaml:"prices"`
}

// LoadSnapshot reads a YAML snapshot from path and returns a populated feed.
func LoadSnapshot(path string) (*StaticFeed, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return snap.Feed()
}

// ReadSnapshot reads and decodes the snapshot at path.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read oracle snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// DecodeSnapshot parses the YAML form of a snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode oracle snapshot: %w", err)
	}
	return snap, nil
}

// Encode renders the snapshot in the YAML form DecodeSnapshot reads.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode oracle snapshot: %w", err)
	}
	return data, nil
}

// Feed builds a StaticFeed from the snapshot. Prices are decimal USD strings
// converted exactly to 18-decimal fixed point.
func (s Snapshot) Feed() (*StaticFeed, error) {
	feed := NewStaticFeed(s.Name)
	feed.SetMaxAge(s.MaxAge)
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	for symbol, raw := range s.Prices {
		price, err := lending.ParseWad(raw)
		if err != nil {
			return nil, fmt.Errorf("oracle snapshot price %s: %w", symbol, err)
		}
		if err := feed.SetAt(symbol, price, updated); err != nil {
			return nil, err
		}
	}
	return feed, nil
}
