// Package storage persists per-run metric series to a pebble database so a
// finished simulation can be charted after the process exits.
package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cockroachdb/pebble"
)

// Point is one archived observation.
type Point struct {
	TsMs  int64
	Value float64
}

// Archive is an append-only store of (series, timestamp) -> value.
type Archive struct {
	db *pebble.DB
}

func Open(path string) (*Archive, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open metrics archive: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error { return a.db.Close() }

// keys: m:<series>:<8-byte big-endian ts> so a prefix scan walks a series
// in time order.
func pointKey(series string, tsMs int64) []byte {
	key := make([]byte, 0, len(series)+11)
	key = append(key, 'm', ':')
	key = append(key, series...)
	key = append(key, ':')
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(tsMs))
	return append(key, ts[:]...)
}

func seriesPrefix(series string) []byte {
	key := make([]byte, 0, len(series)+3)
	key = append(key, 'm', ':')
	key = append(key, series...)
	return append(key, ':')
}

// RecordPoint appends one observation. Writes are async; the archive is a
// chart source, not a ledger.
func (a *Archive) RecordPoint(series string, tsMs int64, value float64) error {
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], math.Float64bits(value))
	if err := a.db.Set(pointKey(series, tsMs), val[:], pebble.NoSync); err != nil {
		return fmt.Errorf("record %s: %w", series, err)
	}
	return nil
}

// Series returns all points of a series with timestamp >= fromMs.
func (a *Archive) Series(series string, fromMs int64) ([]Point, error) {
	prefix := seriesPrefix(series)
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: pointKey(series, fromMs),
		UpperBound: append(prefix, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate %s: %w", series, err)
	}
	defer iter.Close()

	var out []Point
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < len(prefix)+8 {
			continue
		}
		ts := int64(binary.BigEndian.Uint64(key[len(key)-8:]))
		val := math.Float64frombits(binary.BigEndian.Uint64(iter.Value()))
		out = append(out, Point{TsMs: ts, Value: val})
	}
	return out, iter.Error()
}
