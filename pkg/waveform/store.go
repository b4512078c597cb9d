package waveform

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	prefixRun    = "run:"
	prefixSample = ":s:"
	keyMeta      = ":meta"
)

// Store persists samples in LevelDB, one JSON record per sample under
// run:<id>:s:<seq>. Several runs can share one database.
type Store struct {
	db    *leveldb.DB
	runID uuid.UUID
	seq   int64
	batch *leveldb.Batch
	// BatchSize samples are buffered before a write; 0 writes every sample.
	BatchSize int
}

var _ Sink = (*Store)(nil)

type runMeta struct {
	RunID string            `json:"run_id"`
	Nodes map[string]int    `json:"nodes,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

func Open(dir string, runID uuid.UUID) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("opening waveform store %s: %w", dir, err)
	}
	return &Store{db: db, runID: runID, batch: new(leveldb.Batch), BatchSize: 64}, nil
}

func (s *Store) RunID() uuid.UUID { return s.runID }

func (s *Store) runPrefix() string {
	return prefixRun + s.runID.String()
}

func (s *Store) sampleKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s%012d", s.runPrefix(), prefixSample, seq))
}

// SetMeta records the node names of the run and free-form attributes.
func (s *Store) SetMeta(nodes map[string]int, attrs map[string]string) error {
	data, err := json.Marshal(runMeta{RunID: s.runID.String(), Nodes: nodes, Attrs: attrs})
	if err != nil {
		return err
	}
	return s.db.Put([]byte(s.runPrefix()+keyMeta), data, nil)
}

func (s *Store) Meta() (nodes map[string]int, attrs map[string]string, err error) {
	data, err := s.db.Get([]byte(s.runPrefix()+keyMeta), nil)
	if err != nil {
		return nil, nil, err
	}
	var m runMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, err
	}
	return m.Nodes, m.Attrs, nil
}

func (s *Store) Append(sample Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encoding sample at t=%g: %w", sample.Time, err)
	}
	s.batch.Put(s.sampleKey(s.seq), data)
	s.seq++
	if s.batch.Len() > s.BatchSize {
		return s.Flush()
	}
	return nil
}

func (s *Store) Flush() error {
	if s.batch.Len() == 0 {
		return nil
	}
	if err := s.db.Write(s.batch, nil); err != nil {
		return fmt.Errorf("writing waveform batch: %w", err)
	}
	s.batch.Reset()
	return nil
}

// Samples reads back every flushed sample of the run in order.
func (s *Store) Samples() ([]Sample, error) {
	prefix := []byte(s.runPrefix() + prefixSample)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []Sample
	for iter.Next() {
		var sample Sample
		if err := json.Unmarshal(iter.Value(), &sample); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", iter.Key(), err)
		}
		out = append(out, sample)
	}
	return out, iter.Error()
}

// Load replays the stored run into a Recorder.
func (s *Store) Load() (*Recorder, error) {
	samples, err := s.Samples()
	if err != nil {
		return nil, err
	}
	rec := NewRecorder()
	for _, sample := range samples {
		if err := rec.Append(sample); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s *Store) Close() error {
	ferr := s.Flush()
	if err := s.db.Close(); err != nil {
		return err
	}
	return ferr
}
