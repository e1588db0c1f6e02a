package database

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cmwaters/verdict/voting"
	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var (
	instancePrefix = []byte("instance/")
	guardPrefix    = []byte("guard/")
)

var _ voting.Store = (*BadgerStore)(nil)

// BadgerStore keeps JSON encoded records in badger. Instance keys embed the
// big endian id so iteration yields them in order.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

// NewBadgerStore opens the store in dataDir, or in memory when dataDir is
// empty.
func NewBadgerStore(dataDir string, logger zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	if dataDir != "" {
		if err := ensureDir(dataDir); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(dataDir)
	}
	opts = opts.
		WithLogger(badgerLogger{logger: logger}).
		// INFO is too chatty
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

func instanceKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), instancePrefix...), id)
}

func guardKey(key voting.GuardKey) []byte {
	return fmt.Appendf(append([]byte(nil), guardPrefix...), "%020d/%s/%s", key.Instance, key.Voter.Hex(), key.Choice)
}

func parseGuardKey(raw []byte) (voting.GuardKey, error) {
	parts := strings.SplitN(string(raw[len(guardPrefix):]), "/", 3)
	if len(parts) != 3 {
		return voting.GuardKey{}, fmt.Errorf("malformed guard key %q", raw)
	}
	var id uint64
	if _, err := fmt.Sscanf(parts[0], "%d", &id); err != nil {
		return voting.GuardKey{}, fmt.Errorf("malformed guard key %q: %w", raw, err)
	}
	return voting.GuardKey{
		Instance: id,
		Voter:    common.HexToAddress(parts[1]),
		Choice:   parts[2],
	}, nil
}

func (s *BadgerStore) Save(_ context.Context, rec *voting.Record, guard *voting.GuardKey) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(instanceKey(rec.ID), data); err != nil {
			return err
		}
		if guard == nil {
			return nil
		}
		return txn.Set(guardKey(*guard), nil)
	})
}

func (s *BadgerStore) Load(context.Context) ([]*voting.Record, []voting.GuardKey, error) {
	var (
		records []*voting.Record
		guards  []voting.GuardKey
	)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: instancePrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rec := new(voting.Record)
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}

		gt := txn.NewIterator(badger.IteratorOptions{Prefix: guardPrefix})
		defer gt.Close()
		for gt.Rewind(); gt.Valid(); gt.Next() {
			key, err := parseGuardKey(gt.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
			guards = append(guards, key)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return records, guards, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}
