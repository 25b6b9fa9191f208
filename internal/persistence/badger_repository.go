package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"sevensplit-bot-go/internal/models"
)

const strategyPrefix = "strategy/"

// badgerStore is the BadgerDB implementation of Store. Values are JSON;
// strategies live under "strategy/<id>", trade and event histories as
// whole-list values under "trades/<id>" and "events/<id>".
type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB database at dbPath.
func NewBadgerStore(dbPath string) (Store, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noise next to the app logs; errors still
	// surface from the DB operations themselves.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerStore{db: db}, nil
}

func strategyKey(id int64) []byte { return []byte(fmt.Sprintf("%s%d", strategyPrefix, id)) }
func tradesKey(id int64) []byte   { return []byte(fmt.Sprintf("trades/%d", id)) }
func eventsKey(id int64) []byte   { return []byte(fmt.Sprintf("events/%d", id)) }

func (s *badgerStore) SaveStrategy(state *models.StrategyState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(strategyKey(state.ID), data)
	})
}

func (s *badgerStore) LoadStrategy(id int64) (*models.StrategyState, error) {
	var state models.StrategyState
	err := s.getJSON(strategyKey(id), &state)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *badgerStore) LoadAllStrategies() ([]*models.StrategyState, error) {
	var states []*models.StrategyState
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(strategyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var state models.StrategyState
				if err := json.Unmarshal(val, &state); err != nil {
					return err
				}
				states = append(states, &state)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (s *badgerStore) DeleteStrategy(id int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{strategyKey(id), tradesKey(id), eventsKey(id)} {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStore) AppendTrade(strategyID int64, trade *models.Trade) error {
	trades, err := s.LoadTrades(strategyID)
	if err != nil {
		return err
	}
	trades = append(trades, trade)
	return s.putJSON(tradesKey(strategyID), trades)
}

func (s *badgerStore) LoadTrades(strategyID int64) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := s.getJSON(tradesKey(strategyID), &trades)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return trades, nil
}

func (s *badgerStore) DeleteTrades(strategyID int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(tradesKey(strategyID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *badgerStore) AppendEvent(strategyID int64, event *models.Event) error {
	var events []*models.Event
	err := s.getJSON(eventsKey(strategyID), &events)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	events = append(events, event)
	if len(events) > maxEventsPerStrategy {
		events = events[len(events)-maxEventsPerStrategy:]
	}
	return s.putJSON(eventsKey(strategyID), events)
}

func (s *badgerStore) LoadEvents(strategyID int64, limit int) ([]*models.Event, error) {
	var events []*models.Event
	err := s.getJSON(eventsKey(strategyID), &events)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// Newest first.
	out := make([]*models.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		out = append(out, events[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

func (s *badgerStore) getJSON(key []byte, dst interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("empty value in database")
			}
			return json.Unmarshal(val, dst)
		})
	})
}

func (s *badgerStore) putJSON(key []byte, src interface{}) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}
