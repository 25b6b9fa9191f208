package persistence

import (
	"encoding/json"
	"sync"

	"sevensplit-bot-go/internal/models"
)

// memoryStore is an in-memory Store used by backtests and tests. State is
// deep-copied through JSON on the way in and out so callers never share
// pointers with the store.
type memoryStore struct {
	mu         sync.Mutex
	strategies map[int64][]byte
	trades     map[int64][]*models.Trade
	events     map[int64][]*models.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		strategies: make(map[int64][]byte),
		trades:     make(map[int64][]*models.Trade),
		events:     make(map[int64][]*models.Event),
	}
}

func (s *memoryStore) SaveStrategy(state *models.StrategyState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[state.ID] = data
	return nil
}

func (s *memoryStore) LoadStrategy(id int64) (*models.StrategyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.strategies[id]
	if !ok {
		return nil, nil
	}
	var state models.StrategyState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *memoryStore) LoadAllStrategies() ([]*models.StrategyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var states []*models.StrategyState
	for _, data := range s.strategies {
		var state models.StrategyState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, err
		}
		states = append(states, &state)
	}
	return states, nil
}

func (s *memoryStore) DeleteStrategy(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strategies, id)
	delete(s.trades, id)
	delete(s.events, id)
	return nil
}

func (s *memoryStore) AppendTrade(strategyID int64, trade *models.Trade) error {
	cp := *trade
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[strategyID] = append(s.trades[strategyID], &cp)
	return nil
}

func (s *memoryStore) LoadTrades(strategyID int64) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Trade, 0, len(s.trades[strategyID]))
	for _, t := range s.trades[strategyID] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) DeleteTrades(strategyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trades, strategyID)
	return nil
}

func (s *memoryStore) AppendEvent(strategyID int64, event *models.Event) error {
	cp := *event
	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.events[strategyID], &cp)
	if len(events) > maxEventsPerStrategy {
		events = events[len(events)-maxEventsPerStrategy:]
	}
	s.events[strategyID] = events
	return nil
}

func (s *memoryStore) LoadEvents(strategyID int64, limit int) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events[strategyID]
	out := make([]*models.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		cp := *events[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }
