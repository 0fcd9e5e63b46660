package position

import (
	"context"
	"sync"
	"testing"
	"time"

	"derivbot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockStore implements ports.StateStore in memory.
type mockStore struct {
	mu        sync.Mutex
	loaded    map[string]*domain.Position
	saveCount int
}

func (s *mockStore) Load(ctx context.Context, symbols []string, baseStake float64) (map[string]*domain.Position, error) {
	out := make(map[string]*domain.Position, len(symbols))
	for _, sym := range symbols {
		if s.loaded != nil && s.loaded[sym] != nil {
			out[sym] = s.loaded[sym]
			continue
		}
		out[sym] = domain.NewPosition(sym, baseStake)
	}
	return out, nil
}

func (s *mockStore) Save(ctx context.Context, positions map[string]*domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCount++
	return nil
}

func (s *mockStore) saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCount
}

// mockTradeRepo records settled trades in memory.
type mockTradeRepo struct {
	mu      sync.Mutex
	records []domain.TradeRecord
}

func (r *mockTradeRepo) RecordTrade(ctx context.Context, symbol string, rec domain.TradeRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return int64(len(r.records)), nil
}

func (r *mockTradeRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (r *mockTradeRepo) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	return 0, nil
}

func (r *mockTradeRepo) TotalProfit(ctx context.Context) (float64, error) { return 0, nil }

func defaultConfig() Config {
	return Config{
		BaseStake:            0.35,
		MartingaleMultiplier: 3,
		StakeMode:            domain.StakeModeReset,
		Cooldown:             60 * time.Second,
	}
}

func newTestManager(t *testing.T, cfg Config, store *mockStore) *Manager {
	t.Helper()
	if store == nil {
		store = &mockStore{}
	}
	m, err := New(context.Background(), cfg, []string{"R_100"}, store, &mockTradeRepo{}, &mockLogger{})
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	store := &mockStore{}
	logger := &mockLogger{}
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero base stake", cfg: Config{MartingaleMultiplier: 3, StakeMode: domain.StakeModeReset}},
		{name: "multiplier below one", cfg: Config{BaseStake: 0.35, MartingaleMultiplier: 0.5, StakeMode: domain.StakeModeReset}},
		{name: "unknown stake mode", cfg: Config{BaseStake: 0.35, MartingaleMultiplier: 3, StakeMode: "compound"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctx, tt.cfg, []string{"R_100"}, store, nil, logger)
			assert.Error(t, err)
		})
	}

	t.Run("nil store", func(t *testing.T) {
		_, err := New(ctx, defaultConfig(), []string{"R_100"}, nil, nil, logger)
		assert.Error(t, err)
	})
}

func TestNew_DegradesStaleStates(t *testing.T) {
	pending := domain.NewPosition("R_100", 0.35)
	pending.State = domain.StatePending
	pending.ContractID = 42
	pending.Direction = domain.Call

	store := &mockStore{loaded: map[string]*domain.Position{"R_100": pending}}
	m := newTestManager(t, defaultConfig(), store)

	pos := m.Position("R_100")
	require.NotNil(t, pos)
	assert.Equal(t, domain.StateIdle, pos.State, "unconfirmed pending trade is discarded")
	assert.Zero(t, pos.ContractID)

	settling := domain.NewPosition("R_100", 1.05)
	settling.State = domain.StateSettling
	settling.ContractID = 43
	store = &mockStore{loaded: map[string]*domain.Position{"R_100": settling}}
	m = newTestManager(t, defaultConfig(), store)

	pos = m.Position("R_100")
	assert.Equal(t, domain.StateOpen, pos.State, "interrupted settlement is re-polled")
	assert.Equal(t, int64(43), pos.ContractID)
	assert.Equal(t, 1.05, pos.Stake, "escalated stake survives the restart")
}

func TestOnSignal_AcceptsWhenIdle(t *testing.T) {
	m := newTestManager(t, defaultConfig(), nil)

	stake, accepted := m.OnSignal("R_100", domain.Call, 60)
	require.True(t, accepted)
	assert.InDelta(t, 0.35, stake, 1e-9)

	pos := m.Position("R_100")
	assert.Equal(t, domain.StatePending, pos.State)
	assert.Equal(t, domain.Call, pos.Direction)
	assert.Equal(t, 60, pos.Granularity)
}

func TestOnSignal_RejectsWhenNotIdle(t *testing.T) {
	m := newTestManager(t, defaultConfig(), nil)

	_, accepted := m.OnSignal("R_100", domain.Call, 60)
	require.True(t, accepted)

	_, accepted = m.OnSignal("R_100", domain.Put, 60)
	assert.False(t, accepted, "pending position must not accept a second signal")

	m.OnTradeOpened("R_100", 42)
	_, accepted = m.OnSignal("R_100", domain.Put, 60)
	assert.False(t, accepted, "open position must not accept a signal")
}

func TestOnSignal_RejectsUnknownSymbol(t *testing.T) {
	m := newTestManager(t, defaultConfig(), nil)

	_, accepted := m.OnSignal("R_50", domain.Call, 60)
	assert.False(t, accepted)
}

func TestOnSignal_Cooldown(t *testing.T) {
	m := newTestManager(t, defaultConfig(), nil)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	_, accepted := m.OnSignal("R_100", domain.Call, 60)
	require.True(t, accepted)
	m.OnTradeOpened("R_100", 42)
	m.OnSettlement("R_100", 0.3)

	// Cooldown runs from trade open, not settlement.
	now = base.Add(30 * time.Second)
	_, accepted = m.OnSignal("R_100", domain.Call, 60)
	assert.False(t, accepted, "cooldown must reject signals")

	now = base.Add(61 * time.Second)
	_, accepted = m.OnSignal("R_100", domain.Call, 60)
	assert.True(t, accepted, "cooldown expired")
}

func TestOnTradeRejected_RollsBackWithoutStakeChange(t *testing.T) {
	m := newTestManager(t, defaultConfig(), nil)

	stake, accepted := m.OnSignal("R_100", domain.Call, 60)
	require.True(t, accepted)
	m.OnTradeRejected("R_100")

	pos := m.Position("R_100")
	assert.Equal(t, domain.StateIdle, pos.State)
	assert.Equal(t, domain.DirectionNone, pos.Direction)
	assert.Equal(t, stake, pos.Stake, "rejection never touches the stake")
	assert.Zero(t, pos.MartingaleStep)
	assert.True(t, pos.LastTradeTime.IsZero(), "no trade happened, no cooldown")
	assert.Empty(t, pos.History)
}

func TestOnSettlement_MartingaleEscalation(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cooldown = 0
	m := newTestManager(t, cfg, nil)

	lose := func(wantStake float64) {
		t.Helper()
		stake, accepted := m.OnSignal("R_100", domain.Put, 120)
		require.True(t, accepted)
		assert.InDelta(t, wantStake, stake, 1e-9)
		m.OnTradeOpened("R_100", 1)
		m.OnSettlement("R_100", -stake)
	}

	lose(0.35)
	lose(1.05)
	lose(3.15)

	pos := m.Position("R_100")
	assert.InDelta(t, 9.45, pos.Stake, 1e-9)
	assert.Equal(t, 3, pos.MartingaleStep)

	// A win resets to the base stake.
	stake, accepted := m.OnSignal("R_100", domain.Put, 120)
	require.True(t, accepted)
	assert.InDelta(t, 9.45, stake, 1e-9)
	m.OnTradeOpened("R_100", 2)
	m.OnSettlement("R_100", 8.0)

	pos = m.Position("R_100")
	assert.InDelta(t, 0.35, pos.Stake, 1e-9)
	assert.Zero(t, pos.MartingaleStep)
	assert.Equal(t, domain.StateIdle, pos.State)
}

func TestOnSettlement_AccumulateMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cooldown = 0
	cfg.StakeMode = domain.StakeModeAccumulate
	m := newTestManager(t, cfg, nil)

	_, accepted := m.OnSignal("R_100", domain.Call, 60)
	require.True(t, accepted)
	m.OnTradeOpened("R_100", 1)
	m.OnSettlement("R_100", 0.3)

	pos := m.Position("R_100")
	assert.InDelta(t, 0.65, pos.Stake, 1e-9, "profit is added to the next stake")
	assert.Zero(t, pos.MartingaleStep)
}

func TestOnSettlement_ZeroProfitIsLoss(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cooldown = 0
	m := newTestManager(t, cfg, nil)

	_, accepted := m.OnSignal("R_100", domain.Call, 60)
	require.True(t, accepted)
	m.OnTradeOpened("R_100", 1)
	m.OnSettlement("R_100", 0)

	pos := m.Position("R_100")
	assert.InDelta(t, 1.05, pos.Stake, 1e-9)
	assert.Equal(t, 1, pos.MartingaleStep)
	require.Len(t, pos.History, 1)
	assert.Equal(t, domain.OutcomeLoss, pos.History[0].Outcome)
}

func TestOnSettlement_RecordsHistoryAndAudit(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cooldown = 0
	store := &mockStore{}
	repo := &mockTradeRepo{}
	m, err := New(context.Background(), cfg, []string{"R_100"}, store, repo, &mockLogger{})
	require.NoError(t, err)

	_, accepted := m.OnSignal("R_100", domain.Put, 120)
	require.True(t, accepted)
	m.OnTradeOpened("R_100", 77)
	m.OnSettlement("R_100", 0.31)

	pos := m.Position("R_100")
	require.Len(t, pos.History, 1)
	rec := pos.History[0]
	assert.Equal(t, domain.Put, rec.Direction)
	assert.InDelta(t, 0.35, rec.Stake, 1e-9)
	assert.Equal(t, 120, rec.Granularity)
	assert.Equal(t, domain.OutcomeWin, rec.Outcome)
	assert.Equal(t, int64(77), rec.ContractID)

	require.Len(t, repo.records, 1)
	assert.Equal(t, rec, repo.records[0])

	// Open and settle each persist a snapshot.
	assert.GreaterOrEqual(t, store.saves(), 2)
}

func TestOpenContracts(t *testing.T) {
	m := newTestManager(t, defaultConfig(), nil)

	assert.Empty(t, m.OpenContracts())

	_, accepted := m.OnSignal("R_100", domain.Call, 60)
	require.True(t, accepted)
	assert.Empty(t, m.OpenContracts(), "pending trades have no contract yet")

	m.OnTradeOpened("R_100", 42)
	assert.Equal(t, map[string]int64{"R_100": 42}, m.OpenContracts())

	m.OnSettlement("R_100", 0.3)
	assert.Empty(t, m.OpenContracts())
}

func TestPosition_ReturnsCopy(t *testing.T) {
	m := newTestManager(t, defaultConfig(), nil)

	pos := m.Position("R_100")
	require.NotNil(t, pos)
	pos.Stake = 99

	again := m.Position("R_100")
	assert.InDelta(t, 0.35, again.Stake, 1e-9)

	assert.Nil(t, m.Position("R_50"))
}
