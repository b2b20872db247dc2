package dbpool

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fence-api/internal/config"
)

func TestSizePoolsDefaults(t *testing.T) {
	cfg := config.DBConfig{
		MaxTotalConnections: 50,
		SafetyMargin:        10,
		WriteMaxSize:        10,
		ReadMaxSize:         8,
		Replicas:            []config.Replica{{Host: "r1"}, {Host: "r2"}},
	}
	w, r := SizePools(cfg)
	assert.Equal(t, 10, w)
	assert.Equal(t, 8, r)
}

func TestSizePoolsTightBudget(t *testing.T) {
	cfg := config.DBConfig{
		MaxTotalConnections: 12,
		SafetyMargin:        10,
		WriteMaxSize:        10,
		ReadMaxSize:         8,
		Replicas:            []config.Replica{{Host: "r1"}},
	}
	w, r := SizePools(cfg)
	// 预算只剩 2，两侧都钳到下限
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, r)
}

func TestSizePoolsSplitsAcrossReplicas(t *testing.T) {
	cfg := config.DBConfig{
		MaxTotalConnections: 50,
		SafetyMargin:        10,
		WriteMaxSize:        6,
		ReadMaxSize:         20,
		Replicas:            []config.Replica{{Host: "r1"}, {Host: "r2"}, {Host: "r3"}},
	}
	w, r := SizePools(cfg)
	assert.Equal(t, 6, w)
	// (40-6)/3 = 11
	assert.Equal(t, 11, r)
}

func TestAcquireNotInitialized(t *testing.T) {
	var p *Pools
	_, err := p.Acquire(true)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = (&Pools{}).Acquire(false)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

// sql.Open 不会真正建连，可用于纯分发逻辑的测试
func openHandle(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", "postgres://u@localhost/none")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAcquireRoundRobin(t *testing.T) {
	w := openHandle(t)
	r1 := openHandle(t)
	r2 := openHandle(t)
	p := &Pools{write: w, replicas: []*sql.DB{r1, r2}}

	db, err := p.Acquire(false)
	require.NoError(t, err)
	assert.Same(t, w, db)

	first, err := p.Acquire(true)
	require.NoError(t, err)
	second, err := p.Acquire(true)
	require.NoError(t, err)
	third, err := p.Acquire(true)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Same(t, first, third)
}

func TestAcquireReadFallsBackToWrite(t *testing.T) {
	w := openHandle(t)
	p := &Pools{write: w}
	db, err := p.Acquire(true)
	require.NoError(t, err)
	assert.Same(t, w, db)
}

func TestWriteHandsOutSchemaHandle(t *testing.T) {
	w := openHandle(t)
	p := &Pools{write: w}

	// 迁移等主库路径的取用形态：先取句柄再传递
	db, err := p.Write()
	require.NoError(t, err)
	require.Same(t, w, db)

	takesDB := func(db *sql.DB) *sql.DB { return db }
	assert.Same(t, w, takesDB(db))

	var empty *Pools
	_, err = empty.Write()
	assert.ErrorIs(t, err, ErrNotInitialized)
}
