package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourceTypes(t *testing.T) {
	all, err := ParseSourceTypes("all")
	require.NoError(t, err)
	assert.Equal(t, AllSourceTypes(), all)

	all, err = ParseSourceTypes("")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	one, err := ParseSourceTypes("sop")
	require.NoError(t, err)
	assert.Equal(t, []SourceType{SourceProcedure}, one)

	_, err = ParseSourceTypes("notes")
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "daily_log")
}

func TestSourceTypeTraits(t *testing.T) {
	tests := []struct {
		t             SourceType
		chunked       bool
		wholeDocument bool
		label         string
	}{
		{SourceDailyLog, true, false, "daily logs"},
		{SourceMemoryMD, true, true, "MEMORY.md"},
		{SourceLesson, false, false, "lessons"},
		{SourceEvent, false, false, "events"},
		{SourceProcedure, false, true, "SOPs"},
	}

	for _, tt := range tests {
		t.Run(string(tt.t), func(t *testing.T) {
			assert.True(t, tt.t.IsValid())
			assert.Equal(t, tt.chunked, tt.t.Chunked())
			assert.Equal(t, tt.wholeDocument, tt.t.WholeDocument())
			assert.Equal(t, tt.label, tt.t.Label())
		})
	}

	assert.False(t, SourceType("notes").IsValid())
}

func TestSimilarityResult_DisplayID(t *testing.T) {
	assert.Equal(t, "a.md:chunk1", SimilarityResult{SourceID: "a.md", ChunkID: "a.md:chunk1"}.DisplayID())
	assert.Equal(t, "a.md", SimilarityResult{SourceID: "a.md"}.DisplayID())
}

func TestErrorTaxonomy(t *testing.T) {
	cfg := &ConfigurationError{Op: "credentials", Err: ErrNoCredentials}
	assert.True(t, IsConfiguration(cfg))
	assert.False(t, IsTransport(cfg))
	assert.ErrorIs(t, cfg, ErrNoCredentials)

	wrapped := errors.Join(errors.New("other"), &DataError{SourceType: SourceProcedure, SourceID: "sop:1", Err: errors.New("bad steps")})
	assert.True(t, IsData(wrapped))
	assert.Contains(t, wrapped.Error(), "data error: sop/sop:1: bad steps")

	assert.Nil(t, storeError("x", nil))
	assert.True(t, IsTransport(storeError("x", errors.New("io"))))
	assert.Same(t, cfg, storeError("x", cfg))
}

func TestCheckStoreIdentity(t *testing.T) {
	assert.NoError(t, CheckStoreIdentity("text-embedding-3-small", 1536, "text-embedding-3-small", 1536))
	assert.NoError(t, CheckStoreIdentity("", 1536, "text-embedding-3-small", 1536))

	err := CheckStoreIdentity("text-embedding-3-small", 1536, "text-embedding-3-large", 1536)
	assert.ErrorIs(t, err, ErrModelMismatch)
	assert.True(t, IsConfiguration(err))

	err = CheckStoreIdentity("text-embedding-3-small", 1536, "text-embedding-3-small", 3072)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.ErrorIs(t, ValidateVector(make([]float32, 3), 4), ErrDimensionMismatch)
	assert.NoError(t, ValidateVector(make([]float32, 4), 4))
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "lesson/lesson:1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func TestKeyedMutex_DistinctKeysAndCancel(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, "a")
	require.NoError(t, err)

	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(cctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA()
	unlockA()

	unlockA2, err := k.Lock(ctx, "a")
	require.NoError(t, err)
	unlockA2()
}
