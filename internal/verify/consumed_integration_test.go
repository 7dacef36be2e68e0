//go:build integration

package verify_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"debtgate/internal/verify"
	"debtgate/pkg/testutil/containers"
)

type RedisConsumedSuite struct {
	suite.Suite
	rc    *containers.RedisContainer
	store *verify.RedisConsumedStore
	ctx   context.Context
}

func TestRedisConsumedSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisConsumedSuite))
}

func (s *RedisConsumedSuite) SetupSuite() {
	s.ctx = context.Background()
	s.rc = containers.GetManager().GetRedis(s.T())
	s.store = verify.NewRedisConsumedStore(s.rc.Client)
}

func (s *RedisConsumedSuite) SetupTest() {
	s.Require().NoError(s.rc.FlushAll(s.ctx))
}

func (s *RedisConsumedSuite) TestConsume_FirstClaimWins() {
	grantID := uuid.NewString()

	ok, err := s.store.Consume(s.ctx, grantID, time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.Consume(s.ctx, grantID, time.Minute)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisConsumedSuite) TestConsume_IndependentIDs() {
	ok, err := s.store.Consume(s.ctx, uuid.NewString(), time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.Consume(s.ctx, uuid.NewString(), time.Minute)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RedisConsumedSuite) TestConsume_ConcurrentSingleWinner() {
	grantID := uuid.NewString()

	const goroutines = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.store.Consume(s.ctx, grantID, time.Minute)
			if err != nil {
				s.T().Errorf("consume: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one claimant should win")
}

func (s *RedisConsumedSuite) TestConsume_MarkerExpires() {
	grantID := uuid.NewString()

	ok, err := s.store.Consume(s.ctx, grantID, 50*time.Millisecond)
	s.Require().NoError(err)
	s.True(ok)

	time.Sleep(100 * time.Millisecond)

	// Once the marker lapses the id is claimable again. In production the
	// marker always outlives the grant itself, so this never reopens a
	// replay window.
	ok, err = s.store.Consume(s.ctx, grantID, time.Minute)
	s.Require().NoError(err)
	s.True(ok)
}
