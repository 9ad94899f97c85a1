package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
	"github.com/ajitpratap0/nebula-cdk/pkg/testutil"
)

// StoreSuite checks the durable backends under concurrent writers.
type StoreSuite struct {
	testutil.IntegrationTestSuite
}

func TestStoreSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) TestFileStoreConcurrentWriters() {
	a, err := NewFileStore(s.Path("file"), s.Logger())
	s.Require().NoError(err)
	b, err := NewFileStore(s.Path("file"), s.Logger())
	s.Require().NoError(err)

	s.concurrentWriters(a, b)
}

func (s *StoreSuite) TestSQLiteStoreConcurrentWriters() {
	a, err := NewSQLiteStore(s.Context(), s.Path("state.db"), DefaultTable, s.Logger())
	s.Require().NoError(err)
	defer a.Close()
	b, err := NewSQLiteStore(s.Context(), s.Path("state.db"), DefaultTable, s.Logger())
	s.Require().NoError(err)
	defer b.Close()

	s.concurrentWriters(a, b)
}

func (s *StoreSuite) TestPostgresStoreConcurrentWriters() {
	dsn := testutil.RequireEnv(s.T(), "NEBULA_CDK_POSTGRES_DSN")
	a, err := NewPostgresStore(s.Context(), dsn, "nebula_cdk_suite_state", s.Logger())
	s.Require().NoError(err)
	defer a.Close()
	s.Require().NoError(a.Delete(s.Context(), "orders"))

	s.concurrentWriters(a, a)
}

// concurrentWriters saves from two handles at once; the final state must be
// one complete write, never a torn one.
func (s *StoreSuite) concurrentWriters(a, b Store) {
	ctx := s.Context()
	const writes = 20

	var wg sync.WaitGroup
	for i, store := range []Store{a, b} {
		wg.Add(1)
		go func(writer int, store Store) {
			defer wg.Done()
			for n := 0; n < writes; n++ {
				st := incremental.StreamState{"updated_at": fmt.Sprintf("2021-01-%02d", n+1), "writer": float64(writer)}
				s.NoError(store.Save(ctx, "orders", st))
			}
		}(i, store)
	}
	wg.Wait()

	st, err := a.Load(ctx, "orders")
	s.Require().NoError(err)
	s.Equal(fmt.Sprintf("2021-01-%02d", writes), st["updated_at"])
	s.Contains([]any{0.0, 1.0}, st["writer"])
}
