package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_LoadRecentBoundedAndAscending(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, "u1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i), baseTime.Add(time.Duration(i)*time.Second)))
	}

	for limit := 0; limit <= 7; limit++ {
		got, err := s.LoadRecent(ctx, "u1", limit)
		require.NoError(t, err)
		require.LessOrEqual(t, len(got), limit)
		for i := 1; i < len(got); i++ {
			require.Less(t, got[i-1].Sequence, got[i].Sequence)
			require.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
		}
		again, err := s.LoadRecent(ctx, "u1", limit)
		require.NoError(t, err)
		require.Equal(t, got, again)
	}

	got, err := s.LoadRecent(ctx, "u1", 3)
	require.NoError(t, err)
	require.Equal(t, []string{"q2", "q3", "q4"}, []string{got[0].Question, got[1].Question, got[2].Question})
}

func TestInMemoryStore_EmptyHistory(t *testing.T) {
	got, err := NewInMemoryStore().LoadRecent(context.Background(), "nobody", 3)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestInMemoryStore_ClampsBackwardsTimestamp(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "u1", "q1", "a1", baseTime.Add(time.Minute)))
	require.NoError(t, s.Append(ctx, "u1", "q2", "a2", baseTime))

	all := s.All("u1")
	require.Len(t, all, 2)
	require.Equal(t, all[0].Timestamp, all[1].Timestamp)
	require.Equal(t, int64(2), all[1].Sequence)
}

func TestInMemoryStore_ReturnedSliceIsACopy(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "u1", "q", "a", baseTime))
	got, err := s.LoadRecent(ctx, "u1", 1)
	require.NoError(t, err)
	got[0].Answer = "mutated"
	require.Equal(t, "a", s.All("u1")[0].Answer)
}

func TestInMemoryStore_ConcurrentUsersDoNotInterfere(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = s.Append(ctx, user, "q", "a", time.Now())
			}
		}(fmt.Sprintf("user-%d", u))
	}
	wg.Wait()
	for u := 0; u < 8; u++ {
		all := s.All(fmt.Sprintf("user-%d", u))
		require.Len(t, all, 20)
		require.Equal(t, int64(20), all[19].Sequence)
	}
}

func TestNewStore_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, StoreOptions{Backend: "memory"})
	require.NoError(t, err)
	require.IsType(t, &InMemoryStore{}, s)

	s, err = NewStore(ctx, StoreOptions{Backend: "DynamoDB", DynamoDB: &fakeDynamo{}, TableName: "t"})
	require.NoError(t, err)
	require.IsType(t, &Client{}, s)

	_, err = NewStore(ctx, StoreOptions{Backend: "dynamodb"})
	require.Error(t, err)

	_, err = NewStore(ctx, StoreOptions{Backend: "postgres"})
	require.Error(t, err)

	_, err = NewStore(ctx, StoreOptions{Backend: "firestore"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown backend")
}
