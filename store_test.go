package examlab

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExercises() []Exercise {
	return []Exercise{
		{ID: 1, Group: GroupNode1, Title: "Network"},
		{ID: 2, Group: GroupNode1, Title: "Repositories"},
		{ID: 13, Group: GroupNode2, Title: "Swap"},
	}
}

func TestNewStoreIdle(t *testing.T) {
	s := NewStore(testExercises())

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	for id, st := range snap {
		assert.Equal(t, StatusIdle, st.Status, "exercise %d", id)
		assert.Nil(t, st.LastCheck, "exercise %d", id)
	}
}

func TestStoreSetStatus(t *testing.T) {
	s := NewStore(testExercises())

	require.NoError(t, s.SetStatus(1, StatusStarting))
	require.NoError(t, s.SetStatus(1, StatusRunning))

	status, ok := s.Status(1)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, status)

	other, _ := s.Status(2)
	assert.Equal(t, StatusIdle, other)
}

func TestStoreUnknownExercise(t *testing.T) {
	s := NewStore(testExercises())

	err := s.SetStatus(99, StatusRunning)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExerciseNotFound))

	_, ok := s.Get(99)
	assert.False(t, ok)
}

func TestStoreLastCheckIsCopied(t *testing.T) {
	s := NewStore(testExercises())
	res := Aggregate([]CheckDetail{{Name: "a", Passed: true}}, time.Now())

	require.NoError(t, s.SetLastCheck(1, res))
	res.Details[0].Passed = false

	st, ok := s.Get(1)
	require.True(t, ok)
	require.NotNil(t, st.LastCheck)
	assert.True(t, st.LastCheck.Details[0].Passed)

	st.LastCheck.Details[0].Name = "mutated"
	again, _ := s.Get(1)
	assert.Equal(t, "a", again.LastCheck.Details[0].Name)
}

func TestStoreCheckLeavesStatus(t *testing.T) {
	s := NewStore(testExercises())
	require.NoError(t, s.SetStatus(13, StatusRunning))
	require.NoError(t, s.SetLastCheck(13, ErrorResult("x", nil, time.Now())))

	st, _ := s.Get(13)
	assert.Equal(t, StatusRunning, st.Status)
	assert.Equal(t, CheckError, st.LastCheck.Status)
}

func TestStoreOnChange(t *testing.T) {
	s := NewStore(testExercises())

	var got []Change
	s.OnChange(func(c Change) { got = append(got, c) })

	require.NoError(t, s.SetStatus(2, StatusStarting))
	require.NoError(t, s.SetLastCheck(2, Aggregate(nil, time.Now())))

	require.Len(t, got, 2)
	assert.Equal(t, ChangeStatus, got[0].Kind)
	assert.Equal(t, StatusStarting, got[0].State.Status)
	assert.Equal(t, ChangeLastCheck, got[1].Kind)
	assert.NotNil(t, got[1].State.LastCheck)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(testExercises())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			status := StatusRunning
			if i%2 == 0 {
				status = StatusStopped
			}
			_ = s.SetStatus(1, status)
			_ = s.SetLastCheck(1, Aggregate([]CheckDetail{{Name: "n", Passed: i%3 == 0}}, time.Now()))
		}(i)
		go func() {
			defer wg.Done()
			st, _ := s.Get(1)
			if st.LastCheck != nil {
				assert.Len(t, st.LastCheck.Details, 1)
			}
		}()
	}
	wg.Wait()

	status, _ := s.Status(1)
	assert.Contains(t, []Status{StatusRunning, StatusStopped}, status)
}
