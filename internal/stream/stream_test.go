package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func countTo(n int) Produce[int] {
	return func(ctx context.Context, emit func(int) error) error {
		for i := 0; i < n; i++ {
			if err := emit(i); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestPump(t *testing.T) {
	t.Run("delivers values in order", func(t *testing.T) {
		var got []int
		err := Pump(context.Background(), 2, countTo(100), func(v int) error {
			got = append(got, v)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, got, 100)
		for i, v := range got {
			assert.Equal(t, i, v)
		}
	})

	t.Run("empty producer", func(t *testing.T) {
		called := false
		err := Pump(context.Background(), 1, countTo(0), func(int) error {
			called = true
			return nil
		})
		assert.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("consumer failure stops a blocked producer", func(t *testing.T) {
		errSend := errors.New("send failed")
		received := 0
		err := Pump(context.Background(), 1, countTo(1_000_000), func(int) error {
			received++
			if received == 3 {
				return errSend
			}
			return nil
		})
		assert.ErrorIs(t, err, errSend)
		assert.Equal(t, 3, received)
	})

	t.Run("producer failure is returned after draining", func(t *testing.T) {
		errRows := errors.New("rows failed")
		var got []int
		err := Pump(context.Background(), 8, func(ctx context.Context, emit func(int) error) error {
			for i := 0; i < 3; i++ {
				if err := emit(i); err != nil {
					return err
				}
			}
			return errRows
		}, func(v int) error {
			got = append(got, v)
			return nil
		})
		assert.ErrorIs(t, err, errRows)
		assert.Equal(t, []int{0, 1, 2}, got)
	})

	t.Run("cancelled context stops both sides", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		err := Pump(ctx, 1, func(ctx context.Context, emit func(int) error) error {
			for i := 0; ; i++ {
				if err := emit(i); err != nil {
					return err
				}
			}
		}, func(v int) error {
			if v == 5 {
				cancel()
			}
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
