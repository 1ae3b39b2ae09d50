package panicerr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafe(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name    string
		fn      func() error
		wantErr bool
		is      error
	}{
		{name: "ok", fn: func() error { return nil }},
		{name: "error", fn: func() error { return errBoom }, wantErr: true, is: errBoom},
		{name: "panic", fn: func() error { panic("kaboom") }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Safe(tt.fn)()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestSafeContext_Panic(t *testing.T) {
	err := SafeContext(func(ctx context.Context) error {
		var m map[string]int
		m["x"] = 1
		return nil
	})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assignment to entry in nil map")
}

func TestSafeValue(t *testing.T) {
	v, err := SafeValue(context.Background(), func(ctx context.Context) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, v)

	v, err = SafeValue(context.Background(), func(ctx context.Context) (bool, error) {
		panic("nope")
	})
	require.Error(t, err)
	assert.False(t, v)
}
