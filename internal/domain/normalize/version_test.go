package normalize_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/openkraft/anvil/internal/domain/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"pylint 3.0.2\nastroid 3.0.1", "3.0.2", true},
		{"Cppcheck 2.13", "2.13.0", true},
		{"golangci-lint has version 1.55.2 built with go1.21.3", "1.55.2", true},
		{"go version go1.22.3 linux/amd64", "1.22.3", true},
		{"no digits here", "", false},
	}
	for _, tt := range tests {
		v, ok := normalize.ParseVersion(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if ok {
			assert.Equal(t, tt.want, v.String())
		}
	}
}

func TestSelectFormat(t *testing.T) {
	formats := []normalize.Format{
		{Below: normalize.MustVersion("2.0"), Args: []string{"--out-format=json"}},
		{Min: normalize.MustVersion("2.0"), Args: []string{"--output.json.path=stdout"}},
	}
	f, ok := normalize.SelectFormat(formats, normalize.MustVersion("1.55.2"))
	require.True(t, ok)
	assert.Equal(t, []string{"--out-format=json"}, f.Args)

	f, ok = normalize.SelectFormat(formats, normalize.MustVersion("2.1.0"))
	require.True(t, ok)
	assert.Equal(t, []string{"--output.json.path=stdout"}, f.Args)

	_, ok = normalize.SelectFormat(formats[1:], normalize.MustVersion("1.0"))
	assert.False(t, ok)
}

func TestVersionCache_ProbesOnce(t *testing.T) {
	cache := normalize.NewVersionCache()
	var calls atomic.Int32
	probe := func(context.Context) (string, error) {
		calls.Add(1)
		return "1.2.3", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cache.Get(context.Background(), "tool", probe)
			assert.NoError(t, err)
			assert.Equal(t, "1.2.3", v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestVersionCache_CachesFailures(t *testing.T) {
	cache := normalize.NewVersionCache()
	calls := 0
	probe := func(context.Context) (string, error) {
		calls++
		return "", errors.New("not installed")
	}
	_, err1 := cache.Get(context.Background(), "tool", probe)
	_, err2 := cache.Get(context.Background(), "tool", probe)
	assert.Error(t, err1)
	assert.Error(t, err2)
	assert.Equal(t, 1, calls)

	cache.Reset()
	_, _ = cache.Get(context.Background(), "tool", probe)
	assert.Equal(t, 2, calls)
}
