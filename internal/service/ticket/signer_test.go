package ticket

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uma-arai/sbcntr-ticket/internal/payload"
)

func TestSigner(t *testing.T) {
	_, err := NewSigner(nil)
	assert.Error(t, err)

	secret := []byte("0123456789abcdef")
	signer, err := NewSigner(secret)
	require.NoError(t, err)

	sig := signer.Sign("R-1001")
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), sig)
	assert.Equal(t, sig, signer.Sign("R-1001"))
	assert.NotEqual(t, sig, signer.Sign("R-1002"))
	assert.True(t, signer.Verify("R-1001", sig))
	assert.False(t, signer.Verify("R-1002", sig))
	assert.False(t, signer.Verify("R-1001", sig[:63]))
	assert.False(t, signer.Verify("R-1001", ""))

	// 呼び出し側で鍵を書き換えても署名は変わらない
	secret[0] = 'x'
	assert.Equal(t, sig, signer.Sign("R-1001"))

	other, err := NewSigner([]byte("another-secret-value"))
	require.NoError(t, err)
	assert.False(t, other.Verify("R-1001", sig))
}

func TestRandomIDs(t *testing.T) {
	ids := RandomIDs()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := ids()
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^R-[0-9A-F]{12}$`), id)
		assert.True(t, payload.ValidID(id))
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestSequentialIDs(t *testing.T) {
	ids := SequentialIDs(1001)
	first, err := ids()
	require.NoError(t, err)
	second, err := ids()
	require.NoError(t, err)
	assert.Equal(t, "R-1001", first)
	assert.Equal(t, "R-1002", second)
}

func TestMonotonicClock(t *testing.T) {
	base := time.Date(2024, 10, 1, 19, 0, 0, 123456789, time.UTC)
	current := base
	c := newMonotonicClock(func() time.Time { return current })

	first := c.Next()
	assert.Equal(t, base.Truncate(time.Microsecond), first)

	second := c.Next()
	assert.Equal(t, first.Add(time.Microsecond), second)

	// 時計が巻き戻っても前回より後の時刻になる
	current = base.Add(-time.Hour)
	assert.True(t, c.Next().After(second))

	current = base.Add(time.Hour)
	assert.Equal(t, current.Truncate(time.Microsecond), c.Next())
}

func TestMonotonicClock_Concurrent(t *testing.T) {
	c := newMonotonicClock(func() time.Time { return time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC) })

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := c.Next()
			mu.Lock()
			defer mu.Unlock()
			seen[ts] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}
