package redis

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

func TestKeysAreNamespaced(t *testing.T) {
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "")
	defer c.Close()

	assert.Equal(t, "predictstake:lock:opguard:x", c.Key("lock", "opguard:x"))

	sc := NewSnapshotCache(c)
	event := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assert.Equal(t,
		"predictstake:snapshot:"+event.Hex()+":"+user.Hex(),
		sc.key(event, user))

	other := Wrap(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "staging")
	defer other.Close()
	assert.Equal(t, "staging:ch:refresh", other.Key("ch", "refresh"))

	trailing := Wrap(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "staging:")
	defer trailing.Close()
	assert.Equal(t, "staging:lock:k", trailing.Key("lock", "k"))
}

func TestRateLimitWindowsRoll(t *testing.T) {
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "")
	defer c.Close()
	rl := NewRateLimiter(c)

	base := time.Unix(1_700_000_000, 0)
	a := rl.windowKey("ip", time.Minute, base)
	b := rl.windowKey("ip", time.Minute, base.Add(30*time.Second))
	d := rl.windowKey("ip", time.Minute, base.Add(2*time.Minute))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, d)
}

func TestSignalBusRejectsPatterns(t *testing.T) {
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "")
	defer c.Close()
	sb := NewSignalBus(c, nil)

	_, err := sb.Subscribe(context.Background(), "refresh*")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.ErrorIs(t, sb.Publish(context.Background(), "", nil), domain.ErrInvalidInput)
	assert.NoError(t, checkChannel(domain.ChannelOperation))
	assert.Zero(t, sb.Dropped())
}

func TestRenewInterval(t *testing.T) {
	assert.Equal(t, 20*time.Second, renewInterval(time.Minute))
	assert.Equal(t, 100*time.Millisecond, renewInterval(90*time.Millisecond))
}
