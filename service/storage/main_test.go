package storage

import (
	"os"
	"testing"

	redisx "chatsync/service/storage/redis"

	"github.com/alicebob/miniredis/v2"
)

// mr backs the whole package; tests use distinct keys and FastForward
// for TTL expiry so they stay independent of each other.
var mr *miniredis.Miniredis

func TestMain(m *testing.M) {
	var err error
	mr, err = miniredis.Run()
	if err != nil {
		panic(err)
	}
	if err := redisx.Init(redisx.Config{Addr: mr.Addr()}); err != nil {
		panic(err)
	}
	code := m.Run()
	redisx.Close()
	mr.Close()
	os.Exit(code)
}
