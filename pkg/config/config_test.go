package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilp-connector/pkg/model"
	"ilp-connector/pkg/store"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE", "")
	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, c.Store)
	assert.Equal(t, "test", c.Env)
	assert.Equal(t, time.Second, c.MinExpirationWindow)
	assert.Equal(t, 30*time.Second, c.MaxHoldWindow)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("ILP_ADDRESS", "test.from-env")
	t.Setenv("MAX_HOLD_WINDOW", "10s")
	t.Setenv("REDIS_ADDR", "redis:6379")
	c, err := Load([]string{"--ilp-address", "test.from-flag", "--store", "sqlite"})
	require.NoError(t, err)
	assert.Equal(t, "test.from-flag", c.ILPAddress)
	assert.Equal(t, 10*time.Second, c.MaxHoldWindow)
	assert.Equal(t, "redis:6379", c.RedisAddr)
	assert.Equal(t, StoreSQLite, c.Store)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load([]string{"--store", "etcd"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Load([]string{"--env", "staging"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Load([]string{"--tls-cert", "c.pem"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Load([]string{"--max-hold-window", "0s"})
	assert.ErrorIs(t, err, ErrInvalid)
}

const seedYAML = `
peers:
  - info:
      id: alice
      assetCode: USD
      assetScale: 9
      relation: child
      rules:
        - name: errorHandler
        - name: balance
          minimum: "-1000"
          maximum: 1000
    endpoint:
      type: http
      httpOpts:
        peerUrl: http://alice:7768/ilp
  - info: {id: bob, assetCode: USD, assetScale: 9, relation: peer}
    endpoint: {type: http, httpOpts: {peerUrl: "http://bob:7768/ilp"}}
routes:
  - {prefix: test.bob, peerId: bob}
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeed(t *testing.T) {
	s, err := LoadSeed(writeSeed(t, seedYAML))
	require.NoError(t, err)
	require.Len(t, s.Peers, 2)
	alice := s.Peers[0]
	assert.Equal(t, model.RelationChild, alice.Info.Relation)
	require.Len(t, alice.Info.Rules, 2)
	assert.Equal(t, model.RuleBalance, alice.Info.Rules[1].Name)

	var opts struct {
		Minimum model.Int `json:"minimum"`
		Maximum model.Int `json:"maximum"`
	}
	require.NoError(t, alice.Info.Rules[1].Decode(&opts))
	assert.Equal(t, "-1000", opts.Minimum.String())
	assert.Equal(t, "1000", opts.Maximum.String())
	assert.Equal(t, "http://alice:7768/ilp", alice.Endpoint.HTTP.PeerURL)
}

func TestLoadSeedRejectsDanglingRoute(t *testing.T) {
	_, err := LoadSeed(writeSeed(t, "routes:\n  - {prefix: test.x, peerId: ghost}\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSeedAppliesOnlyToEmptyStore(t *testing.T) {
	s, err := LoadSeed(writeSeed(t, seedYAML))
	require.NoError(t, err)
	st := store.NewMemoryStore()

	wrote, err := s.Apply(st)
	require.NoError(t, err)
	assert.True(t, wrote)
	routes, err := st.ListRoutes()
	require.NoError(t, err)
	assert.Equal(t, []model.Route{{Prefix: "test.bob", PeerID: "bob"}}, routes)

	wrote, err = s.Apply(st)
	require.NoError(t, err)
	assert.False(t, wrote)
}
