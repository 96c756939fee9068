//go:build consul

package store

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ilp-connector/pkg/consul"
)

// NewConsulStore creates a Consul-backed store (requires build tag consul).
func NewConsulStore(addr string, log *zap.Logger) (Store, error) {
	log.Info("using consul store", zap.String("addr", addr))
	s, err := consul.NewStore(addr)
	if err != nil {
		return nil, err
	}
	return consulStore{s}, nil
}

// consulStore maps the consul package's not-found error onto ErrNotFound.
type consulStore struct {
	*consul.Store
}

func (s consulStore) DeletePeer(id string) error {
	return notFound(s.Store.DeletePeer(id))
}

func (s consulStore) DeleteRoute(prefix string) error {
	return notFound(s.Store.DeleteRoute(prefix))
}

func notFound(err error) error {
	if errors.Is(err, consul.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
