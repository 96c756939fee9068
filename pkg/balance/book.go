package balance

import (
	"math/big"
	"sync"

	"ilp-connector/pkg/model"
)

var ErrPeerNotFound = model.ErrPeerNotFound

// Book owns every peer's balance. Rules look balances up by peer ID so a
// balance dropped from the book is no longer reachable through a stale rule.
type Book struct {
	mu       sync.RWMutex
	balances map[string]*Balance
}

func NewBook() *Book {
	return &Book{balances: make(map[string]*Balance)}
}

// Add installs or replaces the balance for peerID.
func (k *Book) Add(peerID string, b *Balance) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.balances[peerID] = b
}

func (k *Book) Get(peerID string) (*Balance, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	b, ok := k.balances[peerID]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return b, nil
}

func (k *Book) Remove(peerID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.balances, peerID)
}

// UpdateScaled applies amount, expressed at scale, to peerID's balance.
// It reports applied=false without error when the ledger is coarser than scale.
func (k *Book) UpdateScaled(peerID string, amount *big.Int, scale int) (applied bool, err error) {
	b, err := k.Get(peerID)
	if err != nil {
		return false, err
	}
	diff, ok := Rescale(amount, scale, b.Scale())
	if !ok {
		return false, nil
	}
	if err := b.Update(diff); err != nil {
		return false, err
	}
	return true, nil
}

func (k *Book) Summaries() map[string]model.BalanceSummary {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]model.BalanceSummary, len(k.balances))
	for id, b := range k.balances {
		out[id] = b.Summary()
	}
	return out
}
