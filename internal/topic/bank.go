package topic

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
)

var ErrEmptyBank = errors.New("topic bank is empty")

//go:embed bank.json
var bankJSON []byte

// DefaultTopics returns a fresh copy of the built-in topic table.
func DefaultTopics() []Topic {
	var topics []Topic
	if err := json.Unmarshal(bankJSON, &topics); err != nil {
		panic("topic: bank.json: " + err.Error())
	}
	return topics
}

// Bank picks uniformly from a fixed list. It never blocks and never fails
// once constructed.
type Bank struct {
	mu     sync.Mutex
	rand   *rand.Rand
	topics []Topic
}

// NewBank uses the built-in table. A nil r uses the global source.
func NewBank(r *rand.Rand) *Bank {
	b, _ := NewBankFrom(DefaultTopics(), r)
	return b
}

func NewBankFrom(topics []Topic, r *rand.Rand) (*Bank, error) {
	kept := make([]Topic, 0, len(topics))
	for _, t := range topics {
		if t.validate() == nil {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyBank
	}
	return &Bank{rand: r, topics: kept}, nil
}

func (b *Bank) RequestTopic(ctx context.Context) (Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rand == nil {
		return b.topics[rand.IntN(len(b.topics))], nil
	}
	return b.topics[b.rand.IntN(len(b.topics))], nil
}

func (b *Bank) Topics() []Topic {
	return append([]Topic(nil), b.topics...)
}
