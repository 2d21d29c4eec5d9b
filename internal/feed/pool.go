package feed

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

// Pool hands out one long-lived client per account so each account keeps its
// own credentials and circuit breaker.
type Pool struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*Client
}

func NewPool(cfg Config) *Pool {
	return &Pool{cfg: cfg, clients: make(map[string]*Client)}
}

func (p *Pool) For(account models.Account) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[account.ID]; ok && c.apiKey == account.APIKey {
		return c
	}
	cfg := p.cfg
	cfg.APIKey = account.APIKey
	if cfg.Logger != nil {
		cfg.Logger = cfg.Logger.With(zap.String("account_id", account.ID))
	}
	c := NewClient(cfg)
	p.clients[account.ID] = c
	return c
}
