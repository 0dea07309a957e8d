// Package resolver assembles the provider set a scan runs with. Accounts may
// override any provider section through their stored configuration blob;
// fields the blob leaves out fall back to the global config. Assembled
// services are cached per account so repeated jobs reuse clients (and, for
// the in-memory vector store, reuse the same index).
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/CosmoTheDev/dupescan-agent/internal/ai"
	"github.com/CosmoTheDev/dupescan-agent/internal/codehost"
	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	"github.com/CosmoTheDev/dupescan-agent/internal/embed"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/internal/vector"
)

// Services is the resolved provider set for one account.
type Services struct {
	Chat     ai.ChatProvider
	Embedder embed.Provider
	Vectors  vector.Store

	// ChatBatch and EmbedBatch are non-nil only when the provider supports
	// asynchronous batches and the configuration enables them.
	ChatBatch  ai.BatchChatProvider
	EmbedBatch embed.BatchProvider

	// Host, when set, bypasses platform resolution in CodeHost. Tests
	// install fakes here.
	Host codehost.Client

	git config.GitConfig
}

// CodeHost returns a client for the named platform using the account's
// credentials.
func (s *Services) CodeHost(provider string) (codehost.Client, error) {
	if s.Host != nil {
		return s.Host, nil
	}
	switch provider {
	case "", "github":
		if len(s.git.GitHub) == 0 {
			return nil, fmt.Errorf("no GitHub credentials configured")
		}
		return codehost.NewGitHub(s.git.GitHub[0])
	case "gitlab":
		if len(s.git.GitLab) == 0 {
			return nil, fmt.Errorf("no GitLab credentials configured")
		}
		return codehost.NewGitLab(s.git.GitLab[0])
	default:
		return nil, fmt.Errorf("unknown code host %q", provider)
	}
}

// Resolver builds and caches Services per account.
type Resolver struct {
	cfg   *config.Config
	store *store.Store

	mu    sync.Mutex
	cache map[int64]*Services
}

// New returns a Resolver over the global config and store.
func New(cfg *config.Config, st *store.Store) *Resolver {
	return &Resolver{cfg: cfg, store: st, cache: make(map[int64]*Services)}
}

// overrides is the decoded shape of an account's provider blob. Each section
// overlays the matching global config section.
type overrides struct {
	Chat      *json.RawMessage `json:"chat"`
	Embedding *json.RawMessage `json:"embedding"`
	Vector    *json.RawMessage `json:"vector"`
	Git       *json.RawMessage `json:"git"`
}

// For resolves (and caches) the provider set for accountID.
func (r *Resolver) For(ctx context.Context, accountID int64) (*Services, error) {
	r.mu.Lock()
	if svc, ok := r.cache[accountID]; ok {
		r.mu.Unlock()
		return svc, nil
	}
	r.mu.Unlock()

	acct, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolving account %d: %w", accountID, err)
	}

	chatCfg := r.cfg.Chat
	embedCfg := r.cfg.Embedding
	vectorCfg := r.cfg.Vector
	gitCfg := r.cfg.Git

	if acct.ProvidersJSON != "" {
		var ov overrides
		if err := json.Unmarshal([]byte(acct.ProvidersJSON), &ov); err != nil {
			return nil, fmt.Errorf("parsing provider overrides for account %d: %w", accountID, err)
		}
		// Overlay each present section onto a copy of the global config:
		// absent JSON fields keep the global value.
		if ov.Chat != nil {
			if err := json.Unmarshal(*ov.Chat, &chatCfg); err != nil {
				return nil, fmt.Errorf("parsing chat overrides: %w", err)
			}
		}
		if ov.Embedding != nil {
			if err := json.Unmarshal(*ov.Embedding, &embedCfg); err != nil {
				return nil, fmt.Errorf("parsing embedding overrides: %w", err)
			}
		}
		if ov.Vector != nil {
			if err := json.Unmarshal(*ov.Vector, &vectorCfg); err != nil {
				return nil, fmt.Errorf("parsing vector overrides: %w", err)
			}
		}
		if ov.Git != nil {
			if err := json.Unmarshal(*ov.Git, &gitCfg); err != nil {
				return nil, fmt.Errorf("parsing git overrides: %w", err)
			}
		}
	}

	chat, err := ai.New(chatCfg)
	if err != nil {
		return nil, fmt.Errorf("building chat provider for account %d: %w", accountID, err)
	}
	embedder, err := embed.New(embedCfg)
	if err != nil {
		return nil, fmt.Errorf("building embedding provider for account %d: %w", accountID, err)
	}
	vectors, err := vector.New(vectorCfg)
	if err != nil {
		return nil, fmt.Errorf("building vector store for account %d: %w", accountID, err)
	}

	svc := &Services{
		Chat:     chat,
		Embedder: embedder,
		Vectors:  vectors,
		git:      gitCfg,
	}
	if chatCfg.UseBatch {
		if b, ok := chat.(ai.BatchChatProvider); ok {
			svc.ChatBatch = b
		}
	}
	if embedCfg.UseBatch {
		if b, ok := embedder.(embed.BatchProvider); ok {
			svc.EmbedBatch = b
		}
	}

	r.mu.Lock()
	r.cache[accountID] = svc
	r.mu.Unlock()
	return svc, nil
}

// Invalidate drops an account's cached services, forcing a rebuild on the
// next For call. Called after its provider blob changes.
func (r *Resolver) Invalidate(accountID int64) {
	r.mu.Lock()
	delete(r.cache, accountID)
	r.mu.Unlock()
}

// Override replaces the cached services for an account. Tests use this to
// install fakes.
func (r *Resolver) Override(accountID int64, svc *Services) {
	r.mu.Lock()
	r.cache[accountID] = svc
	r.mu.Unlock()
}

// NewServices builds a Services value directly; used by tests and tooling
// that bypass account resolution.
func NewServices(chat ai.ChatProvider, embedder embed.Provider, vectors vector.Store, git config.GitConfig) *Services {
	return &Services{Chat: chat, Embedder: embedder, Vectors: vectors, git: git}
}
