package repositoryimpl

import (
	"context"

	"github.com/kazz187/agentdash/internal/agent"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/storage"
	"github.com/kazz187/agentdash/pkg/yamlstore"
)

const AgentsPrefix = "agents"

type YAMLRepository struct {
	agents *yamlstore.Collection[agent.Agent]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{agents: yamlstore.New[agent.Agent](s, AgentsPrefix, "agent")}
}

func (r *YAMLRepository) Create(ctx context.Context, a *agent.Agent) error {
	return r.agents.Create(ctx, a.ID, a)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return r.agents.Get(ctx, id)
}

func (r *YAMLRepository) List(ctx context.Context, f agent.Filter) ([]*agent.Agent, int, error) {
	all, err := r.agents.Scan(ctx, false, f.Match)
	if err != nil {
		return nil, 0, err
	}
	page, total := yamlstore.Page(all, f.Limit, f.Offset)
	return page, total, nil
}

func (r *YAMLRepository) Mutate(ctx context.Context, id, ownerID string, fn agent.MutateFunc) (*agent.Agent, error) {
	return r.agents.Update(ctx, id, func(a *agent.Agent) error {
		if ownerID != "" && a.OwnerID != ownerID {
			return cerr.NewOwnershipError("agent")
		}
		return fn(a)
	})
}
