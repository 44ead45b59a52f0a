package connectors

import "context"

// PoolSize reports how many Discord clients are cached.
func (c *Discord) PoolSize() int { return c.pool.size() }

// PoolGet resolves a pooled Discord client.
func (c *Discord) PoolGet(ctx context.Context, appID, token string) error {
	_, err := c.pool.get(ctx, appID, token)
	return err
}
