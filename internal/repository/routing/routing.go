// Package routing reads the operator-managed routing metadata: entities,
// communities, gateways, and command records.
package routing

import (
	"context"
	"database/sql"
	"fmt"
)

// Command is one row of the commands table.
type Command struct {
	ID                 int64
	Command            string
	Prefix             string
	Description        string
	LocationURL        string
	Transport          string // container | grpc | lambda | gcp_function | openwhisk
	Method             string
	TimeoutMs          int
	AuthRequired       bool
	RateLimitPerMinute int
	Priority           int
	ModuleID           string
	TriggerType        string // command | event
	EventTypes         []string
	IsActive           bool
	Version            int
}

// Gateway is one outbound binding for a community.
type Gateway struct {
	GatewayID string
	Platform  string
	ServerID  string
	ChannelID string
}

// Channel is one routable surface a receiver attaches to.
type Channel struct {
	Platform    string
	EntityID    string
	CommunityID string
}

// Repository reads routing metadata.
type Repository struct {
	DB *sql.DB
}

// NewRepository creates a Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{DB: db}
}

// CommunityForEntity resolves entity_id -> community_id. Returns
// sql.ErrNoRows when the entity is not routed.
func (r *Repository) CommunityForEntity(ctx context.Context, entityID string) (string, error) {
	var communityID string
	err := r.DB.QueryRowContext(ctx, `
		SELECT community_id FROM routing
		WHERE entity_id = $1 AND is_active = TRUE
	`, entityID).Scan(&communityID)
	if err != nil {
		return "", err
	}
	return communityID, nil
}

// GatewaysForCommunity lists the outbound gateways for a community.
func (r *Repository) GatewaysForCommunity(ctx context.Context, communityID string) ([]Gateway, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT g.gateway_id, gs.platform, gs.server_id, gs.channel_id
		FROM routing_gateways g
		JOIN gateway_servers gs ON gs.gateway_id = g.gateway_id
		WHERE g.community_id = $1
	`, communityID)
	if err != nil {
		return nil, fmt.Errorf("query gateways: %w", err)
	}
	defer rows.Close()

	var gateways []Gateway
	for rows.Next() {
		var g Gateway
		if err := rows.Scan(&g.GatewayID, &g.Platform, &g.ServerID, &g.ChannelID); err != nil {
			return nil, fmt.Errorf("scan gateway: %w", err)
		}
		gateways = append(gateways, g)
	}
	return gateways, rows.Err()
}

// ActiveChannels lists the surfaces a platform's receiver should attach to.
func (r *Repository) ActiveChannels(ctx context.Context, platform string) ([]Channel, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT e.platform, e.entity_id, rt.community_id
		FROM entities e
		JOIN routing rt ON rt.entity_id = e.entity_id
		WHERE e.platform = $1 AND rt.is_active = TRUE
	`, platform)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.Platform, &c.EntityID, &c.CommunityID); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// LookupCommand finds an active command record by prefix and name.
func (r *Repository) LookupCommand(ctx context.Context, prefix, command string) (*Command, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, command, prefix, description, location_url, transport, method,
		       timeout_ms, auth_required, rate_limit_per_minute, priority,
		       module_id, trigger_type, is_active, version
		FROM commands
		WHERE prefix = $1 AND command = $2 AND is_active = TRUE AND trigger_type = 'command'
		ORDER BY priority DESC
		LIMIT 1
	`, prefix, command)
	return scanCommand(row)
}

// EventCommands lists active event-triggered command records for an event type.
func (r *Repository) EventCommands(ctx context.Context, eventType string) ([]Command, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, command, prefix, description, location_url, transport, method,
		       timeout_ms, auth_required, rate_limit_per_minute, priority,
		       module_id, trigger_type, is_active, version
		FROM commands
		WHERE trigger_type = 'event' AND is_active = TRUE AND $1 = ANY(event_types)
		ORDER BY priority DESC
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("query event commands: %w", err)
	}
	defer rows.Close()

	var cmds []Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, *cmd)
	}
	return cmds, rows.Err()
}

// ActiveCommands lists every active command record.
func (r *Repository) ActiveCommands(ctx context.Context) ([]Command, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, command, prefix, description, location_url, transport, method,
		       timeout_ms, auth_required, rate_limit_per_minute, priority,
		       module_id, trigger_type, is_active, version
		FROM commands
		WHERE is_active = TRUE
		ORDER BY command
	`)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var cmds []Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, *cmd)
	}
	return cmds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommand(row scanner) (*Command, error) {
	var cmd Command
	if err := row.Scan(
		&cmd.ID, &cmd.Command, &cmd.Prefix, &cmd.Description, &cmd.LocationURL,
		&cmd.Transport, &cmd.Method, &cmd.TimeoutMs, &cmd.AuthRequired,
		&cmd.RateLimitPerMinute, &cmd.Priority, &cmd.ModuleID, &cmd.TriggerType,
		&cmd.IsActive, &cmd.Version,
	); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// UserRole returns the member role for a user in a community. Returns
// sql.ErrNoRows for non-members.
func (r *Repository) UserRole(ctx context.Context, communityID, platform, platformUserID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `
		SELECT role FROM community_members
		WHERE community_id = $1 AND platform = $2 AND platform_user_id = $3
	`, communityID, platform, platformUserID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}
