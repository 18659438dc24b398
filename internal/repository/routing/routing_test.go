package routing

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func commandRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "command", "prefix", "description", "location_url", "transport",
		"method", "timeout_ms", "auth_required", "rate_limit_per_minute",
		"priority", "module_id", "trigger_type", "is_active", "version",
	})
}

func TestCommunityForEntity(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(`SELECT community_id FROM routing`).
		WithArgs("twitch:foo:1").
		WillReturnRows(sqlmock.NewRows([]string{"community_id"}).AddRow("c1"))

	communityID, err := repo.CommunityForEntity(context.Background(), "twitch:foo:1")
	require.NoError(t, err)
	assert.Equal(t, "c1", communityID)
}

func TestCommunityForEntityMissing(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(`SELECT community_id FROM routing`).
		WillReturnRows(sqlmock.NewRows([]string{"community_id"}))

	_, err := repo.CommunityForEntity(context.Background(), "twitch:none:0")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLookupCommand(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(`FROM commands`).
		WithArgs("!", "help").
		WillReturnRows(commandRows().AddRow(
			int64(1), "help", "!", "prints usage", "http://module-x/run", "container",
			"POST", 30000, false, 60, 0, "module-x", "command", true, 1,
		))

	cmd, err := repo.LookupCommand(context.Background(), "!", "help")
	require.NoError(t, err)
	assert.Equal(t, "help", cmd.Command)
	assert.Equal(t, "container", cmd.Transport)
	assert.Equal(t, 30000, cmd.TimeoutMs)
}

func TestGatewaysForCommunity(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(`FROM routing_gateways`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"gateway_id", "platform", "server_id", "channel_id"}).
			AddRow("g1", "twitch", "foo", "1").
			AddRow("g2", "discord", "guild9", "chan3"))

	gateways, err := repo.GatewaysForCommunity(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, gateways, 2)
	assert.Equal(t, "twitch", gateways[0].Platform)
}

func TestActiveChannels(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(`FROM entities`).
		WithArgs("twitch").
		WillReturnRows(sqlmock.NewRows([]string{"platform", "entity_id", "community_id"}).
			AddRow("twitch", "twitch:foo:1", "c1"))

	channels, err := repo.ActiveChannels(context.Background(), "twitch")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "twitch:foo:1", channels[0].EntityID)
}
