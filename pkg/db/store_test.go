package db

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ilp-connector/pkg/model"
	"ilp-connector/pkg/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewStore(gdb), mock
}

func TestListPeersDecodesRows(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "asset_code", "asset_scale", "relation", "rules", "protocols", "endpoint", "updated_at"}).
		AddRow("bob", "USD", 2, "peer",
			`[{"name":"balance","maximum":"100"}]`,
			`null`,
			`{"type":"http","httpOpts":{"peerUrl":"http://bob"}}`,
			time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `peers` ORDER BY id")).WillReturnRows(rows)

	peers, err := s.ListPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	p := peers[0]
	assert.Equal(t, "bob", p.Info.ID)
	assert.Equal(t, 2, p.Info.AssetScale)
	assert.Equal(t, model.RelationPeer, p.Info.Relation)
	require.Len(t, p.Info.Rules, 1)
	assert.Equal(t, model.RuleBalance, p.Info.Rules[0].Name)
	assert.Equal(t, model.EndpointHTTP, p.Endpoint.Type)
	assert.Equal(t, "http://bob", p.Endpoint.HTTP.PeerURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePeerUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `peers`")).WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SavePeer(model.PeerRecord{
		Info:     model.PeerInfo{ID: "bob", Relation: model.RelationPeer},
		Endpoint: model.EndpointInfo{Type: model.EndpointHTTP},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePeerRemovesRoutes(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `peers` WHERE id = ?")).WithArgs("bob").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `routes` WHERE peer_id = ?")).WithArgs("bob").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, s.DeletePeer("bob"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnknownPeer(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `peers` WHERE id = ?")).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.DeletePeer("ghost"), store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRoutes(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"prefix", "peer_id", "path"}).
		AddRow("", "parent", "").
		AddRow("test.bob", "bob", `["test.carl"]`)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `routes` ORDER BY prefix")).WillReturnRows(rows)

	routes, err := s.ListRoutes()
	require.NoError(t, err)
	assert.Equal(t, []model.Route{
		{Prefix: "", PeerID: "parent"},
		{Prefix: "test.bob", PeerID: "bob", Path: []string{"test.carl"}},
	}, routes)
}

func TestDeleteRouteNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `routes` WHERE prefix = ?")).WithArgs("test.x").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.DeleteRoute("test.x"), store.ErrNotFound)
}

func TestMySQLConfigDSN(t *testing.T) {
	c := MySQLConfig{Host: "db", Port: "3306", User: "ilp", Pass: "pw", DB: "connector"}
	assert.Equal(t, "ilp:pw@tcp(db:3306)/connector?charset=utf8mb4&parseTime=True&loc=Local", c.dsn())
	c.DSN = "custom"
	assert.Equal(t, "custom", c.dsn())
}
