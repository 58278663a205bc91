package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single URL", "postgres://localhost:5432/db", []string{"postgres://localhost:5432/db"}},
		{
			"URLs with whitespace and empty entries",
			" postgres://host1/db , ,postgres://host2/db,",
			[]string{"postgres://host1/db", "postgres://host2/db"},
		},
		{"only commas", " , , ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas falls back to primary", func(t *testing.T) {
		primary := &sql.DB{}
		cm := &ConnectionManager{primary: primary}
		assert.Same(t, primary, cm.Replica())
	})

	t.Run("round robin", func(t *testing.T) {
		r1, r2 := &sql.DB{}, &sql.DB{}
		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2}}

		counts := map[*sql.DB]int{}
		for i := 0; i < 20; i++ {
			counts[cm.Replica()]++
		}
		assert.Equal(t, 10, counts[r1])
		assert.Equal(t, 10, counts[r2])
	})
}

func TestConnectionManager_CheckReplicas(t *testing.T) {
	t.Run("no replicas", func(t *testing.T) {
		cm := &ConnectionManager{primary: &sql.DB{}}
		assert.NoError(t, cm.CheckReplicas(context.Background()))
		assert.Zero(t, cm.ReplicaCount())
	})

	t.Run("one replica up is enough", func(t *testing.T) {
		down, dmock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer down.Close()
		up, umock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer up.Close()

		dmock.ExpectPing().WillReturnError(errors.New("down"))
		umock.ExpectPing()

		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{down, up}}
		assert.NoError(t, cm.CheckReplicas(context.Background()))
		assert.Equal(t, 2, cm.ReplicaCount())
		assert.NoError(t, dmock.ExpectationsWereMet())
		assert.NoError(t, umock.ExpectationsWereMet())
	})

	t.Run("all replicas down", func(t *testing.T) {
		replica, rmock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica.Close()

		rmock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{replica}}
		err = cm.CheckReplicas(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all 1 replicas unreachable")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestConnectionManager_Close(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	replica, rmock, err := sqlmock.New()
	require.NoError(t, err)
	rmock.ExpectClose().WillReturnError(errors.New("busy"))

	cm := &ConnectionManager{primary: db, replicas: []*sql.DB{replica}}
	err = cm.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.Zero(t, cm.ReplicaCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}
