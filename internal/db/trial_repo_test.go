package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTrialLedgerRepo_Claim_FirstUse(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTrialLedgerRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	claimed, err := repo.Claim(context.Background(), "user_1", time.Now())
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestTrialLedgerRepo_Claim_AlreadyUsed(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTrialLedgerRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	claimed, err := repo.Claim(context.Background(), "user_1", time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)
}
