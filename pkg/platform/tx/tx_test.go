package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTxNilKeepsContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithTx(ctx, nil))

	_, ok := From(ctx)
	assert.False(t, ok)
}

func TestPickPrefersContextTx(t *testing.T) {
	db := &sql.DB{}
	tx := &sql.Tx{}

	assert.Same(t, db, Pick(context.Background(), db))
	assert.Same(t, tx, Pick(WithTx(context.Background(), tx), db))
}

func TestRunJoinsOuterTx(t *testing.T) {
	outer := WithTx(context.Background(), &sql.Tx{})
	var seen context.Context
	err := Run(outer, nil, func(ctx context.Context) error {
		seen = ctx
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, outer, seen)
}
