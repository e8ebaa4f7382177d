package storeerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		err  error
		code svcerrors.ErrorCode
	}{
		{fmt.Errorf("x: %w", storage.ErrNotFound), svcerrors.CodeNotFound},
		{storage.ErrConflict, svcerrors.CodeConflict},
		{storage.ErrVersionMismatch, svcerrors.CodeConflict},
		{storage.ErrInvalidStatus, svcerrors.CodeInvalidTransition},
		{storage.ErrSlotTaken, svcerrors.CodeSlotUnavailable},
		{storage.ErrInsufficientStock, svcerrors.CodeInsufficientStock},
		{storage.ErrOverpayment, svcerrors.CodeInvalidInput},
		{storage.ErrEmptyInvoice, svcerrors.CodeInvalidInput},
		{fmt.Errorf("boom"), svcerrors.CodeInternal},
		{svcerrors.Forbidden("no"), svcerrors.CodeForbidden},
	}
	for _, tc := range cases {
		assert.True(t, svcerrors.HasCode(Translate(tc.err, "thing", "1"), tc.code), "%v", tc.err)
	}
	assert.NoError(t, Translate(nil, "thing", "1"))
}
