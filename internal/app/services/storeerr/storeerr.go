// Package storeerr maps storage sentinel errors onto service errors.
package storeerr

import (
	"errors"
	"net/http"

	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

// Translate converts err into a ServiceError describing resource/id. Errors
// that already are ServiceErrors pass through.
func Translate(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if se := svcerrors.GetServiceError(err); se != nil {
		return se
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound(resource, id)
	case errors.Is(err, storage.ErrConflict):
		return svcerrors.Conflict("%s already exists", resource)
	case errors.Is(err, storage.ErrVersionMismatch):
		return svcerrors.Conflict("%s %s was modified concurrently", resource, id).WithDetails("reason", "version_mismatch")
	case errors.Is(err, storage.ErrInvalidStatus):
		return svcerrors.New(svcerrors.CodeInvalidTransition, http.StatusConflict, err.Error(), err)
	case errors.Is(err, storage.ErrSlotTaken):
		return svcerrors.SlotUnavailable(id, err)
	case errors.Is(err, storage.ErrInsufficientStock):
		return svcerrors.New(svcerrors.CodeInsufficientStock, http.StatusConflict, "insufficient stock", err).WithDetails("product_id", id)
	case errors.Is(err, storage.ErrOverpayment):
		return svcerrors.InvalidInput("payment exceeds invoice balance")
	case errors.Is(err, storage.ErrEmptyInvoice):
		return svcerrors.InvalidInput("cannot issue an invoice without lines")
	}
	return svcerrors.Internal(resource+" storage failure", err)
}

// IsNotFound reports whether err is a storage not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
