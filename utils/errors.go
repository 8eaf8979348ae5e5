package utils

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies an AppError. Kinds are part of the wire contract
// between services and must not be renamed.
type ErrorKind string

const (
	KindInvalidArgument       ErrorKind = "InvalidArgument"
	KindNotFound              ErrorKind = "NotFound"
	KindProductNotFound       ErrorKind = "ProductNotFound"
	KindMaterialNotFound      ErrorKind = "MaterialNotFound"
	KindInsufficientStock     ErrorKind = "InsufficientStock"
	KindDownstreamUnavailable ErrorKind = "DownstreamUnavailable"
	KindInternal              ErrorKind = "Internal"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	Detail  map[string]interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewInvalidArgument(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func NewNotFound(resource string, id interface{}) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s with id %v not found", resource, id),
		Detail:  map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewProductNotFound(productID uint) *AppError {
	return &AppError{
		Kind:    KindProductNotFound,
		Message: fmt.Sprintf("Product with id %d not found", productID),
		Detail:  map[string]interface{}{"product_id": productID},
	}
}

func NewMaterialNotFound(materialID uint) *AppError {
	return &AppError{
		Kind:    KindMaterialNotFound,
		Message: fmt.Sprintf("Material with id %d not found", materialID),
		Detail:  map[string]interface{}{"material_id": materialID},
	}
}

func NewInsufficientStock(materialID uint, name string, requested, available decimal.Decimal) *AppError {
	return &AppError{
		Kind:    KindInsufficientStock,
		Message: fmt.Sprintf("Insufficient stock for material %d (%s): requested %s, available %s", materialID, name, requested.StringFixed(2), available.StringFixed(2)),
		Detail: map[string]interface{}{
			"material_id": materialID,
			"requested":   requested,
			"available":   available,
		},
	}
}

func NewDownstreamUnavailable(component string, err error) *AppError {
	return &AppError{
		Kind:    KindDownstreamUnavailable,
		Message: fmt.Sprintf("%s is unavailable", component),
		Detail:  map[string]interface{}{"component": component},
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: "internal server error", Err: err}
}

// KindOf returns the kind of the first AppError in err's chain, or Internal.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries one of kinds.
func IsKind(err error, kinds ...ErrorKind) bool {
	k := KindOf(err)
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// IsClientError reports whether the caller can fix err by changing the request.
func IsClientError(err error) bool {
	return HTTPStatus(KindOf(err)) < http.StatusInternalServerError
}

func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound, KindProductNotFound, KindMaterialNotFound:
		return http.StatusNotFound
	case KindInsufficientStock:
		return http.StatusConflict
	case KindDownstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
