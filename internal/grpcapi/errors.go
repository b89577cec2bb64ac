package grpcapi

import "regbroker/internal/apperror"

func errMissingField(field string) error {
	return apperror.NewWithField(apperror.CodeMissingField, "missing required field", field)
}
