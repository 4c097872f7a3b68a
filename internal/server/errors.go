package server

import (
	"context"
	"errors"

	"StableLedger/internal/core"
	"StableLedger/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// rejectionCodes maps instruction rejections onto gRPC codes.
var rejectionCodes = map[domain.Code]codes.Code{
	domain.CodeAlreadyInitialized:        codes.AlreadyExists,
	domain.CodeInvalidParameter:          codes.InvalidArgument,
	domain.CodeInvalidPrice:              codes.InvalidArgument,
	domain.CodeInvalidAmount:             codes.InvalidArgument,
	domain.CodeInsufficientCollateral:    codes.FailedPrecondition,
	domain.CodeInsufficientBalance:       codes.FailedPrecondition,
	domain.CodeNotEligibleForLiquidation: codes.FailedPrecondition,
	domain.CodeNotInitialized:            codes.FailedPrecondition,
	domain.CodeProtocolPaused:            codes.FailedPrecondition,
	domain.CodeStalePrice:                codes.FailedPrecondition,
	domain.CodeUnauthorized:              codes.PermissionDenied,
	domain.CodeArithmeticOverflow:        codes.OutOfRange,
}

// toStatus converts an error into a gRPC status error. Rejections keep
// their stable code name as the message prefix.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if code, ok := domain.CodeOf(err); ok {
		c, known := rejectionCodes[code]
		if !known {
			c = codes.Unknown
		}
		return status.Errorf(c, "%s: %v", code, err)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrCoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
