package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/openemr-eks/teardown/internal/fault"
)

// kindByCode maps AWS API error codes to fault kinds. Codes differ per
// service for the same condition, so the table is the union across every
// service the teardown touches.
var kindByCode = map[string]fault.Kind{
	// Throttling and provider hiccups, safe to retry in place.
	"Throttling":                   fault.KindTransient,
	"ThrottlingException":          fault.KindTransient,
	"TooManyRequestsException":     fault.KindTransient,
	"RequestLimitExceeded":         fault.KindTransient,
	"SlowDown":                     fault.KindTransient,
	"RequestTimeout":               fault.KindTransient,
	"ServiceUnavailable":           fault.KindTransient,
	"ServiceUnavailableException":  fault.KindTransient,
	"InternalError":                fault.KindTransient,
	"InternalFailure":              fault.KindTransient,
	"InternalServerException":      fault.KindTransient,

	// Resource already absent: idempotent success for a teardown.
	"ResourceNotFoundException":         fault.KindNotFound,
	"ResourceNotFoundFault":             fault.KindNotFound,
	"NotFound":                          fault.KindNotFound,
	"NotFoundException":                 fault.KindNotFound,
	"NoSuchBucket":                      fault.KindNotFound,
	"NoSuchKey":                         fault.KindNotFound,
	"NoSuchUpload":                      fault.KindNotFound,
	"TrailNotFoundException":            fault.KindNotFound,
	"DBClusterNotFoundFault":            fault.KindNotFound,
	"DBClusterSnapshotNotFoundFault":    fault.KindNotFound,
	"BackupVaultNotFoundException":      fault.KindNotFound,

	// Busy or transitional state: wait, then re-act.
	"InvalidDBClusterStateFault":         fault.KindInvalidState,
	"InvalidDBClusterSnapshotStateFault": fault.KindInvalidState,
	"ResourceInUseException":             fault.KindInvalidState,
	"OperationAbortedException":          fault.KindInvalidState,
	"ConflictException":                  fault.KindInvalidState,
	"InvalidTrailStateException":         fault.KindInvalidState,

	// Dependent resources still exist; retrying in place will not help.
	"DependencyViolation": fault.KindBlockingDependency,
	"BucketNotEmpty":      fault.KindBlockingDependency,

	// Operation not supported for this resource subtype.
	"UnsupportedOperation":          fault.KindUnsupported,
	"UnsupportedOperationException": fault.KindUnsupported,
	"InvalidRequestException":       fault.KindUnsupported,
}

// kindBySubstring is the fallback for services that wrap their real condition
// in a generic code. Matched case-insensitively against the whole error text,
// in order.
var kindBySubstring = []struct {
	substr string
	kind   fault.Kind
}{
	{"not supported", fault.KindUnsupported},
	{"unsupported", fault.KindUnsupported},
	{"does not exist", fault.KindNotFound},
	{"not found", fault.KindNotFound},
	{"no such", fault.KindNotFound},
	{"already deleted", fault.KindNotFound},
	{"contains recovery points", fault.KindBlockingDependency},
	{"child recovery points", fault.KindBlockingDependency},
	{"not empty", fault.KindBlockingDependency},
	{"dependent", fault.KindBlockingDependency},
	{"throttl", fault.KindTransient},
	{"rate exceeded", fault.KindTransient},
	{"try again", fault.KindTransient},
	{"timed out", fault.KindTransient},
	{"timeout", fault.KindTransient},
	{"in use", fault.KindInvalidState},
	{"is busy", fault.KindInvalidState},
	{"invalid state", fault.KindInvalidState},
	{"currently unavailable", fault.KindInvalidState},
}

// Classify wraps a provider error with its fault kind. Cancellation passes
// through untouched; an error that matches nothing stays unclassified and the
// engine treats it as permanent.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		if kind, ok := kindByCode[ae.ErrorCode()]; ok {
			return fault.New(kind, err)
		}
		if ae.ErrorFault() == smithy.FaultServer {
			return fault.Transient(err)
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range kindBySubstring {
		if strings.Contains(msg, m.substr) {
			return fault.New(m.kind, err)
		}
	}
	return err
}
