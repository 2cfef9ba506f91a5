package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// ServiceError is the status code surfaced across the allocator service
// and mapper library boundaries. The zero value means success.
type ServiceError int32

const (
	StatusOK            ServiceError = 0
	StatusBadDescriptor ServiceError = 1
	StatusBadBuffer     ServiceError = 2
	StatusBadValue      ServiceError = 3
	StatusNoResources   ServiceError = 5
	StatusUnsupported   ServiceError = 7
)

var serviceErrorMapping = make(map[ServiceError]string)

func (e ServiceError) String() string {
	str, ok := serviceErrorMapping[e]
	if !ok {
		return fmt.Sprintf("ServiceError(%d)", int32(e))
	}
	return str
}

func (e ServiceError) Error() string {
	return e.String()
}

// ToError returns nil for StatusOK and the code itself otherwise.
func (e ServiceError) ToError() error {
	if e == StatusOK {
		return nil
	}
	return e
}

// StatusOf extracts the service status carried by err, mapping nil to
// StatusOK and unknown errors to StatusNoResources.
func StatusOf(err error) ServiceError {
	if err == nil {
		return StatusOK
	}

	var code ServiceError
	if errors.As(err, &code) {
		return code
	}
	return StatusNoResources
}

func init() {
	serviceErrorMapping[StatusOK] = "OK"
	serviceErrorMapping[StatusBadDescriptor] = "BadDescriptor"
	serviceErrorMapping[StatusBadBuffer] = "BadBuffer"
	serviceErrorMapping[StatusBadValue] = "BadValue"
	serviceErrorMapping[StatusNoResources] = "NoResources"
	serviceErrorMapping[StatusUnsupported] = "Unsupported"
}
