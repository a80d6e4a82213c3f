package manifest

import "errors"

var (
	errEmptyID              = errors.New("manifest id must not be empty")
	errEmptyName            = errors.New("manifest name must not be empty")
	errAPIVersionMismatch   = errors.New("manifest api_version does not match host")
	errUnknownPermission    = errors.New("manifest declares an unknown permission")
	errVersionRangeInverted = errors.New("zig_version_min must not exceed zig_version_max")
)
