package routeros

import (
	"errors"
	"fmt"

	"github.com/wisprnet/fleet/internal/model"
)

// ErrInvalidDurationUnit marks a package with a duration unit outside
// minutes/hours/days. Fatal for the operation: silently guessing a unit
// would hand out wrong session lengths.
var ErrInvalidDurationUnit = errors.New("invalid duration unit")

// HotspotProfile is the device-side rendering of a billing package.
type HotspotProfile struct {
	Name               string
	RateLimit          string
	SessionTimeoutSecs int64
	SharedUsers        int
}

// ProfileFromPackage computes the device profile fields from a package
// definition: rate limit as "<up>M/<down>M" and the session timeout in
// whole seconds.
func ProfileFromPackage(pkg model.Package) (HotspotProfile, error) {
	secs, err := durationSeconds(pkg.DurationValue, pkg.DurationUnit)
	if err != nil {
		return HotspotProfile{}, err
	}

	shared := pkg.SharedUsers
	if shared < 1 {
		shared = 1
	}

	return HotspotProfile{
		Name:               pkg.Name,
		RateLimit:          fmt.Sprintf("%dM/%dM", pkg.UploadMbps, pkg.DownloadMbps),
		SessionTimeoutSecs: secs,
		SharedUsers:        shared,
	}, nil
}

func durationSeconds(value int, unit string) (int64, error) {
	switch unit {
	case "minutes":
		return int64(value) * 60, nil
	case "hours":
		return int64(value) * 3600, nil
	case "days":
		return int64(value) * 86400, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationUnit, unit)
	}
}
