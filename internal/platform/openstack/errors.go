package openstack

import (
	"fmt"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"

	"github.com/imamik/runner-image-builder/internal/imgerrors"
)

// classify maps a gophercloud failure onto the cloud error family.
// Credential rejections become ErrUnauthorized, which callers must not
// retry; everything else is a transient ErrOpenstack.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnauthorized(err) {
		return fmt.Errorf("%s: %v: %w", op, err, imgerrors.ErrUnauthorized)
	}
	if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return fmt.Errorf("%s: %v: %w", op, err, imgerrors.ErrImageNotFound)
	}
	return fmt.Errorf("%s: %v: %w", op, err, imgerrors.ErrOpenstack)
}

func isUnauthorized(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusUnauthorized) ||
		gophercloud.ResponseCodeIs(err, http.StatusForbidden)
}

// isConflict reports whether the API rejected a create because the
// resource already exists. Shared resource creation treats this as
// success.
func isConflict(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusConflict)
}
