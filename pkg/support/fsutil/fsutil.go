// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os/user"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ExpandHome replaces a leading "~" (current user) or "~name" (user name) by the user's home directory.
// Paths not starting with "~" are returned unchanged.
//
// It returns an error if the user is unknown.
func ExpandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	userName, rest, _ := strings.Cut(p[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", p)
	}
	return path.Join(usr.HomeDir, rest), nil
}
