package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	permOwnerRead  = 0o400
	permGroupRead  = 0o040
	permGroupWrite = 0o020
	permGroupExec  = 0o010
	permOtherMask  = 0o007
)

// CheckConfigPermissions validates the config file permissions.
//
// It returns a warning when the file is group-readable and an error when the
// file is accessible by others or group-writable/executable.
func CheckConfigPermissions(path string) (string, error) {
	perms, err := statPerms("config", path)
	if err != nil {
		return "", err
	}
	if perms&(permGroupWrite|permGroupExec) != 0 {
		return "", fmt.Errorf("config %s must not be group-writable or executable (mode %04o)", path, perms)
	}
	if perms&permGroupRead != 0 {
		return fmt.Sprintf("config %s is group-readable (mode %04o); consider chmod 0600", path, perms), nil
	}
	return "", nil
}

// CheckKeyPermissions validates the age key file. Unlike the config file,
// any group access is an error.
func CheckKeyPermissions(path string) error {
	perms, err := statPerms("age key", path)
	if err != nil {
		return err
	}
	if perms&(permGroupRead|permGroupWrite|permGroupExec) != 0 {
		return fmt.Errorf("age key %s must not be accessible by group (mode %04o); chmod 0600", path, perms)
	}
	return nil
}

func statPerms(kind, path string) (os.FileMode, error) {
	if strings.TrimSpace(path) == "" {
		return 0, fmt.Errorf("%s path is required", kind)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s %s: %w", kind, path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s %s must be a regular file", kind, path)
	}
	perms := info.Mode().Perm()
	if perms&permOwnerRead == 0 {
		return 0, fmt.Errorf("%s %s must be readable by owner (mode %04o)", kind, path, perms)
	}
	if perms&permOtherMask != 0 {
		return 0, fmt.Errorf("%s %s must not be accessible by others (mode %04o)", kind, path, perms)
	}
	return perms, nil
}
