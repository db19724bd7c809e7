/*
Copyright 2011 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package osutil provides operating system-specific path defaults for
// the server's persistent and cache directory trees and the CLI
// client's local state.
package osutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HomeDir returns the path to the user's home directory.
// It returns the empty string if the value isn't known.
func HomeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("HOMEPATH")
	}
	return os.Getenv("HOME")
}

// CacheDir returns the directory generated/transcoded artifacts and
// transient generator work directories are rooted at. It is overridden by
// SUNWET_CACHE_DIR.
func CacheDir() string {
	if d := os.Getenv("SUNWET_CACHE_DIR"); d != "" {
		return d
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(HomeDir(), "Library", "Caches", "sunwet")
	case "windows":
		for _, ev := range []string{"TEMP", "TMP"} {
			if v := os.Getenv(ev); v != "" {
				return filepath.Join(v, "sunwet")
			}
		}
		return filepath.Join(os.TempDir(), "sunwet")
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "sunwet")
	}
	return filepath.Join(HomeDir(), ".cache", "sunwet")
}

// PersistentDir returns the directory the triple database, file store and
// upload stage live under. It is overridden by SUNWET_DATA_DIR.
func PersistentDir() string {
	if d := os.Getenv("SUNWET_DATA_DIR"); d != "" {
		return d
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "sunwet")
	case "darwin":
		return filepath.Join(HomeDir(), "Library", "sunwet")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "sunwet")
	}
	return filepath.Join(HomeDir(), ".local", "share", "sunwet")
}

// ConfigDir returns the directory the server config file and the CLI
// client's local config (including the offline replay queue) live under.
func ConfigDir() string {
	if p := os.Getenv("SUNWET_CONFIG_DIR"); p != "" {
		return p
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "sunwet")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sunwet")
	}
	return filepath.Join(HomeDir(), ".config", "sunwet")
}

// UserClientConfigPath returns the path to the CLI's TOML client
// config file (server alias, bearer token).
func UserClientConfigPath() string {
	return filepath.Join(ConfigDir(), "client.toml")
}

// ReplayQueueDir returns the directory the offline replay queue
// persists pending commits and file bytes under.
func ReplayQueueDir() string {
	return filepath.Join(ConfigDir(), "replay")
}

// FindInclude resolves a relative config-include path, searching (in
// order) the working directory, the config directory, and
// SUNWET_INCLUDE_PATH (standard PATH-list form for the OS).
func FindInclude(configFile string) (absPath string, err error) {
	if _, err = os.Stat(configFile); err == nil {
		return configFile, nil
	}
	if filepath.IsAbs(configFile) {
		return "", err
	}

	configDir := ConfigDir()
	if _, err = os.Stat(filepath.Join(configDir, configFile)); err == nil {
		return filepath.Join(configDir, configFile), nil
	}

	p := os.Getenv("SUNWET_INCLUDE_PATH")
	for _, d := range strings.Split(p, string(filepath.ListSeparator)) {
		if d == "" {
			continue
		}
		if _, err = os.Stat(filepath.Join(d, configFile)); err == nil {
			return filepath.Join(d, configFile), nil
		}
	}

	return "", os.ErrNotExist
}
