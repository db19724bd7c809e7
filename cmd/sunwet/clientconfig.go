/*
Copyright 2023 The Sunwet Authors.

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

package main

import (
	"os"

	"github.com/BurntSushi/toml"

	"sunwet.dev/sunwet/pkg/osutil"
)

// clientPrefs is an optional, human-edited preferences file read from
// $SUNWET_CLIENT_CONFIG or osutil.UserClientConfigPath(), the CLI-side
// counterpart of the server's own JSON config document (pkg/config):
// a user's own default server/token is the kind of small,
// hand-maintained file a TOML table suits better than JSON.
type clientPrefs struct {
	Server string `toml:"server"`
	Token  string `toml:"token"`
}

func loadClientPrefs() clientPrefs {
	path := os.Getenv("SUNWET_CLIENT_CONFIG")
	if path == "" {
		path = osutil.UserClientConfigPath()
	}
	var prefs clientPrefs
	if _, err := toml.DecodeFile(path, &prefs); err != nil {
		return clientPrefs{}
	}
	return prefs
}
