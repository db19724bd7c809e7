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

// Command sunwet is a single binary dispatching to the subcommands
// below via pkg/cmdmain's mode registry. Every mode but run-server
// talks to a running server over HTTP/websocket as a client;
// run-server hosts that HTTP surface itself.
package main

import (
	"sunwet.dev/sunwet/pkg/cmdmain"
)

func main() {
	cmdmain.Main()
}

const serverFlagHelp = "Base URL of a running sunwet server, e.g. http://localhost:8080. Falls back to $SUNWET_SERVER."
