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
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"sunwet.dev/sunwet/internal/replay"
	"sunwet.dev/sunwet/pkg/cmdmain"
	"sunwet.dev/sunwet/pkg/commit"
	"sunwet.dev/sunwet/pkg/osutil"
)

type commitCmd struct {
	server  string
	offline string // replay queue dir to use if the server is unreachable; "" disables
}

func init() {
	cmdmain.RegisterCommand("commit", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(commitCmd)
		flags.StringVar(&cmd.server, "server", "", serverFlagHelp)
		flags.StringVar(&cmd.offline, "offline-queue", "", fmt.Sprintf("Directory to queue this commit in if the server can't be reached right now, instead of failing. Not enabled by default; pass %q to use the standard location.", osutil.ReplayQueueDir()))
		return cmd
	})
}

func (c *commitCmd) Describe() string { return "Submit a commit." }

func (c *commitCmd) Usage() {
	fmt.Fprintf(cmdmain.Stderr, "Usage: sunwet [globalopts] commit [commitopts] [file.json]\n")
}

func (c *commitCmd) Examples() []string {
	return []string{
		`- <<'EOF'
{"add":[{"subject":{"upload":"cover.jpg"},"predicate":"is","object":"image"}],"comment":"add cover"}
EOF`,
	}
}

func (c *commitCmd) RunCommand(args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}
	var in commitInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decoding commit input: %w", err)
	}

	resolver := newUploadResolver()
	req, err := resolver.build(in)
	if err != nil {
		return err
	}

	cl, err := newClient(c.server)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if c.offline != "" {
		c.drainBacklog(ctx, cl)
	}

	resp, err := cl.Commit(ctx, req)
	if err != nil {
		if c.offline == "" {
			return fmt.Errorf("submitting commit: %w", err)
		}
		return c.enqueueOffline(req, resolver, err)
	}

	for _, h := range resp.Incomplete {
		path, ok := resolver.pathByHash[h]
		if !ok {
			cmdmain.Errorf("warning: %s is incomplete but this commit has no local bytes for it\n", h)
			continue
		}
		if err := uploadLocalFile(ctx, cl, h, path); err != nil {
			return fmt.Errorf("uploading %s (%s): %w", h, path, err)
		}
	}
	return writeOutput(resp)
}

// drainBacklog opportunistically flushes any commits a previous
// invocation queued offline before submitting this one, since this CLI
// has no long-lived background task to run the queue's drain loop in
// (each invocation is one-shot). Best-effort: a drain failure here is
// logged, not fatal, since this commit's own submission is what the
// caller actually asked for.
func (c *commitCmd) drainBacklog(ctx context.Context, cl *client) {
	q, err := replay.Open(c.offline, cl)
	if err != nil {
		cmdmain.Errorf("warning: opening offline queue %s: %v\n", c.offline, err)
		return
	}
	if err := q.Drain(ctx); err != nil {
		cmdmain.Errorf("warning: draining offline queue %s: %v\n", c.offline, err)
	}
}

// enqueueOffline persists req (plus the bytes for every file this
// commit resolved from a local Upload node) to the offline replay queue
// instead of failing outright.
func (c *commitCmd) enqueueOffline(req commit.Request, resolver *uploadResolver, cause error) error {
	var files []replay.PendingFile
	for h, path := range resolver.pathByHash {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s for offline queue: %w", path, err)
		}
		files = append(files, replay.PendingFile{Hash: h, Data: data})
	}
	key, err := replay.Enqueue(c.offline, time.Now(), req, files)
	if err != nil {
		return fmt.Errorf("server unreachable (%v) and queuing offline failed: %w", cause, err)
	}
	cmdmain.Errorf("server unreachable (%v); queued as %s\n", cause, key)
	return nil
}
