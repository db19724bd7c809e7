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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"sunwet.dev/sunwet/pkg/cmdmain"
	"sunwet.dev/sunwet/pkg/commit"
	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/query"
	"sunwet.dev/sunwet/pkg/triple"
)

// client is an HTTP client of a running sunwet server: every
// subcommand but run-server goes through one of these rather than
// touching a database or file store directly. It implements
// internal/replay's Transport interface so "commit" can hand a failed
// submission to the offline replay queue instead of just erroring
// out.
type client struct {
	base  string
	token string
	hc    *http.Client
}

// newClient resolves server (an explicit -server flag value, "" meaning
// fall back to $SUNWET_SERVER) and an optional bearer token from
// $SUNWET_TOKEN.
func newClient(server string) (*client, error) {
	prefs := loadClientPrefs()
	if server == "" {
		server = os.Getenv("SUNWET_SERVER")
	}
	if server == "" {
		server = prefs.Server
	}
	if server == "" {
		return nil, cmdmain.UsageError("no server given; pass -server, set $SUNWET_SERVER, or add one to client.toml")
	}
	token := os.Getenv("SUNWET_TOKEN")
	if token == "" {
		token = prefs.Token
	}
	return &client{
		base:  strings.TrimRight(server, "/"),
		token: token,
		hc:    &http.Client{},
	}, nil
}

func (c *client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doAPI posts {kind, ...} to POST /api and returns the raw
// response body, or an error describing a non-200 status.
func (c *client) doAPI(ctx context.Context, kind string, fields map[string]interface{}) ([]byte, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["kind"] = kind
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	return raw, nil
}

// Commit implements replay.Transport: POST /api kind=commit.
func (c *client) Commit(ctx context.Context, req commit.Request) (commit.Response, error) {
	raw, err := c.doAPI(ctx, "commit", map[string]interface{}{
		"add":     req.Add,
		"remove":  req.Remove,
		"files":   req.Files,
		"comment": req.Comment,
	})
	if err != nil {
		return commit.Response{}, err
	}
	var resp commit.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return commit.Response{}, fmt.Errorf("decoding commit response: %w", err)
	}
	return resp, nil
}

// UploadChunk implements replay.Transport: POST /file/<hash> with
// x-file-offset.
func (c *client) UploadChunk(ctx context.Context, h fhash.Hash, offset int64, r io.Reader, length int64) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/file/"+h.String(), io.LimitReader(r, length))
	if err != nil {
		return err
	}
	req.ContentLength = length
	req.Header.Set("x-file-offset", strconv.FormatInt(offset, 10))
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("uploading chunk: server returned %s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	return nil
}

// UploadFinish implements replay.Transport: POST /api kind=upload_finish.
func (c *client) UploadFinish(ctx context.Context, h fhash.Hash) (bool, error) {
	raw, err := c.doAPI(ctx, "upload_finish", map[string]interface{}{"hash": h.String()})
	if err != nil {
		return false, err
	}
	var result struct{ Done bool }
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, fmt.Errorf("decoding upload_finish response: %w", err)
	}
	return result.Done, nil
}

// Query posts a query/params/page triple to POST /api kind=query.
func (c *client) Query(ctx context.Context, src string, params map[string]triple.Node, page query.Page) (query.Result, error) {
	raw, err := c.doAPI(ctx, "query", map[string]interface{}{
		"query":  src,
		"params": params,
		"page":   page,
	})
	if err != nil {
		return query.Result{}, err
	}
	var result query.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return query.Result{}, fmt.Errorf("decoding query response: %w", err)
	}
	return result, nil
}

// TriplesAround posts to POST /api kind=get_triples_around.
func (c *client) TriplesAround(ctx context.Context, node triple.Node) ([]triple.Triple, error) {
	raw, err := c.doAPI(ctx, "get_triples_around", map[string]interface{}{"node": node})
	if err != nil {
		return nil, err
	}
	var result struct{ Triples []triple.Triple }
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding get_triples_around response: %w", err)
	}
	return result.Triples, nil
}

// History posts to POST /api kind=history.
func (c *client) History(ctx context.Context, subject triple.Node) ([]byte, error) {
	return c.doAPI(ctx, "history", map[string]interface{}{"subject": subject})
}

// readInput reads a JSON request body from args[0] if given, else
// from stdin.
func readInput(args []string) ([]byte, error) {
	if len(args) > 1 {
		return nil, cmdmain.UsageError("at most one JSON file argument (or none, to read stdin)")
	}
	if len(args) == 1 && args[0] != "-" {
		return os.ReadFile(args[0])
	}
	return io.ReadAll(cmdmain.Stdin)
}

// writeOutput prints v to stdout as indented JSON.
func writeOutput(v interface{}) error {
	enc := json.NewEncoder(cmdmain.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
