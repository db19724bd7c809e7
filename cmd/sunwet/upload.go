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
	"os"
	"time"

	"sunwet.dev/sunwet/pkg/fhash"
)

const uploadChunkSize = 8 << 20

// uploadLocalFile pushes the local file at path through the chunked
// upload protocol for hash h, then polls upload_finish
// until the server reports it done. This is the same wire protocol
// internal/replay drives for queued commits, inlined here for the
// synchronous "commit just ran and reported this incomplete" path.
func uploadLocalFile(ctx context.Context, cl *client, h fhash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	for offset := int64(0); offset < size || size == 0; offset += uploadChunkSize {
		length := int64(uploadChunkSize)
		if offset+length > size {
			length = size - offset
		}
		if err := cl.UploadChunk(ctx, h, offset, f, length); err != nil {
			return err
		}
		if size == 0 {
			break
		}
	}
	for {
		done, err := cl.UploadFinish(ctx, h)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
