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

package generate

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"

	ximagedraw "golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// thumbnailMaxDim bounds the longest side of a generated thumbnail;
// large enough for a cover-art display, small enough to always be
// cheaper to ship than the original.
const thumbnailMaxDim = 1024

// generateThumbnail decodes src (any format registered above, via the
// stdlib's image.Decode format registry plus x/image's bmp/tiff/webp
// decoders) and writes a scaled JPEG to dst. EXIF orientation is not
// consulted; the client rotates on display.
func generateThumbnail(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("generate: opening thumbnail source: %w", err)
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("generate: decoding image: %w", err)
	}

	scaled := scaleToFit(img, thumbnailMaxDim)

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("generate: creating thumbnail output: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, scaled, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("generate: encoding thumbnail: %w", err)
	}
	return nil
}

// scaleToFit returns img unchanged if it already fits within maxDim on
// its longest side, otherwise a proportionally scaled copy.
func scaleToFit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	ximagedraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
