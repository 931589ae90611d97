// Package fingerprint computes compact perceptual digests of frames.
// Normalization (fixed downscale, grayscale) happens before hashing so
// compression artifacts and capture jitter do not change the digest of
// visually identical frames. The cache and the template index both key on
// these digests, so determinism is the load-bearing property here.
package fingerprint

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	"github.com/framepilot/framepilot/internal/capture"
	apperrors "github.com/framepilot/framepilot/internal/errors"
)

// NormSize is the fixed square size frames are scaled to before hashing.
// Ignoring aspect ratio is deliberate: it makes the digest independent of
// the capture resolution.
const NormSize = 128

// Fingerprint is a 64-bit perceptual digest of normalized pixel content.
type Fingerprint uint64

// String renders the digest as 16 hex digits.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// Parse reads a digest previously rendered by String.
func Parse(s string) (Fingerprint, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, apperrors.Wrapf(err, apperrors.CodeInternal, "parse fingerprint %q", s)
	}
	return Fingerprint(v), nil
}

// Distance returns the Hamming distance between two digests (0..64).
func (f Fingerprint) Distance(other Fingerprint) int {
	return bits.OnesCount64(uint64(f) ^ uint64(other))
}

// Fingerprinter derives digests. It is stateless and safe for concurrent use.
type Fingerprinter struct {
	normSize uint
}

// New creates a Fingerprinter with the standard normalization size.
func New() *Fingerprinter {
	return &Fingerprinter{normSize: NormSize}
}

// Image fingerprints a decoded image.
func (p *Fingerprinter) Image(img image.Image) (Fingerprint, error) {
	if img == nil {
		return 0, apperrors.New(apperrors.CodeInvalidFrame, "nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return 0, apperrors.Newf(apperrors.CodeInvalidFrame, "empty image %dx%d", b.Dx(), b.Dy())
	}

	norm := resize.Resize(p.normSize, p.normSize, img, resize.Bilinear)
	h, err := goimagehash.PerceptionHash(norm)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "perception hash")
	}
	return Fingerprint(h.GetHash()), nil
}

// Frame fingerprints a whole frame.
func (p *Fingerprinter) Frame(f *capture.Frame) (Fingerprint, error) {
	img, err := f.Image()
	if err != nil {
		return 0, err
	}
	return p.Image(img)
}

// Region fingerprints a sub-area of a frame. Region bounds must lie within
// the frame.
func (p *Fingerprinter) Region(f *capture.Frame, r capture.Region) (Fingerprint, error) {
	img, err := f.Crop(r)
	if err != nil {
		return 0, err
	}
	return p.Image(img)
}
