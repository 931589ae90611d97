// Package match decides which library template, if any, a frame shows.
// Matching is staged: an exact fingerprint lookup accepts outright, then a
// Hamming-distance prefilter narrows the library, then normalized
// cross-correlation against the surviving reference images decides. The
// fingerprint stages keep the expensive comparison off the common path.
package match

import (
	"image"
	"math"

	"github.com/nfnt/resize"

	"github.com/framepilot/framepilot/internal/capture"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
	"github.com/framepilot/framepilot/internal/vision/library"
)

// Result is the outcome of matching one frame. A nil Template is a normal
// negative result, not an error.
type Result struct {
	Template    *library.Template
	Confidence  float64
	Fingerprint fingerprint.Fingerprint
	Location    *capture.Region // where in the frame the template matched
}

// Matched reports whether a template was accepted.
func (r Result) Matched() bool { return r.Template != nil }

// TemplateID returns the matched template's id, or "".
func (r Result) TemplateID() string {
	if r.Template == nil {
		return ""
	}
	return r.Template.ID
}

// Matcher holds the acceptance policy. It is stateless across frames and
// safe for concurrent use; the library is passed per call so it can be
// swapped without touching the matcher.
type Matcher struct {
	prints           *fingerprint.Fingerprinter
	defaultThreshold float64
	maxHashDistance  int
}

// New creates a matcher. prints computes region digests for region-pinned
// templates; defaultThreshold applies to templates that do not declare
// their own; maxHashDistance bounds the fingerprint prefilter.
func New(prints *fingerprint.Fingerprinter, defaultThreshold float64, maxHashDistance int) *Matcher {
	return &Matcher{prints: prints, defaultThreshold: defaultThreshold, maxHashDistance: maxHashDistance}
}

// Match evaluates a frame against the library. The frame's fingerprint must
// already be computed by the caller (it doubles as the cache key).
func (m *Matcher) Match(lib *library.Library, frame *capture.Frame, print fingerprint.Fingerprint) (Result, error) {
	if err := frame.Validate(); err != nil {
		return Result{}, err
	}

	candidates, exact, err := m.prefilter(lib, frame, print)
	if err != nil {
		return Result{}, err
	}
	// An exact digest hit is the strongest evidence available; structural
	// comparison is for misses only. Earliest-registered wins on collision.
	if exact != nil {
		res := Result{Template: exact, Confidence: 1.0, Fingerprint: print}
		if exact.Region != nil {
			r := *exact.Region
			res.Location = &r
		}
		return res, nil
	}
	if len(candidates) == 0 {
		return Result{Fingerprint: print}, nil
	}

	img, err := frame.Image()
	if err != nil {
		return Result{}, err
	}
	frameGray := toGray(img)

	best := Result{Fingerprint: print}
	for _, tpl := range candidates {
		conf, loc, err := m.verify(frameGray, frame, tpl)
		if err != nil {
			return Result{}, err
		}
		if conf < m.threshold(tpl) {
			continue
		}
		// Strictly-greater keeps the earliest candidate on equal confidence;
		// candidates arrive in registration order.
		if best.Template == nil || conf > best.Confidence {
			best.Template = tpl
			best.Confidence = conf
			best.Location = loc
		}
	}
	return best, nil
}

// prefilter walks the library in registration order. Each template is
// compared against the digest of the frame area it actually describes:
// region templates against the frame's region crop, region-less templates
// against the whole-frame digest. A zero-distance hit short-circuits as an
// exact match; the rest survive only within the Hamming radius.
func (m *Matcher) prefilter(lib *library.Library, frame *capture.Frame, print fingerprint.Fingerprint) ([]*library.Template, *library.Template, error) {
	var near []*library.Template
	for _, tpl := range lib.All() {
		probe := print
		if tpl.Region != nil {
			if !tpl.Region.Within(frame.Width, frame.Height) {
				continue
			}
			regionPrint, err := m.prints.Region(frame, *tpl.Region)
			if err != nil {
				return nil, nil, err
			}
			probe = regionPrint
		}
		d := probe.Distance(tpl.Fingerprint)
		if d == 0 {
			return nil, tpl, nil
		}
		if d <= m.maxHashDistance {
			near = append(near, tpl)
		}
	}
	return near, nil, nil
}

func (m *Matcher) threshold(tpl *library.Template) float64 {
	if tpl.Threshold > 0 {
		return tpl.Threshold
	}
	return m.defaultThreshold
}

// verify correlates one template against the frame. Region templates are
// compared in place; region-less templates are searched across the frame.
func (m *Matcher) verify(frameGray *image.Gray, frame *capture.Frame, tpl *library.Template) (float64, *capture.Region, error) {
	refGray := toGray(tpl.Ref)

	if tpl.Region != nil {
		if !tpl.Region.Within(frame.Width, frame.Height) {
			// Region outside this frame's bounds cannot match it.
			return 0, nil, nil
		}
		patch := cropGray(frameGray, tpl.Region.Rect())
		if !sameSize(patch, refGray) {
			patch = resizeGray(patch, refGray.Bounds().Dx(), refGray.Bounds().Dy())
		}
		conf := nccScore(refGray, patch)
		r := *tpl.Region
		return conf, &r, nil
	}

	conf, loc := findTemplate(frameGray, refGray)
	return conf, loc, nil
}

// findTemplate scans the frame for the best correlation with ref. Returns
// the peak score and its location. A ref larger than the frame scores zero.
func findTemplate(frameGray, refGray *image.Gray) (float64, *capture.Region) {
	fw, fh := frameGray.Bounds().Dx(), frameGray.Bounds().Dy()
	rw, rh := refGray.Bounds().Dx(), refGray.Bounds().Dy()
	if rw > fw || rh > fh {
		return 0, nil
	}

	refMean, refDev := grayStats(refGray)
	if refDev == 0 {
		// A flat reference correlates with everything; reject it outright.
		return 0, nil
	}

	bestScore := math.Inf(-1)
	var bestX, bestY int
	for y := 0; y <= fh-rh; y++ {
		for x := 0; x <= fw-rw; x++ {
			score := nccAt(frameGray, refGray, x, y, refMean, refDev)
			if score > bestScore {
				bestScore, bestX, bestY = score, x, y
			}
		}
	}
	if bestScore < 0 {
		bestScore = 0
	}
	return bestScore, &capture.Region{X: bestX, Y: bestY, W: rw, H: rh}
}

// nccScore is the normalized cross-correlation of two equally sized images,
// clamped to [0, 1] (anti-correlation is as much a non-match as noise).
func nccScore(a, b *image.Gray) float64 {
	if !sameSize(a, b) {
		return 0
	}
	aMean, aDev := grayStats(a)
	bMean, bDev := grayStats(b)
	if aDev == 0 || bDev == 0 {
		if aDev == 0 && bDev == 0 && aMean == bMean {
			return 1
		}
		return 0
	}

	w, h := a.Bounds().Dx(), a.Bounds().Dy()
	var sum float64
	for y := 0; y < h; y++ {
		ai := a.PixOffset(a.Bounds().Min.X, a.Bounds().Min.Y+y)
		bi := b.PixOffset(b.Bounds().Min.X, b.Bounds().Min.Y+y)
		for x := 0; x < w; x++ {
			sum += (float64(a.Pix[ai+x]) - aMean) * (float64(b.Pix[bi+x]) - bMean)
		}
	}
	score := sum / (float64(w*h) * aDev * bDev)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// nccAt correlates ref against the frame window at (x, y), with the ref
// statistics precomputed by the caller.
func nccAt(frameGray, refGray *image.Gray, x, y int, refMean, refDev float64) float64 {
	rw, rh := refGray.Bounds().Dx(), refGray.Bounds().Dy()
	n := float64(rw * rh)

	var winSum, winSumSq float64
	for dy := 0; dy < rh; dy++ {
		fi := frameGray.PixOffset(frameGray.Bounds().Min.X+x, frameGray.Bounds().Min.Y+y+dy)
		for dx := 0; dx < rw; dx++ {
			v := float64(frameGray.Pix[fi+dx])
			winSum += v
			winSumSq += v * v
		}
	}
	winMean := winSum / n
	winVar := winSumSq/n - winMean*winMean
	if winVar <= 0 {
		return 0
	}
	winDev := math.Sqrt(winVar)

	var sum float64
	for dy := 0; dy < rh; dy++ {
		fi := frameGray.PixOffset(frameGray.Bounds().Min.X+x, frameGray.Bounds().Min.Y+y+dy)
		ri := refGray.PixOffset(refGray.Bounds().Min.X, refGray.Bounds().Min.Y+dy)
		for dx := 0; dx < rw; dx++ {
			sum += (float64(frameGray.Pix[fi+dx]) - winMean) * (float64(refGray.Pix[ri+dx]) - refMean)
		}
	}
	return sum / (n * winDev * refDev)
}

func grayStats(g *image.Gray) (mean, dev float64) {
	b := g.Bounds()
	n := float64(b.Dx() * b.Dy())
	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := g.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			v := float64(g.Pix[i+x])
			sum += v
			sumSq += v * v
		}
	}
	mean = sum / n
	variance := sumSq/n - mean*mean
	if variance > 0 {
		dev = math.Sqrt(variance)
	}
	return mean, dev
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return g
}

func cropGray(g *image.Gray, r image.Rectangle) *image.Gray {
	return g.SubImage(r).(*image.Gray)
}

func resizeGray(g *image.Gray, w, h int) *image.Gray {
	return toGray(resize.Resize(uint(w), uint(h), g, resize.Bilinear))
}

func sameSize(a, b *image.Gray) bool {
	return a.Bounds().Dx() == b.Bounds().Dx() && a.Bounds().Dy() == b.Bounds().Dy()
}
