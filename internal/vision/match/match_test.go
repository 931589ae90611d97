package match

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/framepilot/framepilot/internal/capture"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
	"github.com/framepilot/framepilot/internal/vision/library"
)

func gradient(w, h int, seed uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*int(seed+1) + y*3) % 256)
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}
	return img
}

func inverted(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			out.Set(x, y, color.RGBA{
				R: 255 - uint8(r>>8),
				G: 255 - uint8(g>>8),
				B: 255 - uint8(bl>>8),
				A: 255,
			})
		}
	}
	return out
}

// frameWith paints content onto a flat canvas at (x, y) and wraps it as a
// frame.
func frameWith(w, h int, content image.Image, x, y int) *capture.Frame {
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{40, 40, 40, 255}), image.Point{}, draw.Src)
	cb := content.Bounds()
	draw.Draw(canvas, image.Rect(x, y, x+cb.Dx(), y+cb.Dy()), content, cb.Min, draw.Src)
	return capture.FromImage(canvas, time.Now())
}

func buildLibrary(t *testing.T, tpls ...*library.Template) *library.Library {
	t.Helper()
	lib, err := library.New(tpls)
	if err != nil {
		t.Fatalf("library.New: %v", err)
	}
	return lib
}

func template(t *testing.T, fp *fingerprint.Fingerprinter, id string, ref *image.RGBA, threshold float64, region *capture.Region) *library.Template {
	t.Helper()
	print, err := fp.Image(ref)
	if err != nil {
		t.Fatalf("fingerprint %s: %v", id, err)
	}
	return &library.Template{
		ID:          id,
		Fingerprint: print,
		Ref:         ref,
		Region:      region,
		Threshold:   threshold,
		Action:      library.Action{Op: library.OpPress, Key: "space"},
	}
}

func mustPrint(t *testing.T, fp *fingerprint.Fingerprinter, f *capture.Frame) fingerprint.Fingerprint {
	t.Helper()
	print, err := fp.Frame(f)
	if err != nil {
		t.Fatalf("fingerprint frame: %v", err)
	}
	return print
}

func TestMatchExactFingerprint(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(60, 40, 3)
	lib := buildLibrary(t, template(t, fp, "target", ref, 0.9, nil))

	frame := capture.FromImage(ref, time.Now())
	res, err := New(fp, 0.8, 8).Match(lib, frame, mustPrint(t, fp, frame))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Matched() || res.TemplateID() != "target" {
		t.Fatalf("result = %+v, want target", res)
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want exactly 1 on a digest hit", res.Confidence)
	}
}

func TestMatchFindsTemplateInsideLargerFrame(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(24, 18, 5)
	lib := buildLibrary(t, template(t, fp, "icon", ref, 0.9, nil))

	frame := frameWith(80, 60, ref, 31, 22)
	res, err := New(fp, 0.8, 64).Match(lib, frame, mustPrint(t, fp, frame))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Matched() {
		t.Fatal("expected a match")
	}
	if res.Location == nil || res.Location.X != 31 || res.Location.Y != 22 {
		t.Errorf("location = %+v, want {31 22 24 18}", res.Location)
	}
}

func TestMatchNegativeIsNotAnError(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(40, 40, 2)
	lib := buildLibrary(t, template(t, fp, "x", ref, 0.9, nil))

	// Anti-correlated content: fingerprint prefilter may admit it, NCC must
	// reject it.
	frame := capture.FromImage(inverted(gradient(40, 40, 2)), time.Now())
	res, err := New(fp, 0.8, 64).Match(lib, frame, mustPrint(t, fp, frame))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Matched() {
		t.Errorf("result = %+v, want no match", res)
	}
	if res.Fingerprint == 0 {
		t.Error("negative result should still carry the frame fingerprint")
	}
}

func TestMatchHammingRadiusBoundsCandidates(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(40, 40, 2)
	lib := buildLibrary(t, template(t, fp, "x", ref, 0.5, nil))

	frame := capture.FromImage(inverted(ref), time.Now())
	print := mustPrint(t, fp, frame)
	tplPrint := lib.All()[0].Fingerprint
	if print.Distance(tplPrint) == 0 {
		t.Skip("inverted content hashed identically; radius test not applicable")
	}

	res, err := New(fp, 0.5, 0).Match(lib, frame, print)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Matched() {
		t.Error("zero radius should exclude all non-exact candidates")
	}
}

func TestMatchThresholdGate(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(40, 40, 4)

	// Half the frame matches the reference, half is flat: confidence lands
	// strictly between 0 and 1.
	partial := image.NewRGBA(image.Rect(0, 0, 40, 40))
	draw.Draw(partial, image.Rect(0, 0, 20, 40), ref, image.Point{}, draw.Src)
	frame := capture.FromImage(partial, time.Now())

	permissive := buildLibrary(t, template(t, fp, "x", ref, 0.01, nil))
	framePrint := mustPrint(t, fp, frame)
	if framePrint == permissive.All()[0].Fingerprint {
		t.Skip("partial frame hashed identically; gate test not applicable")
	}
	res, err := New(fp, 0.01, 64).Match(permissive, frame, framePrint)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Matched() {
		t.Fatal("permissive threshold should accept the partial match")
	}
	if res.Confidence <= 0 || res.Confidence >= 0.99 {
		t.Fatalf("confidence = %v, want strictly partial", res.Confidence)
	}

	gate := res.Confidence + 0.005
	if gate > 1 {
		gate = 1
	}
	strict := buildLibrary(t, template(t, fp, "x", ref, gate, nil))
	res, err = New(fp, 0.01, 64).Match(strict, frame, mustPrint(t, fp, frame))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Matched() {
		t.Errorf("threshold %v should reject confidence %v", gate, res.Confidence)
	}
}

func TestMatchEqualConfidencePrefersEarlierTemplate(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(40, 40, 6)
	lib := buildLibrary(t,
		template(t, fp, "first", ref, 0.9, nil),
		template(t, fp, "second", ref, 0.9, nil),
	)

	frame := capture.FromImage(ref, time.Now())
	res, err := New(fp, 0.8, 8).Match(lib, frame, mustPrint(t, fp, frame))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.TemplateID() != "first" {
		t.Errorf("matched %s, want first (manifest order tie-break)", res.TemplateID())
	}
}

func TestMatchEqualConfidenceTieBreakOnVerifyPath(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(40, 40, 4)

	// A half-painted frame forces both identical templates through NCC with
	// the same partial confidence; registration order must break the tie.
	partial := image.NewRGBA(image.Rect(0, 0, 40, 40))
	draw.Draw(partial, image.Rect(0, 0, 20, 40), ref, image.Point{}, draw.Src)
	frame := capture.FromImage(partial, time.Now())

	lib := buildLibrary(t,
		template(t, fp, "first", ref, 0.01, nil),
		template(t, fp, "second", ref, 0.01, nil),
	)
	framePrint := mustPrint(t, fp, frame)
	if framePrint == lib.All()[0].Fingerprint {
		t.Skip("partial frame hashed identically; tie-break test not applicable")
	}

	res, err := New(fp, 0.01, 64).Match(lib, frame, framePrint)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Matched() {
		t.Fatal("expected a match")
	}
	if res.TemplateID() != "first" {
		t.Errorf("matched %s, want first (registration order tie-break)", res.TemplateID())
	}
}

func TestMatchRegionTemplateWithinTightHashRadius(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(30, 30, 7)
	region := &capture.Region{X: 10, Y: 20, W: 30, H: 30}
	lib := buildLibrary(t, template(t, fp, "pinned", ref, 0.9, region))

	// The whole-frame digest is far from the region reference's digest; the
	// prefilter must compare the region crop's digest instead, so a small
	// radius still admits pixel-identical region content.
	frame := frameWith(200, 160, ref, 10, 20)
	res, err := New(fp, 0.8, 10).Match(lib, frame, mustPrint(t, fp, frame))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Matched() || res.TemplateID() != "pinned" {
		t.Fatalf("result = %+v, want pinned", res)
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want exactly 1 on a region digest hit", res.Confidence)
	}
	if res.Location == nil || *res.Location != *region {
		t.Errorf("location = %+v, want %+v", res.Location, region)
	}
}

func TestMatchRegionTemplate(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(30, 30, 7)
	region := &capture.Region{X: 10, Y: 20, W: 30, H: 30}
	lib := buildLibrary(t, template(t, fp, "pinned", ref, 0.9, region))

	frame := frameWith(100, 80, ref, 10, 20)
	res, err := New(fp, 0.8, 64).Match(lib, frame, mustPrint(t, fp, frame))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Matched() {
		t.Fatal("expected region match")
	}
	if res.Location == nil || *res.Location != *region {
		t.Errorf("location = %+v, want %+v", res.Location, region)
	}

	// Same content elsewhere in the frame must not match a pinned template.
	moved := frameWith(100, 80, ref, 60, 40)
	res, err = New(fp, 0.8, 64).Match(lib, moved, mustPrint(t, fp, moved))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Matched() {
		t.Error("pinned template should not match content outside its region")
	}
}

func TestMatchRegionOutsideFrameIsNegative(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(30, 30, 7)
	region := &capture.Region{X: 90, Y: 90, W: 30, H: 30}
	lib := buildLibrary(t, template(t, fp, "offscreen", ref, 0.9, region))

	frame := frameWith(60, 60, ref, 0, 0)
	res, err := New(fp, 0.8, 64).Match(lib, frame, mustPrint(t, fp, frame))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Matched() {
		t.Error("region outside the frame cannot match")
	}
}

func TestMatchInvalidFrame(t *testing.T) {
	fp := fingerprint.New()
	ref := gradient(30, 30, 1)
	lib := buildLibrary(t, template(t, fp, "x", ref, 0.9, nil))

	bad := &capture.Frame{Width: 10, Height: 10, Channels: 4, Pixels: []byte{1, 2, 3}}
	if _, err := New(fp, 0.8, 8).Match(lib, bad, 0); err == nil {
		t.Error("invalid frame should error")
	}
}

func TestFindTemplateRejectsFlatReference(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 10, 10))
	frame := image.NewGray(image.Rect(0, 0, 40, 40))
	conf, loc := findTemplate(frame, flat)
	if conf != 0 || loc != nil {
		t.Errorf("flat reference scored %v at %+v, want rejection", conf, loc)
	}
}

func TestNCCScore(t *testing.T) {
	a := toGray(gradient(20, 20, 3))
	if got := nccScore(a, a); got < 0.999 {
		t.Errorf("self correlation = %v, want 1", got)
	}
	b := toGray(inverted(gradient(20, 20, 3)))
	if got := nccScore(a, b); got != 0 {
		t.Errorf("anti-correlation = %v, want clamped 0", got)
	}
	small := toGray(gradient(10, 10, 3))
	if got := nccScore(a, small); got != 0 {
		t.Errorf("size mismatch = %v, want 0", got)
	}
}
