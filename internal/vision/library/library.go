// Package library holds the template set the matcher works against: named
// reference images with their fingerprints, match thresholds, and the device
// action each one triggers. Libraries are immutable after load; a reload
// builds a fresh Library and swaps it in atomically.
package library

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/framepilot/framepilot/internal/capture"
	"github.com/framepilot/framepilot/internal/devlink"
	apperrors "github.com/framepilot/framepilot/internal/errors"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
)

// Action operation names understood by the dispatcher.
const (
	OpPress   = "press"
	OpKeyDown = "key_down"
	OpKeyUp   = "key_up"
	OpWrite   = "write"
)

// Action is the device command a template triggers when it matches.
type Action struct {
	Op   string `toml:"op"`
	Key  string `toml:"key"`
	Text string `toml:"text"`
}

// Command materializes the action as a dispatchable device command.
func (a Action) Command(timeout time.Duration) (devlink.Command, error) {
	switch a.Op {
	case OpPress:
		return devlink.NewPress(a.Key, timeout)
	case OpKeyDown:
		return devlink.NewKeyDown(a.Key, timeout)
	case OpKeyUp:
		return devlink.NewKeyUp(a.Key, timeout)
	case OpWrite:
		return devlink.NewWrite(a.Text, timeout)
	default:
		return devlink.Command{}, apperrors.Newf(apperrors.CodeDispatchFailed, "unknown action op %q", a.Op)
	}
}

// Template is one entry in the library. Seq records manifest order and is
// the tie-break when several templates match a frame equally well.
type Template struct {
	ID          string
	Fingerprint fingerprint.Fingerprint
	Ref         *image.RGBA
	Region      *capture.Region // nil means match anywhere in the frame
	Threshold   float64         // 0 means use the configured default
	Action      Action
	Seq         int
}

// Library is an immutable, insertion-ordered template set indexed by
// fingerprint for exact lookups.
type Library struct {
	templates []*Template
	byPrint   map[fingerprint.Fingerprint][]*Template
	byID      map[string]*Template
	loadedAt  time.Time
	source    string
}

// manifest is the on-disk TOML shape.
type manifest struct {
	Templates []manifestTemplate `toml:"template"`
}

type manifestTemplate struct {
	ID        string  `toml:"id"`
	Image     string  `toml:"image"`
	Threshold float64 `toml:"threshold"`
	Region    []int   `toml:"region"` // [x, y, w, h]
	Action    Action  `toml:"action"`
}

// Load reads a manifest, decodes every reference image relative to the
// manifest's directory, and fingerprints them. Any invalid entry fails the
// whole load; a half-valid library is never returned.
func Load(manifestPath string, fp *fingerprint.Fingerprinter) (*Library, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigMissing, "read manifest %s", manifestPath)
	}

	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeLibraryInvalid, "parse manifest %s", manifestPath)
	}
	if len(m.Templates) == 0 {
		return nil, apperrors.Newf(apperrors.CodeLibraryInvalid, "manifest %s declares no templates", manifestPath)
	}

	base := filepath.Dir(manifestPath)
	templates := make([]*Template, 0, len(m.Templates))
	for i, mt := range m.Templates {
		tpl, err := buildTemplate(i, mt, base, fp)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}

	lib, err := New(templates)
	if err != nil {
		return nil, err
	}
	lib.source = manifestPath
	return lib, nil
}

func buildTemplate(seq int, mt manifestTemplate, base string, fp *fingerprint.Fingerprinter) (*Template, error) {
	if mt.ID == "" {
		return nil, apperrors.Newf(apperrors.CodeLibraryInvalid, "template #%d has no id", seq)
	}
	if mt.Image == "" {
		return nil, apperrors.Newf(apperrors.CodeLibraryInvalid, "template %s has no image", mt.ID)
	}

	path := mt.Image
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	ref, err := loadRGBA(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeLibraryInvalid, "template %s image %s", mt.ID, mt.Image)
	}

	print, err := fp.Image(ref)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeLibraryInvalid, "template %s fingerprint", mt.ID)
	}

	var region *capture.Region
	if len(mt.Region) > 0 {
		if len(mt.Region) != 4 {
			return nil, apperrors.Newf(apperrors.CodeLibraryInvalid, "template %s region must be [x, y, w, h]", mt.ID)
		}
		region = &capture.Region{X: mt.Region[0], Y: mt.Region[1], W: mt.Region[2], H: mt.Region[3]}
		if region.W <= 0 || region.H <= 0 || region.X < 0 || region.Y < 0 {
			return nil, apperrors.Newf(apperrors.CodeLibraryInvalid, "template %s region %v is degenerate", mt.ID, mt.Region)
		}
	}

	return &Template{
		ID:          mt.ID,
		Fingerprint: print,
		Ref:         ref,
		Region:      region,
		Threshold:   mt.Threshold,
		Action:      mt.Action,
		Seq:         seq,
	}, nil
}

// New builds a library from prepared templates, validating the set as a
// whole. Seq is reassigned from slice order.
func New(templates []*Template) (*Library, error) {
	lib := &Library{
		templates: make([]*Template, 0, len(templates)),
		byPrint:   make(map[fingerprint.Fingerprint][]*Template, len(templates)),
		byID:      make(map[string]*Template, len(templates)),
		loadedAt:  time.Now(),
	}

	for i, tpl := range templates {
		if err := validateTemplate(tpl); err != nil {
			return nil, err
		}
		if _, dup := lib.byID[tpl.ID]; dup {
			return nil, apperrors.Newf(apperrors.CodeLibraryInvalid, "duplicate template id %s", tpl.ID)
		}
		tpl.Seq = i
		lib.templates = append(lib.templates, tpl)
		lib.byPrint[tpl.Fingerprint] = append(lib.byPrint[tpl.Fingerprint], tpl)
		lib.byID[tpl.ID] = tpl
	}
	return lib, nil
}

func validateTemplate(tpl *Template) error {
	if tpl.ID == "" {
		return apperrors.New(apperrors.CodeLibraryInvalid, "template has no id")
	}
	if tpl.Ref == nil || tpl.Ref.Bounds().Empty() {
		return apperrors.Newf(apperrors.CodeLibraryInvalid, "template %s has no reference image", tpl.ID)
	}
	if tpl.Threshold < 0 || tpl.Threshold > 1 {
		return apperrors.Newf(apperrors.CodeLibraryInvalid, "template %s threshold %.3f not in [0, 1]", tpl.ID, tpl.Threshold)
	}

	switch tpl.Action.Op {
	case OpPress, OpKeyDown, OpKeyUp:
		if _, ok := devlink.KeyCode(tpl.Action.Key); !ok {
			return apperrors.Newf(apperrors.CodeLibraryInvalid, "template %s action key %q is unknown", tpl.ID, tpl.Action.Key)
		}
	case OpWrite:
		if tpl.Action.Text == "" {
			return apperrors.Newf(apperrors.CodeLibraryInvalid, "template %s write action has no text", tpl.ID)
		}
	default:
		return apperrors.Newf(apperrors.CodeLibraryInvalid, "template %s action op %q is not one of %s, %s, %s, %s",
			tpl.ID, tpl.Action.Op, OpPress, OpKeyDown, OpKeyUp, OpWrite)
	}
	return nil
}

// All returns templates in manifest order. The slice is shared; callers
// must not mutate it.
func (l *Library) All() []*Template { return l.templates }

// Len returns the number of templates.
func (l *Library) Len() int { return len(l.templates) }

// LookupExact returns the templates whose fingerprint equals print, in
// manifest order, or nil.
func (l *Library) LookupExact(print fingerprint.Fingerprint) []*Template {
	return l.byPrint[print]
}

// ByID returns a template by its id.
func (l *Library) ByID(id string) (*Template, bool) {
	tpl, ok := l.byID[id]
	return tpl, ok
}

// LoadedAt reports when this library was built.
func (l *Library) LoadedAt() time.Time { return l.loadedAt }

// Source reports the manifest path, or "" for in-memory libraries.
func (l *Library) Source() string { return l.source }

func loadRGBA(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}
