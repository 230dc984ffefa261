// Package extractor fingerprints uploaded images and reads capture metadata.
// Everything here is pure: no I/O beyond the byte slice it is handed.
package extractor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	dErrors "eventlens/pkg/domain-errors"
)

const (
	DefaultMaxBytes = 10 << 20

	FlagStaleCapture  = "stale_capture"
	FlagFutureCapture = "future_capture"
	flagEditedPrefix  = "edited_with:"

	staleAfter = 24 * time.Hour
	futureSkew = 10 * time.Minute
)

// knownEditors are matched case-insensitively against the EXIF Software tag.
var knownEditors = []string{
	"photoshop", "lightroom", "gimp", "snapseed", "picsart", "facetune",
	"canva", "pixelmator", "affinity", "vsco", "meitu", "airbrush",
}

// Metadata is what the image itself claims about its capture.
type Metadata struct {
	HasEXIF     bool       `json:"has_exif"`
	CaptureTime *time.Time `json:"capture_time,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	Software    string     `json:"software,omitempty"`
	Flags       []string   `json:"flags"`
	Suspicious  bool       `json:"suspicious"`
}

// Result of one extraction.
type Result struct {
	Fingerprint string
	Format      string
	Metadata    Metadata
}

type Extractor struct {
	maxBytes int
}

// New returns an extractor rejecting images larger than maxBytes.
// maxBytes <= 0 selects DefaultMaxBytes.
func New(maxBytes int64) *Extractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Extractor{maxBytes: int(maxBytes)}
}

func (e *Extractor) MaxBytes() int64 { return int64(e.maxBytes) }

// Extract validates size and format, then fingerprints the image and reads
// its EXIF block. now anchors the staleness checks.
func (e *Extractor) Extract(img []byte, now time.Time) (Result, error) {
	if len(img) == 0 {
		return Result{}, dErrors.New(dErrors.CodeMalformedInput, "image is empty")
	}
	if len(img) > e.maxBytes {
		return Result{}, dErrors.New(dErrors.CodePayloadTooLarge,
			fmt.Sprintf("image exceeds %d bytes", e.maxBytes))
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeMalformedInput, "image is not a JPEG, PNG, WebP or GIF")
	}

	return Result{
		Fingerprint: Fingerprint(img),
		Format:      format,
		Metadata:    readMetadata(img, now),
	}, nil
}

// Fingerprint is the lowercase hex SHA-256 of the raw bytes.
func Fingerprint(img []byte) string {
	sum := sha256.Sum256(img)
	return hex.EncodeToString(sum[:])
}

func readMetadata(img []byte, now time.Time) (md Metadata) {
	md.Flags = []string{}

	x, err := decodeEXIF(img)
	if err != nil || x == nil {
		return md
	}
	md.HasEXIF = true

	if t, err := x.DateTime(); err == nil && !t.IsZero() {
		md.CaptureTime = &t
		switch {
		case now.Sub(t) > staleAfter:
			md.Flags = append(md.Flags, FlagStaleCapture)
		case t.Sub(now) > futureSkew:
			md.Flags = append(md.Flags, FlagFutureCapture)
		}
	}
	md.CameraModel = stringTag(x, exif.Model)
	md.Software = stringTag(x, exif.Software)
	if editor := matchEditor(md.Software); editor != "" {
		md.Flags = append(md.Flags, flagEditedPrefix+editor)
	}
	md.Suspicious = len(md.Flags) > 0
	return md
}

// decodeEXIF recovers from panics inside the EXIF parser on hostile input.
func decodeEXIF(img []byte) (x *exif.Exif, err error) {
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, fmt.Errorf("exif decode panic: %v", r)
		}
	}()
	return exif.Decode(bytes.NewReader(img))
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func matchEditor(software string) string {
	lower := strings.ToLower(software)
	if lower == "" {
		return ""
	}
	for _, editor := range knownEditors {
		if strings.Contains(lower, editor) {
			return editor
		}
	}
	return ""
}
