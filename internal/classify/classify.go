// Package classify infers a file's category, version label, and production
// phase from its name and path. Categorize is pure and deterministic so that
// repeated syncs of the same listing produce identical records.
package classify

import (
	"mime"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Categories.
const (
	CategoryVideo = "video"
	CategoryPhoto = "photo"
	CategoryDoc   = "doc"
	CategoryFinal = "final"
	CategoryGrade = "grade"
)

// Version labels with fixed spelling. Numbered labels ("V3") are dynamic.
const (
	LabelFinal  = "FINAL"
	LabelExport = "EXPORT"
	LabelGrade  = "GRADE"
)

// Folder phases.
const (
	PhasePre   = "pre"
	PhaseShoot = "shoot"
	PhasePost  = "post"
	PhaseFinal = "final"
	PhaseOther = "other"
)

// Result is the classification of one remote file.
type Result struct {
	Category     string
	VersionLabel *string // nil when the filename carries no label
	FolderPhase  string
}

var videoExts = map[string]bool{
	"mp4": true, "mov": true, "avi": true, "mkv": true, "m4v": true, "mxf": true,
	"webm": true, "wmv": true, "mts": true, "m2ts": true, "r3d": true, "braw": true,
	"prores": true,
}

var photoExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "tif": true, "tiff": true,
	"heic": true, "heif": true, "webp": true, "bmp": true, "raw": true, "cr2": true,
	"cr3": true, "nef": true, "arw": true, "dng": true, "psd": true,
}

// fixedLabels is checked in order; the first substring hit wins.
var fixedLabels = []string{LabelFinal, LabelExport, LabelGrade}

// versionPattern matches a V<digits> token that does not continue a word
// (so "DEV2" is not a version, "PROMO_V3" is).
var versionPattern = regexp.MustCompile(`(?:^|[^A-Z0-9])(V[0-9]+)`)

// numericPrefix matches "01_", "2-", "3 ", "04." style segment prefixes.
var numericPrefix = regexp.MustCompile(`^([0-9]{1,2})(?:[_\-. ]|$)`)

var phaseByNumber = map[int]string{
	1: PhasePre,
	2: PhaseShoot,
	3: PhasePost,
	4: PhaseFinal,
}

var phaseByKeyword = map[string]string{
	"PRE": PhasePre, "PREPRO": PhasePre, "PREPRODUCTION": PhasePre,
	"BRIEF": PhasePre, "PLANNING": PhasePre,

	"SHOOT": PhaseShoot, "PRODUCTION": PhaseShoot, "FOOTAGE": PhaseShoot,
	"RUSHES": PhaseShoot, "CAPTURE": PhaseShoot,

	"POST": PhasePost, "POSTPRODUCTION": PhasePost, "EDIT": PhasePost,
	"EDITS": PhasePost, "GRADE": PhasePost, "GRADING": PhasePost,

	"FINAL": PhaseFinal, "FINALS": PhaseFinal, "DELIVERY": PhaseFinal,
	"DELIVERIES": PhaseFinal, "DELIVERABLES": PhaseFinal, "EXPORTS": PhaseFinal,
	"MASTERS": PhaseFinal,
}

// Categorize classifies a file. filename is the leaf name; fullPath is the
// remote path including the filename.
func Categorize(filename, fullPath string) Result {
	label := VersionLabel(filename)

	category := extensionCategory(filename)
	if label != nil {
		switch *label {
		case LabelFinal, LabelExport:
			category = CategoryFinal
		case LabelGrade:
			category = CategoryGrade
		}
	}

	return Result{
		Category:     category,
		VersionLabel: label,
		FolderPhase:  FolderPhase(fullPath),
	}
}

// VersionLabel returns the label found in filename, or nil.
func VersionLabel(filename string) *string {
	upper := strings.ToUpper(filename)

	for _, l := range fixedLabels {
		if strings.Contains(upper, l) {
			label := l
			return &label
		}
	}

	if m := versionPattern.FindStringSubmatch(upper); m != nil {
		label := m[1]
		return &label
	}

	return nil
}

func extensionCategory(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))

	switch {
	case videoExts[ext]:
		return CategoryVideo
	case photoExts[ext]:
		return CategoryPhoto
	default:
		return CategoryDoc
	}
}

// FolderPhase infers the production phase from the directory segments of
// fullPath. The deepest matching segment wins; the filename is ignored.
func FolderPhase(fullPath string) string {
	dir := path.Dir(strings.ReplaceAll(fullPath, `\`, "/"))
	segments := strings.Split(dir, "/")

	for i := len(segments) - 1; i >= 0; i-- {
		if phase, ok := segmentPhase(segments[i]); ok {
			return phase
		}
	}

	return PhaseOther
}

func segmentPhase(segment string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(segment))
	if upper == "" || upper == "." {
		return "", false
	}

	if m := numericPrefix.FindStringSubmatch(upper); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			if phase, ok := phaseByNumber[n]; ok {
				return phase, true
			}
		}
	}

	tokens := strings.FieldsFunc(upper, func(r rune) bool {
		return (r < 'A' || r > 'Z') && (r < '0' || r > '9')
	})

	for _, tok := range tokens {
		if phase, ok := phaseByKeyword[tok]; ok {
			return phase, true
		}
	}

	return "", false
}

// mediaTypes pins the types of common production formats. The system MIME
// tables differ between hosts and often lack them.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".mxf":  "application/mxf",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".txt":  "text/plain; charset=utf-8",
}

// MimeType guesses a MIME type from the file extension, falling back to
// application/octet-stream.
func MimeType(filename string) string {
	ext := strings.ToLower(path.Ext(filename))

	if t, ok := mediaTypes[ext]; ok {
		return t
	}

	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}

	return "application/octet-stream"
}
