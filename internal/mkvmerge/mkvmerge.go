// Package mkvmerge builds command lines for the mkvmerge muxer, and inspects a
// download directory to find the media and subtitle files to be muxed.
package mkvmerge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultTrack    = "--default-track"
	Language        = "--language"
	Output          = "--output"
	TrackName       = "--track-name"
	Extension       = ".mkv"
	SourceLanguage  = "jpn"
	UndeterminedTag = "und"
)

var (
	// SupportedExtensions lists the media extensions we look for after a download, in
	// priority order.
	SupportedExtensions = []string{"flv", "mp4", "ogg", "webm"}

	subtitleExtensions = []string{"ass", "srt"}

	// languageCodes maps the subtitle suffixes written by the downloader to
	// ISO 639-2 codes understood by mkvmerge.
	languageCodes = map[string]string{
		"frFR": "fre",
		"itIT": "ita",
		"esLA": "spa",
		"enUS": "eng",
		"esES": "spa",
		"deDE": "ger",
		"arME": "ara",
		"ptBR": "por",
	}

	episodeMarker = regexp.MustCompile(`(?i)^(.+) Episodio (\d{1,3})(?:(?: [–-] )*(.+))?$`)

	ErrNoMedia = errors.New("no supported media file found")
)

type (
	Subtitle struct {
		Path     string
		Suffix   string
		Language string
	}

	// Options describes a single mux of a downloaded episode.
	Options struct {
		MediaPath  string
		OutputDir  string
		Season     int
		DefaultSub string
	}
)

// FindMedia returns the primary media file inside of the directory provided. Each
// supported extension is checked in priority order, and the first extension with a
// match wins; within an extension the lexically first file is used.
func FindMedia(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read download directory: %w", err)
	}

	for _, ext := range SupportedExtensions {
		suffix := "." + ext
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
				return filepath.Join(dir, entry.Name()), nil
			}
		}
	}

	return "", fmt.Errorf("%w in %s", ErrNoMedia, dir)
}

// FindSubtitles returns every subtitle sibling of the media file provided, sorted
// by path. A sibling must be named '<media base>.<suffix>.<ass|srt>' where the
// suffix is a single, non-empty, dot-free language tag.
func FindSubtitles(mediaPath string) ([]Subtitle, error) {
	dir := filepath.Dir(mediaPath)
	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read download directory: %w", err)
	}

	subtitles := make([]Subtitle, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		suffix, ok := subtitleSuffix(entry.Name(), base)
		if !ok {
			continue
		}

		subtitles = append(subtitles, Subtitle{
			Path:     filepath.Join(dir, entry.Name()),
			Suffix:   suffix,
			Language: LanguageCode(suffix),
		})
	}

	sort.Slice(subtitles, func(i, j int) bool { return subtitles[i].Path < subtitles[j].Path })
	return subtitles, nil
}

func subtitleSuffix(name string, base string) (string, bool) {
	rest, found := strings.CutPrefix(name, base+".")
	if !found {
		return "", false
	}

	suffix, ext, found := strings.Cut(rest, ".")
	if !found || suffix == "" || strings.Contains(ext, ".") {
		return "", false
	}

	for _, allowed := range subtitleExtensions {
		if ext == allowed {
			return suffix, true
		}
	}

	return "", false
}

// LanguageCode maps a subtitle suffix (e.g. 'esLA') to its three letter language
// code, or 'und' if the suffix is not known.
func LanguageCode(suffix string) string {
	if code, ok := languageCodes[suffix]; ok {
		return code
	}

	return UndeterminedTag
}

// RenameEpisode rewrites an 'Episodio N' marker in the name provided to an
// 'SxxEyy' marker, using the season given and the episode number from the name.
// Names without the marker are returned unchanged.
func RenameEpisode(name string, season int) string {
	groups := episodeMarker.FindStringSubmatch(name)
	if groups == nil {
		return name
	}

	episode, err := strconv.Atoi(groups[2])
	if err != nil {
		return name
	}

	renamed := fmt.Sprintf("%s - S%02dE%02d", groups[1], season, episode)
	if groups[3] != "" {
		renamed += " - " + groups[3]
	}

	return renamed
}

// OutputPath returns the path of the muxed file for the media provided.
func OutputPath(opts Options) string {
	base := strings.TrimSuffix(filepath.Base(opts.MediaPath), filepath.Ext(opts.MediaPath))
	return filepath.Join(opts.OutputDir, RenameEpisode(base, opts.Season)+Extension)
}

// Args builds the mkvmerge arguments to mux the media and subtitles provided in
// to a single file, returning the arguments and the path of the file which will
// be produced.
func Args(opts Options, subtitles []Subtitle) ([]string, string) {
	outputPath := OutputPath(opts)
	args := []string{
		Output, outputPath,
		Language, "0:" + SourceLanguage,
		Language, "1:" + SourceLanguage,
		opts.MediaPath,
	}

	for _, sub := range subtitles {
		args = append(args, Language, "0:"+sub.Language, TrackName, "0:"+sub.Suffix)
		if sub.Suffix == opts.DefaultSub {
			args = append(args, DefaultTrack, "0:yes")
		}
		args = append(args, sub.Path)
	}

	return args, outputPath
}
