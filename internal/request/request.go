// Package request describes the download requests accepted by episodemux and
// decodes them from the loosely typed entries of a requests file.
package request

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type (
	// Request asks for one chapter, or an inclusive range of chapters, of a show to be
	// downloaded. Exactly one of Chapter or From/To is expected to be set; requests
	// with neither produce no work.
	Request struct {
		URL        string `mapstructure:"url" validate:"required,url"`
		DefaultSub string `mapstructure:"default_sub"`
		Season     int    `mapstructure:"season" validate:"min=0"`
		Chapter    *int   `mapstructure:"chapter" validate:"omitempty,min=0"`
		From       *int   `mapstructure:"from" validate:"omitempty,min=0"`
		To         *int   `mapstructure:"to" validate:"omitempty,min=0"`
	}

	// Defaults are applied to any request entry which omits the field.
	Defaults struct {
		DefaultSub string
		Season     int
	}

	file struct {
		Downloads []map[string]any `yaml:"downloads"`
	}
)

var ErrNoDownloads = errors.New("requests file contains no downloads")

// IsRange returns true if this request specifies a chapter range rather than a single chapter.
func (r Request) IsRange() bool {
	return r.Chapter == nil && r.From != nil && r.To != nil
}

func (r Request) String() string {
	switch {
	case r.Chapter != nil:
		return fmt.Sprintf("{url=%s season=%d chapter=%d sub=%s}", r.URL, r.Season, *r.Chapter, r.DefaultSub)
	case r.IsRange():
		return fmt.Sprintf("{url=%s season=%d chapters=%d..%d sub=%s}", r.URL, r.Season, *r.From, *r.To, r.DefaultSub)
	default:
		return fmt.Sprintf("{url=%s season=%d sub=%s}", r.URL, r.Season, r.DefaultSub)
	}
}

// New builds a single-chapter request using the defaults given.
func New(url string, chapter int, defaults Defaults) Request {
	return Request{URL: url, DefaultSub: defaults.DefaultSub, Season: defaults.Season, Chapter: &chapter}
}

// NewRange builds an inclusive chapter range request using the defaults given.
func NewRange(url string, from int, to int, defaults Defaults) Request {
	return Request{URL: url, DefaultSub: defaults.DefaultSub, Season: defaults.Season, From: &from, To: &to}
}

// Decode converts the loosely typed entries (as found in a requests file) in to
// requests. Fields missing from an entry are taken from the defaults. Numeric
// fields may be given as strings. Unknown keys are rejected so that typos
// (e.g. 'form' instead of 'from') do not silently drop work.
func Decode(entries []map[string]any, defaults Defaults) ([]Request, error) {
	requests := make([]Request, 0, len(entries))
	for i, entry := range entries {
		req := Request{DefaultSub: defaults.DefaultSub, Season: defaults.Season}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &req,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, err
		}

		if err := decoder.Decode(entry); err != nil {
			return nil, fmt.Errorf("download #%d is malformed: %w", i+1, err)
		}

		if err := Validate(req); err != nil {
			return nil, fmt.Errorf("download #%d is invalid: %w", i+1, err)
		}

		requests = append(requests, req)
	}

	return requests, nil
}

// LoadFile reads the YAML requests file at the path provided and decodes
// its 'downloads' list.
func LoadFile(path string, defaults Defaults) ([]Request, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read requests file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse requests file %s: %w", path, err)
	}

	if len(f.Downloads) == 0 {
		return nil, ErrNoDownloads
	}

	return Decode(f.Downloads, defaults)
}

// Validate checks the structural validity of a request. A request which specifies
// neither a chapter nor a range is still valid, it simply produces no jobs.
func Validate(req Request) error {
	return validate.Struct(req)
}
