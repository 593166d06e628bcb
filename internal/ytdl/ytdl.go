// Package ytdl builds command lines for a youtube-dl compatible downloader.
package ytdl

import (
	"path/filepath"
	"strconv"
)

const (
	AllSubs        = "--all-subs"
	Cookies        = "--cookies"
	Format         = "-f"
	IgnoreConfig   = "--ignore-config"
	Output         = "--output"
	Password       = "--password"
	PlaylistItems  = "--playlist-items"
	SubLang        = "--sub-lang"
	UserAgent      = "--user-agent"
	Username       = "--username"
	OutputTemplate = "%(title)s.%(ext)s"
	SubsAll        = "all"
	SubsNone       = "none"
	DefaultQuality = "best"
	CookieAuth     = AuthMode("cookie")
	PasswordAuth   = AuthMode("password")
)

type (
	AuthMode string

	// Auth holds the credentials passed through to the downloader. The two modes
	// are mutually exclusive: cookie mode passes the cookie file and user agent
	// (either may be empty), password mode passes the username and password.
	Auth struct {
		Mode        AuthMode `yaml:"mode" env:"EPISODEMUX_AUTH_MODE" env-default:"cookie" validate:"oneof=cookie password"`
		CookiesFile string   `yaml:"cookies_file" env:"EPISODEMUX_COOKIES_FILE"`
		UserAgent   string   `yaml:"user_agent" env:"EPISODEMUX_USER_AGENT"`
		Username    string   `yaml:"username" env:"EPISODEMUX_USERNAME" validate:"required_if=Mode password"`
		Password    string   `yaml:"password" env:"EPISODEMUX_PASSWORD" validate:"required_if=Mode password"`
	}

	// Options describes a single download.
	Options struct {
		URL       string
		Quality   string
		Auth      Auth
		Chapter   int
		Subs      string
		OutputDir string
	}
)

// Args builds the downloader arguments for the options provided. The chapter is
// only passed when positive, and the subtitle selection is omitted entirely
// when Subs is empty or 'none'.
func Args(opts Options) []string {
	quality := opts.Quality
	if quality == "" {
		quality = DefaultQuality
	}

	args := []string{Format, quality, IgnoreConfig, Output, filepath.Join(opts.OutputDir, OutputTemplate)}
	args = append(args, authArgs(opts.Auth)...)

	if opts.Chapter > 0 {
		args = append(args, PlaylistItems, strconv.Itoa(opts.Chapter))
	}

	switch opts.Subs {
	case "", SubsNone:
	case SubsAll:
		args = append(args, AllSubs)
	default:
		args = append(args, SubLang, opts.Subs)
	}

	return append(args, opts.URL)
}

func authArgs(auth Auth) []string {
	args := make([]string, 0, 4)
	switch auth.Mode {
	case PasswordAuth:
		if auth.Username != "" {
			args = append(args, Username, auth.Username)
		}
		if auth.Password != "" {
			args = append(args, Password, auth.Password)
		}
	default:
		if auth.CookiesFile != "" {
			args = append(args, Cookies, auth.CookiesFile)
		}
		if auth.UserAgent != "" {
			args = append(args, UserAgent, auth.UserAgent)
		}
	}

	return args
}

// Secrets returns the values from the auth which must not be written to logs.
func (auth Auth) Secrets() []string {
	if auth.Mode == PasswordAuth && auth.Password != "" {
		return []string{auth.Password}
	}

	return nil
}
