package ytdl_test

import (
	"path/filepath"
	"testing"

	"github.com/hbomb79/episodemux/internal/ytdl"
	"github.com/stretchr/testify/assert"
)

func Test_Args_CookieAuth(t *testing.T) {
	args := ytdl.Args(ytdl.Options{
		URL:       "https://example.com/show",
		Auth:      ytdl.Auth{Mode: ytdl.CookieAuth, CookiesFile: "/tmp/cookies.txt", UserAgent: "agent/1.0"},
		Chapter:   3,
		Subs:      ytdl.SubsAll,
		OutputDir: "/tmp/job",
	})

	assert.Equal(t, []string{
		"-f", "best",
		"--ignore-config",
		"--output", filepath.Join("/tmp/job", "%(title)s.%(ext)s"),
		"--cookies", "/tmp/cookies.txt",
		"--user-agent", "agent/1.0",
		"--playlist-items", "3",
		"--all-subs",
		"https://example.com/show",
	}, args)
}

func Test_Args_PasswordAuth(t *testing.T) {
	auth := ytdl.Auth{Mode: ytdl.PasswordAuth, Username: "user", Password: "hunter2", CookiesFile: "/ignored"}
	args := ytdl.Args(ytdl.Options{URL: "https://example.com/show", Quality: "worst", Auth: auth, Chapter: 1, Subs: "esLA,enUS"})

	assert.Equal(t, []string{"-f", "worst"}, args[:2])
	assert.Contains(t, args, "--username")
	assert.Contains(t, args, "hunter2")
	assert.NotContains(t, args, "--cookies", "cookie flags must not be passed in password mode")
	assert.Equal(t, []string{"--sub-lang", "esLA,enUS", "https://example.com/show"}, args[len(args)-3:])
	assert.Equal(t, []string{"hunter2"}, auth.Secrets())
}

func Test_Args_OptionalParts(t *testing.T) {
	args := ytdl.Args(ytdl.Options{URL: "https://example.com/show", Subs: ytdl.SubsNone})

	assert.NotContains(t, args, "--playlist-items", "chapter 0 must not be passed")
	assert.NotContains(t, args, "--all-subs")
	assert.NotContains(t, args, "--sub-lang")
	assert.NotContains(t, args, "--cookies", "empty cookie file must be omitted")
	assert.NotContains(t, args, "--user-agent", "empty user agent must be omitted")
	assert.Equal(t, "https://example.com/show", args[len(args)-1])
	assert.Nil(t, ytdl.Auth{Mode: ytdl.CookieAuth}.Secrets())
}
