package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepos struct {
	names   []string
	deleted []string
}

func (f *fakeRepos) ListOrgRepos(context.Context, string) ([]string, error) { return f.names, nil }
func (f *fakeRepos) DeleteRepo(_ context.Context, _, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

type fakeImages struct {
	tags    map[string][]string
	failOn  string
	deleted []string
}

func (f *fakeImages) ListRepositories(context.Context) ([]string, error) {
	var repos []string
	for r := range f.tags {
		repos = append(repos, r)
	}
	return repos, nil
}
func (f *fakeImages) ListTags(_ context.Context, repo string) ([]string, error) {
	return f.tags[repo], nil
}
func (f *fakeImages) DeleteTag(_ context.Context, repo, tag string) error {
	if tag == f.failOn {
		return errors.New("locked")
	}
	f.deleted = append(f.deleted, repo+":"+tag)
	return nil
}

func TestRunTagTime(t *testing.T) {
	at, ok := runTagTime("python-3.7-20190601120000ab12")
	require.True(t, ok)
	assert.Equal(t, time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC), at)

	_, ok = runTagTime("3.7_20190601120000ab12")
	assert.True(t, ok)

	for _, name := range []string{"python-3.7", "3.7", "latest", "python-3.7-2019", "node-10.14-20190601120000AB12"} {
		_, ok := runTagTime(name)
		assert.False(t, ok, name)
	}
}

func TestFindStaleAndDelete(t *testing.T) {
	repos := &fakeRepos{names: []string{
		"python-3.7",
		"python-3.7-20190601120000ab12",
		"php-7.3-20190602110000cd34",
	}}
	images := &fakeImages{tags: map[string][]string{
		"python": {"3.7", "3.7_20190601120000ab12"},
		"php":    {"7.3_20190602110000cd34", "7.2_20190530000000ffff"},
	}}
	cutoff := time.Date(2019, 6, 2, 0, 0, 0, 0, time.UTC)

	items, err := findStale(context.Background(), repos, images, "blessedimagepipeline", cutoff)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "image php:7.2_20190530000000ffff", items[0].String())
	assert.Equal(t, "image python:3.7_20190601120000ab12", items[1].String())
	assert.Equal(t, "repo  python-3.7-20190601120000ab12", items[2].String())

	images.failOn = "7.2_20190530000000ffff"
	bar := progressbar.NewOptions(len(items), progressbar.OptionSetWriter(io.Discard))
	errs := deleteStale(context.Background(), repos, images, "blessedimagepipeline", items, bar)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "locked")
	assert.Equal(t, []string{"python-3.7-20190601120000ab12"}, repos.deleted)
	assert.Equal(t, []string{"python:3.7_20190601120000ab12"}, images.deleted)
}
