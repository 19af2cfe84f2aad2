package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/go-kit/log/level"
	"github.com/manifoldco/promptui"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/vyvo/appsvcbuild/pkg/app"
	"github.com/vyvo/appsvcbuild/pkg/config"
	"github.com/vyvo/appsvcbuild/pkg/github"
	"github.com/vyvo/appsvcbuild/pkg/keyvault"
	"github.com/vyvo/appsvcbuild/pkg/logging"
)

var (
	cleanupOlderThan time.Duration
	cleanupYes       bool
	cleanupDryRun    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete repositories and images left behind by unsaved runs",
	Long: `Delete the temporary output repositories and registry tags of runs that did
not save their artifacts. Temporary names end with a run tag, for example
python-3.7-20190601120000ab12 or python:3.7_20190601120000ab12.

Azure settings and secrets are read the same way the service reads them.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 24*time.Hour, "only delete artifacts whose run tag is older than this")
	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "do not ask for confirmation")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "list what would be deleted")
	rootCmd.AddCommand(cleanupCmd)
}

// runTagSuffix matches a name ending in -<tag> or _<tag>, where the tag is a
// UTC timestamp followed by four hex characters.
var runTagSuffix = regexp.MustCompile(`[-_]([0-9]{14})[0-9a-f]{4}$`)

// runTagTime returns when the run that produced name started.
func runTagTime(name string) (time.Time, bool) {
	m := runTagSuffix.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	at, err := time.Parse("20060102150405", m[1])
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

type repoStore interface {
	ListOrgRepos(ctx context.Context, org string) ([]string, error)
	DeleteRepo(ctx context.Context, org, name string) error
}

type imageStore interface {
	ListRepositories(ctx context.Context) ([]string, error)
	ListTags(ctx context.Context, repo string) ([]string, error)
	DeleteTag(ctx context.Context, repo, tag string) error
}

// staleItem is a temporary output repository (Tag empty) or registry tag.
type staleItem struct {
	Repo string
	Tag  string
}

func (s staleItem) String() string {
	if s.Tag == "" {
		return "repo  " + s.Repo
	}
	return "image " + s.Repo + ":" + s.Tag
}

// findStale lists the temporary artifacts of runs started before cutoff.
func findStale(ctx context.Context, repos repoStore, images imageStore, org string, cutoff time.Time) ([]staleItem, error) {
	var items []staleItem
	names, err := repos.ListOrgRepos(ctx, org)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if at, ok := runTagTime(name); ok && at.Before(cutoff) {
			items = append(items, staleItem{Repo: name})
		}
	}

	registryRepos, err := images.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, repo := range registryRepos {
		tags, err := images.ListTags(ctx, repo)
		if err != nil {
			return nil, err
		}
		for _, tag := range tags {
			if at, ok := runTagTime(tag); ok && at.Before(cutoff) {
				items = append(items, staleItem{Repo: repo, Tag: tag})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].String() < items[j].String() })
	return items, nil
}

// deleteStale removes items, reporting progress to bar. Failures are collected and
// do not stop the remaining deletions.
func deleteStale(ctx context.Context, repos repoStore, images imageStore, org string, items []staleItem, bar *progressbar.ProgressBar) []error {
	var errs []error
	for _, item := range items {
		var err error
		if item.Tag == "" {
			err = repos.DeleteRepo(ctx, org, item.Repo)
		} else {
			err = images.DeleteTag(ctx, item.Repo, item.Tag)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", item, err))
		}
		_ = bar.Add(1)
	}
	return errs
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.LoadPipeline()
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	env, err := app.NewEnv(cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	token, err := env.Secret(ctx, keyvault.SecretGitToken)
	if err != nil {
		return err
	}
	hub, err := github.NewClient(ctx, token, cfg.GitHubAPIURL)
	if err != nil {
		return err
	}
	registry, err := env.Registry()
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-cleanupOlderThan)
	items, err := findStale(ctx, hub, registry, cfg.OutputOrg, cutoff)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "nothing to clean up")
		return nil
	}
	for _, item := range items {
		fmt.Fprintln(out, item)
	}
	if cleanupDryRun {
		return nil
	}

	if !cleanupYes {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Delete %d artifacts from %s and %s", len(items), cfg.OutputOrg, registry.LoginServer()),
			IsConfirm: true,
		}
		if _, err := prompt.Run(); err != nil {
			if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
				fmt.Fprintln(out, "aborted")
				return nil
			}
			return err
		}
	}

	bar := progressbar.NewOptions(len(items),
		progressbar.OptionSetDescription("Deleting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	errs := deleteStale(ctx, hub, registry, cfg.OutputOrg, items, bar)
	for _, err := range errs {
		level.Error(logger).Log("msg", "cleanup failed", "err", err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d deletions failed", len(errs), len(items))
	}
	fmt.Fprintf(out, "deleted %d artifacts\n", len(items))
	return nil
}
