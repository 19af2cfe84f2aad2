package buildrequest

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTemplateOrg  = "Azure-App-Service"
	DefaultOutputOrg    = "blessedimagepipeline"
	DefaultRegistryHost = "appsvcbuildacr.azurecr.io"
	DefaultEmail        = "appsvcbuild@vyvo.dev"
	DefaultBranch       = "master"
	kuduDefaultVersion  = "0"
)

// Resolver fills the optional fields of a BuildRequest from naming conventions.
type Resolver struct {
	TemplateOrg  string
	OutputOrg    string
	RegistryHost string
	Email        string
	// NewTag returns the random suffix used when artifacts are not saved.
	NewTag func() string
}

// NewResolver returns a Resolver with the canonical organisations and registry.
func NewResolver() *Resolver {
	return &Resolver{
		TemplateOrg:  DefaultTemplateOrg,
		OutputOrg:    DefaultOutputOrg,
		RegistryHost: DefaultRegistryHost,
		Email:        DefaultEmail,
		NewTag:       NewRunTag,
	}
}

// NewRunTag returns a timestamped tag with a short random part so concurrent runs of
// the same stack version never share names.
func NewRunTag() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return time.Now().UTC().Format("20060102150405") + id[:4]
}

// Resolve populates every unset field of r in place. Fields that are already set are
// never overwritten, so resolving twice yields the same request.
func (res *Resolver) Resolve(r *BuildRequest) error {
	if strings.TrimSpace(r.Stack) == "" {
		return &MissingFieldError{Field: "stack"}
	}
	stack, err := ParseStack(r.Stack)
	if err != nil {
		return err
	}
	r.Stack = string(stack)

	if r.Version == "" {
		if stack != StackKudu {
			return &MissingFieldError{Field: "version"}
		}
		r.Version = kuduDefaultVersion
	}
	if r.Tries <= 0 {
		r.Tries = DefaultTries(stack)
	}
	if r.SaveArtifacts == nil {
		r.SaveArtifacts = Bool(true)
	}
	if !r.Saved() && r.RunTag == "" {
		r.RunTag = res.newTag()
	}
	setDefault(&r.Email, res.email())

	n := names{stack: stack, version: r.Version, tag: r.RunTag, saved: r.Saved()}

	// ruby's hosting-start image is built on top of its base image, so the base group comes first.
	if HasArtifact(stack, KindBase) {
		if err := res.resolveRubyBase(r, n); err != nil {
			return err
		}
	}
	if err := res.resolveMain(r, n); err != nil {
		return err
	}
	if HasArtifact(stack, KindDebug) {
		res.resolveXdebug(r, n)
	}
	if HasArtifact(stack, KindApp) {
		res.resolveTest(r, n)
	}
	return nil
}

func (res *Resolver) resolveMain(r *BuildRequest, n names) error {
	setDefault(&r.TemplateRepoURL, res.templateRepoURL(string(n.stack)))
	setRepoParts(r.TemplateRepoURL, &r.TemplateRepoOrgName, &r.TemplateRepoName)
	setDefault(&r.TemplateRepoBranchName, DefaultBranch)
	if r.TemplateName == "" {
		name, err := TemplateName(n.stack, n.version)
		if err != nil {
			return err
		}
		r.TemplateName = name
	}
	if n.stack == StackRuby {
		setDefault(&r.BaseImageName, res.registryImage(r.RubyBaseOutputImageName))
	} else {
		setDefault(&r.BaseImageName, fmt.Sprintf("mcr.microsoft.com/oryx/%s-%s:latest", n.stack, n.version))
	}
	setDefault(&r.OutputRepoURL, res.outputRepoURL(n.repo(string(n.stack))))
	setRepoParts(r.OutputRepoURL, &r.OutputRepoOrgName, &r.OutputRepoName)
	setDefault(&r.OutputRepoBranchName, DefaultBranch)
	setDefault(&r.OutputImageName, n.image(string(n.stack)))
	setDefault(&r.WebAppName, n.site("hostingstart"))
	setDefault(&r.PlanName, fmt.Sprintf("appsvcbuild-%s-plan", n.stack))
	return nil
}

func (res *Resolver) resolveXdebug(r *BuildRequest, n names) {
	setDefault(&r.XdebugTemplateRepoURL, res.templateRepoURL(string(n.stack)+"-xdebug"))
	setRepoParts(r.XdebugTemplateRepoURL, &r.XdebugTemplateRepoOrgName, &r.XdebugTemplateRepoName)
	setDefault(&r.XdebugTemplateRepoBranchName, DefaultBranch)
	setDefault(&r.XdebugTemplateName, r.TemplateName)
	setDefault(&r.XdebugBaseImageName, res.registryImage(r.OutputImageName))
	setDefault(&r.XdebugOutputRepoURL, res.outputRepoURL(n.repo(string(n.stack)+"-xdebug")))
	setRepoParts(r.XdebugOutputRepoURL, &r.XdebugOutputRepoOrgName, &r.XdebugOutputRepoName)
	setDefault(&r.XdebugOutputRepoBranchName, DefaultBranch)
	setDefault(&r.XdebugOutputImageName, n.image(string(n.stack)+"-xdebug"))
}

func (res *Resolver) resolveTest(r *BuildRequest, n names) {
	setDefault(&r.TestTemplateRepoURL, res.templateRepoURL(string(n.stack)+"app"))
	setRepoParts(r.TestTemplateRepoURL, &r.TestTemplateRepoOrgName, &r.TestTemplateRepoName)
	setDefault(&r.TestTemplateRepoBranchName, DefaultBranch)
	setDefault(&r.TestTemplateName, r.TemplateName)
	setDefault(&r.TestBaseImageName, res.registryImage(r.OutputImageName))
	setDefault(&r.TestOutputRepoURL, res.outputRepoURL(n.repo(string(n.stack)+"app")))
	setRepoParts(r.TestOutputRepoURL, &r.TestOutputRepoOrgName, &r.TestOutputRepoName)
	setDefault(&r.TestOutputRepoBranchName, DefaultBranch)
	setDefault(&r.TestOutputImageName, n.image(string(n.stack)+"app"))
	setDefault(&r.TestWebAppName, n.site("app"))
	setDefault(&r.TestPlanName, fmt.Sprintf("appsvcbuild-%s-app-plan", n.stack))
}

func (res *Resolver) resolveRubyBase(r *BuildRequest, n names) error {
	if r.RubyBaseTemplateName == "" {
		name := r.TemplateName
		if name == "" {
			var err error
			if name, err = TemplateName(n.stack, n.version); err != nil {
				return err
			}
		}
		r.RubyBaseTemplateName = path.Join(name, "base_images")
	}
	setDefault(&r.RubyBaseOutputRepoURL, res.outputRepoURL(n.repo(string(n.stack)+"base")))
	setRepoParts(r.RubyBaseOutputRepoURL, &r.RubyBaseOutputRepoOrgName, &r.RubyBaseOutputRepoName)
	setDefault(&r.RubyBaseOutputRepoBranchName, DefaultBranch)
	setDefault(&r.RubyBaseOutputImageName, n.image(string(n.stack)+"base"))
	return nil
}

func (res *Resolver) templateRepoURL(name string) string {
	org := res.TemplateOrg
	if org == "" {
		org = DefaultTemplateOrg
	}
	return fmt.Sprintf("https://github.com/%s/%s-template.git", org, name)
}

func (res *Resolver) outputRepoURL(name string) string {
	org := res.OutputOrg
	if org == "" {
		org = DefaultOutputOrg
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", org, name)
}

// registryImage qualifies an image name with the registry login server.
func (res *Resolver) registryImage(image string) string {
	host := res.RegistryHost
	if host == "" {
		host = DefaultRegistryHost
	}
	return host + "/" + image
}

func (res *Resolver) email() string {
	if res.Email == "" {
		return DefaultEmail
	}
	return res.Email
}

func (res *Resolver) newTag() string {
	if res.NewTag == nil {
		return NewRunTag()
	}
	return res.NewTag()
}

// names builds the per-run naming templates.
type names struct {
	stack   Stack
	version string
	tag     string
	saved   bool
}

// repo returns <prefix>-<version>[-<tag>].
func (n names) repo(prefix string) string {
	name := fmt.Sprintf("%s-%s", prefix, n.version)
	if !n.saved {
		name += "-" + n.tag
	}
	return name
}

// image returns <prefix>:<version>[_<tag>].
func (n names) image(prefix string) string {
	name := fmt.Sprintf("%s:%s", prefix, n.version)
	if !n.saved {
		name += "_" + n.tag
	}
	return name
}

// site returns appsvcbuild-<stack>-<kind>-<version-with-dashes>[-<tag>].
func (n names) site(kind string) string {
	name := fmt.Sprintf("appsvcbuild-%s-%s-%s", n.stack, kind, VersionDash(n.version))
	if !n.saved {
		name += "-" + n.tag
	}
	return name
}

// VersionDash replaces dots so a version can be used in DNS-style names.
func VersionDash(version string) string {
	return strings.ReplaceAll(version, ".", "-")
}

// RepoParts splits a repository URL into organisation and name, stripping a trailing .git.
func RepoParts(url string) (org, name string) {
	parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
	name = strings.TrimSuffix(parts[len(parts)-1], ".git")
	if len(parts) > 1 {
		org = parts[len(parts)-2]
	}
	return org, name
}

func setRepoParts(url string, org, name *string) {
	o, n := RepoParts(url)
	setDefault(org, o)
	setDefault(name, n)
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
