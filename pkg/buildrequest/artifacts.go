package buildrequest

import (
	"fmt"
	"path"
)

// ArtifactKind names one buildable output of a request.
type ArtifactKind string

const (
	KindBase  ArtifactKind = "base"
	KindMain  ArtifactKind = "main"
	KindDebug ArtifactKind = "debug"
	KindApp   ArtifactKind = "app"
)

// plans lists, per stack, the artifacts to produce in build order.
var plans = map[Stack][]ArtifactKind{
	StackNode:       {KindMain, KindApp},
	StackPHP:        {KindMain, KindDebug, KindApp},
	StackPython:     {KindMain, KindApp},
	StackRuby:       {KindBase, KindMain},
	StackDotnetcore: {KindMain},
	StackKudu:       {KindMain},
}

// Plan returns the ordered artifact kinds of a stack.
func Plan(stack Stack) []ArtifactKind {
	return append([]ArtifactKind(nil), plans[stack]...)
}

// HasArtifact reports whether stack builds an artifact of the given kind.
func HasArtifact(stack Stack, kind ArtifactKind) bool {
	for _, k := range plans[stack] {
		if k == kind {
			return true
		}
	}
	return false
}

// RepoRef points at a branch of a hosted git repository.
type RepoRef struct {
	URL    string
	Org    string
	Name   string
	Branch string
}

func (r RepoRef) String() string {
	return r.Org + "/" + r.Name + "@" + r.Branch
}

// LineEdit replaces a 1-indexed line of the Dockerfile.
type LineEdit struct {
	Line int
	Text string
}

// Artifact is a fully resolved description of one image to build and optionally host.
type Artifact struct {
	Kind           ArtifactKind
	TemplateRepo   RepoRef
	TemplateSubdir string
	OutputRepo     RepoRef
	OutputImage    string
	BaseImage      string
	Edits          []LineEdit
	TaskName       string
	WebApp         string
	PlanName       string
	Hosted         bool
}

// Artifacts expands a resolved request into its stack's ArtifactPlan.
func (r *BuildRequest) Artifacts() []Artifact {
	stack := r.StackName()
	var out []Artifact
	for _, kind := range plans[stack] {
		switch kind {
		case KindBase:
			out = append(out, r.baseArtifact())
		case KindMain:
			out = append(out, r.mainArtifact())
		case KindDebug:
			out = append(out, r.debugArtifact())
		case KindApp:
			out = append(out, r.appArtifact())
		}
	}
	return out
}

func (r *BuildRequest) mainArtifact() Artifact {
	stack := r.StackName()
	a := Artifact{
		Kind: KindMain,
		TemplateRepo: RepoRef{
			URL: r.TemplateRepoURL, Org: r.TemplateRepoOrgName,
			Name: r.TemplateRepoName, Branch: r.TemplateRepoBranchName,
		},
		TemplateSubdir: r.TemplateName,
		OutputRepo: RepoRef{
			URL: r.OutputRepoURL, Org: r.OutputRepoOrgName,
			Name: r.OutputRepoName, Branch: r.OutputRepoBranchName,
		},
		OutputImage: r.OutputImageName,
		BaseImage:   r.BaseImageName,
		TaskName:    r.taskName("hostingstart"),
		WebApp:      r.WebAppName,
		PlanName:    r.PlanName,
		Hosted:      stack != StackKudu,
	}
	switch stack {
	case StackKudu:
		a.BaseImage = ""
	case StackPHP:
		a.Edits = []LineEdit{
			{Line: 1, Text: "FROM " + r.BaseImageName},
			{Line: 4, Text: "ENV PHP_VERSION " + r.Version},
		}
	case StackRuby:
		a.TemplateSubdir = path.Join(r.TemplateName, "main_images")
		a.Edits = []LineEdit{
			{Line: 1, Text: "FROM " + r.BaseImageName},
			{Line: 4, Text: fmt.Sprintf("RUN export RUBY_VERSION=%q", r.Version)},
		}
	default:
		a.Edits = []LineEdit{{Line: 1, Text: "FROM " + r.BaseImageName}}
	}
	return a
}

func (r *BuildRequest) debugArtifact() Artifact {
	return Artifact{
		Kind: KindDebug,
		TemplateRepo: RepoRef{
			URL: r.XdebugTemplateRepoURL, Org: r.XdebugTemplateRepoOrgName,
			Name: r.XdebugTemplateRepoName, Branch: r.XdebugTemplateRepoBranchName,
		},
		TemplateSubdir: r.XdebugTemplateName,
		OutputRepo: RepoRef{
			URL: r.XdebugOutputRepoURL, Org: r.XdebugOutputRepoOrgName,
			Name: r.XdebugOutputRepoName, Branch: r.XdebugOutputRepoBranchName,
		},
		OutputImage: r.XdebugOutputImageName,
		BaseImage:   r.XdebugBaseImageName,
		Edits:       []LineEdit{{Line: 1, Text: "FROM " + r.XdebugBaseImageName}},
		TaskName:    r.taskName("xdebug"),
	}
}

func (r *BuildRequest) appArtifact() Artifact {
	return Artifact{
		Kind: KindApp,
		TemplateRepo: RepoRef{
			URL: r.TestTemplateRepoURL, Org: r.TestTemplateRepoOrgName,
			Name: r.TestTemplateRepoName, Branch: r.TestTemplateRepoBranchName,
		},
		TemplateSubdir: r.TestTemplateName,
		OutputRepo: RepoRef{
			URL: r.TestOutputRepoURL, Org: r.TestOutputRepoOrgName,
			Name: r.TestOutputRepoName, Branch: r.TestOutputRepoBranchName,
		},
		OutputImage: r.TestOutputImageName,
		BaseImage:   r.TestBaseImageName,
		Edits:       []LineEdit{{Line: 1, Text: "FROM " + r.TestBaseImageName}},
		TaskName:    r.taskName("app"),
		WebApp:      r.TestWebAppName,
		PlanName:    r.TestPlanName,
		Hosted:      true,
	}
}

// The ruby base image is built from the main template repository.
func (r *BuildRequest) baseArtifact() Artifact {
	return Artifact{
		Kind: KindBase,
		TemplateRepo: RepoRef{
			URL: r.TemplateRepoURL, Org: r.TemplateRepoOrgName,
			Name: r.TemplateRepoName, Branch: r.TemplateRepoBranchName,
		},
		TemplateSubdir: r.RubyBaseTemplateName,
		OutputRepo: RepoRef{
			URL: r.RubyBaseOutputRepoURL, Org: r.RubyBaseOutputRepoOrgName,
			Name: r.RubyBaseOutputRepoName, Branch: r.RubyBaseOutputRepoBranchName,
		},
		OutputImage: r.RubyBaseOutputImageName,
		Edits:       []LineEdit{{Line: 4, Text: fmt.Sprintf("ENV RUBY_VERSION=%q", r.Version)}},
		TaskName:    r.taskName("base"),
	}
}

// taskName returns appsvcbuild-<stack>-<kind>-<version-with-dashes>[-<tag>]-task.
func (r *BuildRequest) taskName(kind string) string {
	name := fmt.Sprintf("appsvcbuild-%s-%s-%s", r.StackName(), kind, VersionDash(r.Version))
	if !r.Saved() && r.RunTag != "" {
		name += "-" + r.RunTag
	}
	return name + "-task"
}
