package buildrequest

import "strings"

// Stack identifies a supported language runtime.
type Stack string

const (
	StackNode       Stack = "node"
	StackPHP        Stack = "php"
	StackPython     Stack = "python"
	StackRuby       Stack = "ruby"
	StackDotnetcore Stack = "dotnetcore"
	StackKudu       Stack = "kudu"
)

// Stacks lists every supported stack in a stable order.
var Stacks = []Stack{StackNode, StackPHP, StackPython, StackRuby, StackDotnetcore, StackKudu}

// ParseStack lower-cases s and checks it against the supported stacks.
func ParseStack(s string) (Stack, error) {
	stack := Stack(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Stacks {
		if stack == known {
			return stack, nil
		}
	}
	return stack, &UnsupportedStackError{Stack: s}
}

// Title returns the display name used in notifications, e.g. "Php".
func (s Stack) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// BuildRequest is one unit of work: a stack version and every artifact derived from it.
// Only Stack and Version are required; Resolve fills in everything else.
type BuildRequest struct {
	Stack         string `json:"stack" yaml:"stack"`
	Version       string `json:"version" yaml:"version"`
	Tries         int    `json:"tries,omitempty" yaml:"tries,omitempty"`
	SaveArtifacts *bool  `json:"saveArtifacts,omitempty" yaml:"saveArtifacts,omitempty"`
	UseCache      bool   `json:"useCache,omitempty" yaml:"useCache,omitempty"`
	RunTag        string `json:"runTag,omitempty" yaml:"runTag,omitempty"`
	Email         string `json:"email,omitempty" yaml:"email,omitempty"`

	// hosting-start image
	TemplateRepoURL        string `json:"templateRepoURL,omitempty" yaml:"templateRepoURL,omitempty"`
	TemplateRepoOrgName    string `json:"templateRepoOrgName,omitempty" yaml:"templateRepoOrgName,omitempty"`
	TemplateRepoName       string `json:"templateRepoName,omitempty" yaml:"templateRepoName,omitempty"`
	TemplateRepoBranchName string `json:"templateRepoBranchName,omitempty" yaml:"templateRepoBranchName,omitempty"`
	TemplateName           string `json:"templateName,omitempty" yaml:"templateName,omitempty"`
	BaseImageName          string `json:"baseImageName,omitempty" yaml:"baseImageName,omitempty"`
	OutputRepoURL          string `json:"outputRepoURL,omitempty" yaml:"outputRepoURL,omitempty"`
	OutputRepoOrgName      string `json:"outputRepoOrgName,omitempty" yaml:"outputRepoOrgName,omitempty"`
	OutputRepoName         string `json:"outputRepoName,omitempty" yaml:"outputRepoName,omitempty"`
	OutputRepoBranchName   string `json:"outputRepoBranchName,omitempty" yaml:"outputRepoBranchName,omitempty"`
	OutputImageName        string `json:"outputImageName,omitempty" yaml:"outputImageName,omitempty"`
	WebAppName             string `json:"webAppName,omitempty" yaml:"webAppName,omitempty"`
	PlanName               string `json:"planName,omitempty" yaml:"planName,omitempty"`

	// php xdebug variant
	XdebugTemplateRepoURL        string `json:"xdebugTemplateRepoURL,omitempty" yaml:"xdebugTemplateRepoURL,omitempty"`
	XdebugTemplateRepoOrgName    string `json:"xdebugTemplateRepoOrgName,omitempty" yaml:"xdebugTemplateRepoOrgName,omitempty"`
	XdebugTemplateRepoName       string `json:"xdebugTemplateRepoName,omitempty" yaml:"xdebugTemplateRepoName,omitempty"`
	XdebugTemplateRepoBranchName string `json:"xdebugTemplateRepoBranchName,omitempty" yaml:"xdebugTemplateRepoBranchName,omitempty"`
	XdebugTemplateName           string `json:"xdebugTemplateName,omitempty" yaml:"xdebugTemplateName,omitempty"`
	XdebugBaseImageName          string `json:"xdebugBaseImageName,omitempty" yaml:"xdebugBaseImageName,omitempty"`
	XdebugOutputRepoURL          string `json:"xdebugOutputRepoURL,omitempty" yaml:"xdebugOutputRepoURL,omitempty"`
	XdebugOutputRepoOrgName      string `json:"xdebugOutputRepoOrgName,omitempty" yaml:"xdebugOutputRepoOrgName,omitempty"`
	XdebugOutputRepoName         string `json:"xdebugOutputRepoName,omitempty" yaml:"xdebugOutputRepoName,omitempty"`
	XdebugOutputRepoBranchName   string `json:"xdebugOutputRepoBranchName,omitempty" yaml:"xdebugOutputRepoBranchName,omitempty"`
	XdebugOutputImageName        string `json:"xdebugOutputImageName,omitempty" yaml:"xdebugOutputImageName,omitempty"`

	// app test image
	TestTemplateRepoURL        string `json:"testTemplateRepoURL,omitempty" yaml:"testTemplateRepoURL,omitempty"`
	TestTemplateRepoOrgName    string `json:"testTemplateRepoOrgName,omitempty" yaml:"testTemplateRepoOrgName,omitempty"`
	TestTemplateRepoName       string `json:"testTemplateRepoName,omitempty" yaml:"testTemplateRepoName,omitempty"`
	TestTemplateRepoBranchName string `json:"testTemplateRepoBranchName,omitempty" yaml:"testTemplateRepoBranchName,omitempty"`
	TestTemplateName           string `json:"testTemplateName,omitempty" yaml:"testTemplateName,omitempty"`
	TestBaseImageName          string `json:"testBaseImageName,omitempty" yaml:"testBaseImageName,omitempty"`
	TestOutputRepoURL          string `json:"testOutputRepoURL,omitempty" yaml:"testOutputRepoURL,omitempty"`
	TestOutputRepoOrgName      string `json:"testOutputRepoOrgName,omitempty" yaml:"testOutputRepoOrgName,omitempty"`
	TestOutputRepoName         string `json:"testOutputRepoName,omitempty" yaml:"testOutputRepoName,omitempty"`
	TestOutputRepoBranchName   string `json:"testOutputRepoBranchName,omitempty" yaml:"testOutputRepoBranchName,omitempty"`
	TestOutputImageName        string `json:"testOutputImageName,omitempty" yaml:"testOutputImageName,omitempty"`
	TestWebAppName             string `json:"testWebAppName,omitempty" yaml:"testWebAppName,omitempty"`
	TestPlanName               string `json:"testPlanName,omitempty" yaml:"testPlanName,omitempty"`

	// ruby base image
	RubyBaseTemplateName         string `json:"rubyBaseTemplateName,omitempty" yaml:"rubyBaseTemplateName,omitempty"`
	RubyBaseOutputRepoURL        string `json:"rubyBaseOutputRepoURL,omitempty" yaml:"rubyBaseOutputRepoURL,omitempty"`
	RubyBaseOutputRepoOrgName    string `json:"rubyBaseOutputRepoOrgName,omitempty" yaml:"rubyBaseOutputRepoOrgName,omitempty"`
	RubyBaseOutputRepoName       string `json:"rubyBaseOutputRepoName,omitempty" yaml:"rubyBaseOutputRepoName,omitempty"`
	RubyBaseOutputRepoBranchName string `json:"rubyBaseOutputRepoBranchName,omitempty" yaml:"rubyBaseOutputRepoBranchName,omitempty"`
	RubyBaseOutputImageName      string `json:"rubyBaseOutputImageName,omitempty" yaml:"rubyBaseOutputImageName,omitempty"`
}

// Batch is the inbound payload of the pipeline entry point.
type Batch struct {
	BuildRequests []BuildRequest `json:"buildRequests" yaml:"buildRequests"`
}

// StackName returns the normalized stack of a resolved request.
func (r *BuildRequest) StackName() Stack {
	return Stack(strings.ToLower(r.Stack))
}

// Saved reports whether the request's outputs are kept after the run.
func (r *BuildRequest) Saved() bool {
	return r.SaveArtifacts == nil || *r.SaveArtifacts
}

// Clone returns a copy that shares no pointers with r.
func (r *BuildRequest) Clone() *BuildRequest {
	out := *r
	if r.SaveArtifacts != nil {
		v := *r.SaveArtifacts
		out.SaveArtifacts = &v
	}
	return &out
}

func (r BuildRequest) String() string {
	return string(r.StackName()) + " " + r.Version
}

// Bool returns a pointer to v, for SaveArtifacts literals.
func Bool(v bool) *bool {
	return &v
}
