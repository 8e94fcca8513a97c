package models

// HookPhase names a pipeline checkpoint at which hooks run
type HookPhase string

const (
	PreBuild   HookPhase = "pre_build"
	PostBuild  HookPhase = "post_build"
	PreDeploy  HookPhase = "pre_deploy"
	PostDeploy HookPhase = "post_deploy"
)

// HookSpec is a single named shell command
type HookSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Command     string `json:"command" yaml:"command"`
}

// HookSet holds the ordered hooks of every phase
type HookSet struct {
	PreBuild   []HookSpec `yaml:"pre_build,omitempty"`
	PostBuild  []HookSpec `yaml:"post_build,omitempty"`
	PreDeploy  []HookSpec `yaml:"pre_deploy,omitempty"`
	PostDeploy []HookSpec `yaml:"post_deploy,omitempty"`
}

// For returns the hooks configured for phase, in execution order
func (h HookSet) For(phase HookPhase) []HookSpec {
	switch phase {
	case PreBuild:
		return h.PreBuild
	case PostBuild:
		return h.PostBuild
	case PreDeploy:
		return h.PreDeploy
	case PostDeploy:
		return h.PostDeploy
	}
	return nil
}
