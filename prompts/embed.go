package prompts

import _ "embed"

//go:embed workspace/intro.md
var WorkspaceIntro string

//go:embed workspace/conventions.md
var WorkspaceConventions string
