package pipeline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultInstructions is the fixed instruction set handed to the rewrite
// agent. An operator can override it with a YAML file (WS_REWRITE_INSTRUCTIONS)
// carrying an `instructions` list; the endpoint and model lines are always
// appended so the verification gate and the agent agree on the contract.
var defaultInstructions = []string{
	"Remove every direct OpenAI integration: delete calls to api.openai.com and any use of the openai client library.",
	"Remove all embedded credentials, API keys and secrets from source and configuration files.",
	"Route all AI calls through the sanctioned runtime endpoint instead.",
	"Preserve the worksheet's behaviour and user-facing content exactly.",
	"Keep the dependency set minimal; do not add new packages.",
}

type instructionsFile struct {
	Instructions []string `yaml:"instructions"`
}

// loadInstructions returns the rewrite-agent prompt. path may be empty.
func loadInstructions(path, endpointPath, model string) (string, error) {
	lines := defaultInstructions
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading rewrite instructions: %w", err)
		}
		var f instructionsFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return "", fmt.Errorf("parsing rewrite instructions: %w", err)
		}
		if len(f.Instructions) > 0 {
			lines = f.Instructions
		}
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "- The sanctioned runtime endpoint path is %s.\n", endpointPath)
	fmt.Fprintf(&b, "- The sanctioned model identifier is %s.\n", model)
	return b.String(), nil
}
