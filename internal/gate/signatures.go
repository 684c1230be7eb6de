package gate

import (
	"fmt"
	"regexp"
)

// Signature is a named, pre-compiled pattern for one category of
// injection, jailbreak, or exfiltration content. Names are stable: they
// appear in audit entries and API responses.
type Signature struct {
	Name string
	re   *regexp.Regexp
}

// CompileSignature builds a Signature from a config-supplied pattern.
func CompileSignature(name, pattern string) (Signature, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Signature{}, fmt.Errorf("CompileSignature %s: %w", name, err)
	}
	return Signature{Name: name, re: re}, nil
}

// Default signature table — compiled once at startup, never during a request.
// One entry per category; a message is judged by how many distinct
// signatures it matches, not how often each one fires.
var defaultSignatures = []Signature{
	{"instruction_override", regexp.MustCompile(`(?i)(ignore|disregard)\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|guidelines|context)`)},
	{"instruction_negation", regexp.MustCompile(`(?i)do\s+not\s+follow\s+(your|the|any)\s+(rules|guidelines|instructions|safety)`)},
	{"forget_context", regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions|context)|forget\s+what\s+you\s+were\s+doing`)},
	{"identity_override", regexp.MustCompile(`(?i)you\s+are\s+now\s+|from\s+now\s+on\s+you\s+(are|will|must|should)`)},
	{"role_reassignment", regexp.MustCompile(`(?i)your\s+new\s+(role|identity|persona|instructions?)\s+(is|are)`)},
	{"system_delimiter", regexp.MustCompile(`(?i)\[SYSTEM\]|<\|im_start\|>\s*system|###\s*(SYSTEM|INSTRUCTION|NEW INSTRUCTION)`)},
	{"system_override", regexp.MustCompile(`(?i)(system|safety|security)\s+override|override\s+(the\s+)?(system|safety|security)\s+(prompt|instructions|rules|policy)`)},
	{"prompt_extraction", regexp.MustCompile(`(?i)(reveal|output|print|show)\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`)},
	{"destructive_deletion", regexp.MustCompile(`rm\s+(-rf?|--recursive)\s+[/~*]`)},
	{"disk_overwrite", regexp.MustCompile(`>\s*/dev/sd[a-z]|\bmkfs\.`)},
	{"reverse_shell", regexp.MustCompile(`bash\s+-i\s+>&\s*/dev/tcp|nc\s+(-e|--exec)\s+/bin/(ba)?sh`)},
	{"data_exfiltration", regexp.MustCompile(`(?i)curl\s+[^\n]*(--upload-file|\s@)|wget\s+[^\n]*(--post-file|--post-data)`)},
	{"shell_pipe", regexp.MustCompile(`\|\s*(sh|bash|zsh|python)\b`)},
	{"metadata_probe", regexp.MustCompile(`169\.254\.169\.254|metadata\.google\.internal`)},
}
