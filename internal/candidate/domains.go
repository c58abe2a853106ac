package candidate

import "strings"

// domainKeywords group records by topic when explicit tags do not overlap.
// Two records mentioning different editors still land in the same domain.
var domainKeywords = map[string][]string{
	"editor":          {"editor", "ide", "vscode", "vs code", "sublime", "vim", "neovim", "emacs", "cursor", "nano"},
	"terminal":        {"terminal", "shell", "iterm", "warp", "alacritty", "tmux", "zsh", "bash"},
	"language":        {"python", "typescript", "javascript", "rust", "go", "java", "cpp", "c++", "language"},
	"cloud":           {"aws", "gcp", "azure", "cloud", "hosting", "serverless", "lambda"},
	"task_management": {"todoist", "obsidian", "notion", "task", "todo", "reminder"},
	"communication":   {"slack", "discord", "email", "async", "chat", "message", "communication"},
	"desk":            {"desk", "standing", "sitting", "ergonomic", "chair", "workspace"},
	"music":           {"music", "spotify", "silence", "headphones", "audio", "sound", "quiet"},
	"schedule":        {"morning", "evening", "night", "schedule", "routine", "time", "wake"},
}

// detectDomains returns the domains matched by the record's body or tags.
func detectDomains(body string, tags []string) map[string]struct{} {
	content := strings.ToLower(body)
	tagText := strings.ToLower(strings.Join(tags, " "))

	domains := map[string]struct{}{}
	for domain, keywords := range domainKeywords {
		for _, kw := range keywords {
			if strings.Contains(content, kw) || strings.Contains(tagText, kw) {
				domains[domain] = struct{}{}
				break
			}
		}
	}
	return domains
}
