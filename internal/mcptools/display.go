package mcptools

import (
	"path/filepath"
	"strings"
)

// OpenForUserMsg requests that the TUI open the given content in the editor
// pane for direct user viewing/editing (e.g. after a Show or Edit call).
type OpenForUserMsg struct {
	Content  string
	Language string
	FilePath string // display path (may be relative); empty for non-file content
	AbsPath  string // absolute path for matching LSP diagnostics; empty for non-file content
}

// DetectLanguage returns the Chroma language identifier based on file extension.
func DetectLanguage(path string) string {
	languageMap := map[string]string{
		".go":         "go",
		".py":         "python",
		".js":         "javascript",
		".ts":         "typescript",
		".jsx":        "jsx",
		".tsx":        "tsx",
		".java":       "java",
		".c":          "c",
		".cpp":        "cpp",
		".cc":         "cpp",
		".h":          "c",
		".hpp":        "cpp",
		".cs":         "csharp",
		".rb":         "ruby",
		".php":        "php",
		".rs":         "rust",
		".swift":      "swift",
		".kt":         "kotlin",
		".scala":      "scala",
		".sh":         "bash",
		".bash":       "bash",
		".zsh":        "zsh",
		".fish":       "fish",
		".ps1":        "powershell",
		".r":          "r",
		".sql":        "sql",
		".html":       "html",
		".htm":        "html",
		".xml":        "xml",
		".css":        "css",
		".scss":       "scss",
		".sass":       "sass",
		".less":       "less",
		".json":       "json",
		".yaml":       "yaml",
		".yml":        "yaml",
		".toml":       "toml",
		".ini":        "ini",
		".conf":       "nginx",
		".md":         "markdown",
		".markdown":   "markdown",
		".tex":        "tex",
		".vim":        "vim",
		".lua":        "lua",
		".perl":       "perl",
		".pl":         "perl",
		".dockerfile": "docker",
		".proto":      "protobuf",
	}

	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageMap[ext]; ok {
		return lang
	}

	base := strings.ToLower(filepath.Base(path))
	switch base {
	case "dockerfile":
		return "docker"
	case "makefile":
		return "make"
	case "gemfile":
		return "ruby"
	case "rakefile":
		return "ruby"
	}

	return "text"
}
