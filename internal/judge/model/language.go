package model

import "strings"

// Language identifies a supported submission language.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageCpp        Language = "cpp"
	LanguageJava       Language = "java"
	LanguageJavaScript Language = "javascript"
)

// LanguageSpec describes how a language is run on the execution backend.
type LanguageSpec struct {
	Language Language `yaml:"language"`

	// Runtime and Version select the backend runtime, e.g. "python" / "3.10.0".
	Runtime  string `yaml:"runtime"`
	Version  string `yaml:"version"`
	FileName string `yaml:"fileName"`
	Compiled bool   `yaml:"compiled"`

	DefaultTimeLimitMs   int64 `yaml:"defaultTimeLimitMs"`
	DefaultMemoryLimitKB int64 `yaml:"defaultMemoryLimitKB"`
}

// ParseLanguage normalizes user input, accepting a few common aliases.
func ParseLanguage(raw string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "python", "python3", "py":
		return LanguagePython, true
	case "cpp", "c++", "cxx":
		return LanguageCpp, true
	case "java":
		return LanguageJava, true
	case "javascript", "js", "node":
		return LanguageJavaScript, true
	}
	return "", false
}

// DefaultLanguageSpecs returns the built-in language table.
func DefaultLanguageSpecs() map[Language]LanguageSpec {
	return map[Language]LanguageSpec{
		LanguagePython: {
			Language: LanguagePython, Runtime: "python", Version: "3.10.0", FileName: "main.py",
			DefaultTimeLimitMs: 5000, DefaultMemoryLimitKB: 262144,
		},
		LanguageCpp: {
			Language: LanguageCpp, Runtime: "c++", Version: "10.2.0", FileName: "main.cpp", Compiled: true,
			DefaultTimeLimitMs: 2000, DefaultMemoryLimitKB: 262144,
		},
		LanguageJava: {
			Language: LanguageJava, Runtime: "java", Version: "15.0.2", FileName: "Main.java", Compiled: true,
			DefaultTimeLimitMs: 4000, DefaultMemoryLimitKB: 524288,
		},
		LanguageJavaScript: {
			Language: LanguageJavaScript, Runtime: "javascript", Version: "18.15.0", FileName: "main.js",
			DefaultTimeLimitMs: 4000, DefaultMemoryLimitKB: 262144,
		},
	}
}
