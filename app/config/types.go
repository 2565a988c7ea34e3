package config

// SourceConfig is one bank source definition loaded from the sources
// directory. Registering a new institution is a data operation: drop a file
// in, restart (or call the reload endpoint), generate templates.
type SourceConfig struct {
	Source   SourceInfo     `yaml:"source"`
	Matching SourceMatching `yaml:"matching"`
}

// SourceInfo contains basic source identity.
type SourceInfo struct {
	Slug string `yaml:"slug"`
	Name string `yaml:"name"`
}

// SourceMatching contains the sender patterns used to identify the source.
type SourceMatching struct {
	SenderDomains []string `yaml:"sender_domains"`
	SenderEmails  []string `yaml:"sender_emails"`
	Keywords      []string `yaml:"keywords"`
	Priority      int      `yaml:"priority"`
	Enabled       *bool    `yaml:"enabled"`
}
