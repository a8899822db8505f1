package model

// Config holds the presentation and persistence limits shared by the grading components.
type Config struct {
	MaxPersistedBytes    int  `yaml:"maxPersistedBytes" json:"maxPersistedBytes"`
	MaxDisplayLineLength int  `yaml:"maxDisplayLineLength" json:"maxDisplayLineLength"`
	MaxDisplayLines      int  `yaml:"maxDisplayLines" json:"maxDisplayLines"`
	ForceTabularExamples bool `yaml:"forceTabularExamples" json:"forceTabularExamples"`
}

const (
	DefaultMaxPersistedBytes    = 60000
	DefaultMaxDisplayLineLength = 120
	DefaultMaxDisplayLines      = 200
)

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxPersistedBytes:    DefaultMaxPersistedBytes,
		MaxDisplayLineLength: DefaultMaxDisplayLineLength,
		MaxDisplayLines:      DefaultMaxDisplayLines,
		ForceTabularExamples: true,
	}
}

// WithDefaults fills zero numeric fields with the standard limits.
func (c Config) WithDefaults() Config {
	if c.MaxPersistedBytes <= 0 {
		c.MaxPersistedBytes = DefaultMaxPersistedBytes
	}
	if c.MaxDisplayLineLength <= 0 {
		c.MaxDisplayLineLength = DefaultMaxDisplayLineLength
	}
	if c.MaxDisplayLines <= 0 {
		c.MaxDisplayLines = DefaultMaxDisplayLines
	}
	return c
}
