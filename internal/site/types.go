package site

// Settings is the pair of values handed to the static-site build tool.
// A Settings value is never mutated after Resolve returns it.
type Settings struct {
	SiteOrigin string `json:"site" yaml:"site"`
	BasePath   string `json:"base" yaml:"base"`
}

// Resolver describes the behaviour required from a settings resolver.
type Resolver interface {
	Resolve(env map[string]string) Settings
}
