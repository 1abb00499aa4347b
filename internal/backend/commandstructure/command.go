package commandstructure

// Command is one step of an image pipeline, e.g. format conversion or scaling.
type Command interface {
	Name() string
	Execute(imageData []byte) ([]byte, error)
}

// CommandConfig represents a command configuration with name and parameters
type CommandConfig struct {
	Name   string
	Params map[string]any
}
