package models

// ToolDescriptor describes one loadable tool in the shell.
type ToolDescriptor struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`
	Help        string `json:"-" yaml:"help"`
	Library     string `json:"library,omitempty" yaml:"library"`
	Loaded      bool   `json:"loaded" yaml:"-"`
}
