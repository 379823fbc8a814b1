package tools

import sublime "github.com/sublime-labs/sublimechain"

// Builtins returns the default local tool set.
func Builtins() []sublime.Tool {
	return []sublime.Tool{
		&CalculatorTool{},
		&ClockTool{},
		&EchoTool{},
		&WebFetchTool{},
	}
}
