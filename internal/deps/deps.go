package deps

import "fmt"

// Tool identifies a DCC runtime.
type Tool string

const (
	// Interactive is the GUI application that opens the generated scene.
	Interactive Tool = "houdini"
	// Headless is the batch Python runtime that builds the scene.
	Headless Tool = "hython"
)

// Status reports the availability of a runtime.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Check resolves both runtimes and reports availability. The headless
// runtime is optional: launches degrade to opening the existing scene.
func (l *Locator) Check() []Status {
	tools := []struct {
		tool        Tool
		description string
		optional    bool
	}{
		{Interactive, "Opens the generated scene", false},
		{Headless, "Builds the scene from the template", true},
	}
	results := make([]Status, 0, len(tools))
	for _, entry := range tools {
		status := Status{
			Name:        string(entry.tool),
			Description: entry.description,
			Optional:    entry.optional,
		}
		res, err := l.Locate(entry.tool)
		if err != nil {
			status.Command = executableName(string(entry.tool), l.goos)
			status.Detail = fmt.Sprintf("not found (%d candidates probed)", len(res.Tried))
			results = append(results, status)
			continue
		}
		status.Command = res.Path
		status.Available = true
		switch {
		case res.Source == "hfs":
			status.Detail = "via $HFS"
		case res.Version != "":
			status.Detail = "version " + res.Version
		}
		results = append(results, status)
	}
	return results
}
