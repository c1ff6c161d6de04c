package main

import (
	"fmt"

	"github.com/phillarmonic/figlet/figletlib"
)

// PrintBanner renders tt's ASCII-art banner and version information, the
// same way the teacher's ShowVersion renders its own CLI's banner.
func PrintBanner(version, commit, date string) {
	loader := figletlib.NewEmbededLoader()
	font, err := loader.GetFontByName("standard")
	if err != nil {
		fmt.Printf("tt %s\n", version)
		return
	}

	startColor, _ := figletlib.ParseColor("#00C2FF")
	endColor, _ := figletlib.ParseColor("#00FF95")
	gradient := figletlib.ColorConfig{
		Mode:       figletlib.ColorModeGradient,
		StartColor: startColor,
		EndColor:   endColor,
	}

	fmt.Println()
	figletlib.PrintColoredMsg("tasktree", font, 80, font.Settings(), "left", gradient)

	fmt.Println("tt - an incremental task runner")
	fmt.Println()
	fmt.Printf("Version %s\n", version)
	if commit != "unknown" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" {
		fmt.Printf("built: %s\n", date)
	}
	fmt.Println()
}
