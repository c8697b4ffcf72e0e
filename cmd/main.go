// FilePath: server/meterhub/cmd/main.go
package main

import (
	"fmt"
	"log"
	"os"

	tm "github.com/buger/goterm"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/config"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/server"
	nuts "github.com/vaudience/go-nuts"
)

func main() {
	ClearConsole()
	DrawLogo()
	nuts.InitVersion()
	nuts.L.Infof("[Main] Starting meterhub v%s", nuts.GetVersion())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		nuts.L.Errorf("[Main] Server error: %v", err)
		os.Exit(1)
	}
}

// ClearConsole clears the console screen and moves the cursor home.
func ClearConsole() {
	tm.Clear()
	tm.MoveCursor(1, 1)
	tm.Flush()
}

func DrawLogo() {
	fmt.Println()
	lines := []string{
		"                     __            __          __  ",
		"   ____ ___  ___  __/ /____  _____/ /_  __  __/ /_ ",
		"  / __ `__ \\/ _ \\/ /_/ __/ _ \\/ ___/ __ \\/ / / / __ \\",
		" / / / / / /  __/ __/ /_/  __/ /  / / / / /_/ / /_/ /",
		"/_/ /_/ /_/\\___/\\__/\\__/\\___/_/  /_/ /_/\\__,_/_.___/ ",
		"....................................................  " + nuts.GetVersion(),
	}

	for _, line := range lines {
		fmt.Println(line)
	}
}
