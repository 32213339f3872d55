package integration

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"testing"
)

const binaryPath = "../cmd/authsession/authsession"

// TestMain builds the authsession binary once for all tests
func TestMain(m *testing.M) {
	flag.Parse()

	fmt.Println("Building authsession binary...")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, "../cmd/authsession")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		fmt.Printf("Failed to build authsession: %v\n", err)
		os.Exit(1)
	}

	exitCode := m.Run()
	_ = os.Remove(binaryPath)
	os.Exit(exitCode)
}
