//go:build ignore

// This script obtains the Google Calendar OAuth token the daemon reads
// from calendar.token_file. Run with:
//
//	go run scripts/get-google-token.go <credentials.json> [output-file]
//
// The default output is ~/.pulseos/calendar-token.json. Only the
// read-only calendar scope is requested; the daemon never writes to
// your calendar.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run scripts/get-google-token.go <credentials.json> [output-file]")
		os.Exit(1)
	}

	credFile := os.Args[1]
	home, _ := os.UserHomeDir()
	outFile := filepath.Join(home, ".pulseos", "calendar-token.json")
	if len(os.Args) > 2 {
		outFile = os.Args[2]
	}

	credBytes, err := os.ReadFile(credFile)
	if err != nil {
		fmt.Printf("Error reading credentials: %v\n", err)
		os.Exit(1)
	}

	config, err := google.ConfigFromJSON(credBytes, calendar.CalendarReadonlyScope)
	if err != nil {
		fmt.Printf("Error parsing credentials: %v\n", err)
		os.Exit(1)
	}

	// Desktop OAuth uses a loopback redirect on a free port.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Printf("Error finding available port: %v\n", err)
		os.Exit(1)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	config.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			if errMsg := r.URL.Query().Get("error"); errMsg != "" {
				errChan <- fmt.Errorf("OAuth error: %s", errMsg)
				http.Error(w, "Authorization failed: "+errMsg, http.StatusBadRequest)
			}
			// Favicon or other stray request, ignore.
			return
		}
		codeChan <- code
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><html><body style="font-family:system-ui;text-align:center;padding-top:20vh"><h1>Connected!</h1><p>You can close this window and return to the terminal.</p></body></html>`)
	})

	server := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	defer server.Shutdown(context.Background())

	authURL := config.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Println("\n=== PulseOS Calendar Setup ===")
	fmt.Println("\nOpening browser for authentication...")
	if err := openBrowser(authURL); err != nil {
		fmt.Println("\nCould not open browser automatically.")
		fmt.Println("Please open this URL manually:")
		fmt.Println(authURL)
	}

	fmt.Println("\nWaiting for authorization...")

	var code string
	select {
	case code = <-codeChan:
		fmt.Println("\nAuthorization received!")
	case err := <-errChan:
		fmt.Printf("\nError: %v\n", err)
		os.Exit(1)
	case <-time.After(5 * time.Minute):
		fmt.Println("\nTimeout waiting for authorization")
		os.Exit(1)
	}

	token, err := config.Exchange(context.Background(), code)
	if err != nil {
		fmt.Printf("Error exchanging code: %v\n", err)
		os.Exit(1)
	}

	tokenJSON, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		fmt.Printf("Error encoding token: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(outFile), 0700); err != nil {
		fmt.Printf("Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outFile, tokenJSON, 0600); err != nil {
		fmt.Printf("Error writing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n=== Success! ===\n\nToken saved to %s\n", outFile)
	fmt.Println("\nEnable the calendar signal in your config:")
	fmt.Printf("  \"calendar\": {\"enabled\": true, \"token_file\": %q}\n", outFile)
}

// openBrowser opens a URL in the default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		if _, err := exec.LookPath("xdg-open"); err == nil {
			cmd = exec.Command("xdg-open", url)
		} else if _, err := exec.LookPath("sensible-browser"); err == nil {
			cmd = exec.Command("sensible-browser", url)
		} else {
			return fmt.Errorf("no browser found")
		}
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}
