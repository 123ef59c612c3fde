// Package browser opens Civitai pages in the default web browser.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// linuxBrowsers are tried in order when open-golang fails.
var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// opener is replaced in tests.
var opener = open.Run

// OpenURL opens url in the default web browser, falling back to platform commands when
// open-golang fails.
func OpenURL(url string) error {
	err := opener(url)
	if err == nil {
		log.Debug("opened URL using open-golang library")
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
	return openURLPlatformSpecific(url)
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, browser := range linuxBrowsers {
			if _, err := exec.LookPath(browser); err == nil {
				cmd = exec.Command(browser, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser found on Linux system")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	log.Debugf("running command: %s %v", cmd.Path, cmd.Args[1:])
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	return nil
}

// ModelPageURL returns the public page of a model, selecting versionID when it is non-zero.
// site is the upstream origin, e.g. https://civitai.com.
func ModelPageURL(site string, modelID, versionID int64) string {
	site = strings.TrimRight(strings.TrimSpace(site), "/")
	if site == "" {
		site = "https://civitai.com"
	}
	page := site + "/models/" + strconv.FormatInt(modelID, 10)
	if versionID > 0 {
		page += "?" + url.Values{"modelVersionId": {strconv.FormatInt(versionID, 10)}}.Encode()
	}
	return page
}

// OpenModelPage opens the page of modelID at versionID.
func OpenModelPage(site string, modelID, versionID int64) error {
	if modelID <= 0 {
		return fmt.Errorf("browser: model id required")
	}
	return OpenURL(ModelPageURL(site, modelID, versionID))
}
