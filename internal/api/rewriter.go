package api

import (
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// downloadURLContainers are the arrays (relative to a version object) holding download links.
var downloadURLContainers = []string{"files"}

// rewriteDownloadURLs points every version and file downloadUrl that targets upstreamHost at
// localBase, so downloads go through this proxy and pick up the injected key. It handles a
// single version, a single model and a model listing.
func rewriteDownloadURLs(data []byte, upstreamHost, localBase string) []byte {
	if !gjson.ValidBytes(data) {
		return data
	}
	var paths []string
	collectVersionPaths(gjson.ParseBytes(data), "", &paths)
	if items := gjson.GetBytes(data, "items"); items.IsArray() {
		items.ForEach(func(i, item gjson.Result) bool {
			collectModelPaths(item, "items."+i.String()+".", &paths)
			return true
		})
	}
	collectModelPaths(gjson.ParseBytes(data), "", &paths)

	out := data
	for _, path := range paths {
		current := gjson.GetBytes(out, path).String()
		rewritten, ok := rewriteURL(current, upstreamHost, localBase)
		if !ok {
			continue
		}
		next, err := sjson.SetBytes(out, path, rewritten)
		if err != nil {
			log.Warnf("civitai proxy: failed to rewrite %s: %v", path, err)
			continue
		}
		out = next
	}
	return out
}

func collectModelPaths(model gjson.Result, prefix string, paths *[]string) {
	versions := model.Get("modelVersions")
	if !versions.IsArray() {
		return
	}
	versions.ForEach(func(i, v gjson.Result) bool {
		collectVersionPaths(v, prefix+"modelVersions."+i.String()+".", paths)
		return true
	})
}

func collectVersionPaths(version gjson.Result, prefix string, paths *[]string) {
	if version.Get("downloadUrl").Type == gjson.String {
		*paths = append(*paths, prefix+"downloadUrl")
	}
	for _, container := range downloadURLContainers {
		arr := version.Get(container)
		if !arr.IsArray() {
			continue
		}
		arr.ForEach(func(i, f gjson.Result) bool {
			if f.Get("downloadUrl").Type == gjson.String {
				*paths = append(*paths, prefix+container+"."+i.String()+".downloadUrl")
			}
			return true
		})
	}
}

// rewriteURL swaps scheme and host of raw for localBase when raw points at upstreamHost.
func rewriteURL(raw, upstreamHost, localBase string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Host, upstreamHost) {
		return "", false
	}
	base, err := url.Parse(localBase)
	if err != nil || base.Host == "" {
		return "", false
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String(), true
}
