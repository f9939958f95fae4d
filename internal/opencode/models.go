package opencode

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/debug"
)

var modelHeaderRe = regexp.MustCompile(`^\S+/\S+$`)

// ParseModelTable parses `opencode models --verbose` output: a
// provider/model header line followed by that model's JSON metadata. It
// returns the positive limit.context of every model that has one.
func ParseModelTable(text string) map[string]int {
	out := map[string]int{}
	var key string
	var block strings.Builder
	flush := func() {
		if key == "" {
			return
		}
		var meta struct {
			Limit struct {
				Context float64 `json:"context"`
			} `json:"limit"`
		}
		if err := json.Unmarshal([]byte(block.String()), &meta); err == nil && meta.Limit.Context > 0 {
			out[key] = int(meta.Limit.Context)
		}
		block.Reset()
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if modelHeaderRe.MatchString(line) {
			flush()
			key = strings.TrimSpace(line)
			continue
		}
		block.WriteString(line)
		block.WriteByte('\n')
	}
	flush()
	return out
}

type modelCache struct {
	FetchedAt time.Time      `json:"fetchedAt"`
	Models    map[string]int `json:"models"`
}

// ModelContextWindows returns the model → context window table. A cache at
// cachePath younger than ttl is used as is; otherwise the table is rebuilt
// from the tool and the cache rewritten. Failures yield an empty table.
func (c *Client) ModelContextWindows(ctx context.Context, cachePath string, ttl time.Duration) map[string]int {
	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			var cache modelCache
			if json.Unmarshal(data, &cache) == nil && cache.Models != nil && time.Since(cache.FetchedAt) < ttl {
				return cache.Models
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.ModelsTimeout)
	defer cancel()
	out, err := c.command(ctx, "", "models", "--verbose").Output()
	if err != nil {
		debug.LogKV("opencode", "models listing failed", "error", err)
		return map[string]int{}
	}
	models := ParseModelTable(string(out))

	if cachePath != "" && len(models) > 0 {
		writeModelCache(cachePath, models)
	}
	return models
}

func writeModelCache(path string, models map[string]int) {
	data, err := json.Marshal(modelCache{FetchedAt: time.Now().UTC(), Models: models})
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		return
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
	}
}
