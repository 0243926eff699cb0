// Package naming produces readable run identifiers and resolves existing run
// directories when a run is resumed.
package naming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bbearce/wsl/config"
)

// Resume resolution failures. Both are fatal: picking an arbitrary directory
// would silently continue someone else's run.
var (
	ErrResumeTargetMissing   = errors.New("no run directory matches resume name")
	ErrResumeTargetAmbiguous = errors.New("multiple run directories match resume name")
)

// RandomWord asks the word service for a single random word. One attempt, no
// retry; callers fall back to FallbackToken on any error.
func RandomWord(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build word request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("word service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("word service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read word response: %w", err)
	}

	var words []string
	if err := json.Unmarshal(body, &words); err != nil {
		return "", fmt.Errorf("parse word response: %w", err)
	}
	if len(words) == 0 || words[0] == "" {
		return "", fmt.Errorf("word service returned no words")
	}
	return words[0], nil
}

// FallbackToken formats a timestamp token used when the word service is
// unavailable.
func FallbackToken(t time.Time) string {
	return t.Format("02_01_15_04_05")
}

// RunDirName assembles the run directory name from the hyperparameters and a
// name token. Tag order is fixed; disabled options contribute nothing.
func RunDirName(cfg config.RunConfig, token string) string {
	name := ""
	if cfg.Debug {
		name += "debug_"
	}
	name += cfg.Data + "_" + cfg.Col + "_"
	name += "lr" + trimFloat(cfg.LR) + "_bs" + strconv.Itoa(cfg.BatchSize) + "_" + cfg.Optim
	if cfg.Pretrained {
		name += "_pre"
	}
	if cfg.Balanced {
		name += "_bal"
	}
	name += "_" + cfg.Network + strconv.Itoa(cfg.Depth)
	if cfg.Wildcat != nil {
		name += fmt.Sprintf("_wildcat_maps%d_alpha%s_k%d",
			cfg.Wildcat.Maps, trimFloat(cfg.Wildcat.Alpha), cfg.Wildcat.K)
	}
	return name + "_" + token
}

// ResolveResumeDir finds the unique existing run directory whose name ends in
// name. Zero or multiple matches are typed errors rather than a guess.
func ResolveResumeDir(modelsRoot, name string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(modelsRoot, "*"+name))
	if err != nil {
		return "", fmt.Errorf("scan run directories: %w", err)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %q under %s", ErrResumeTargetMissing, name, modelsRoot)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %v", ErrResumeTargetAmbiguous, name, matches)
	}
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
