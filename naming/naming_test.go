package naming

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bbearce/wsl/config"
)

func TestRandomWord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["gazelle"]`))
	}))
	defer server.Close()

	word, err := RandomWord(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("RandomWord: %v", err)
	}
	if word != "gazelle" {
		t.Errorf("expected gazelle, got %q", word)
	}
}

func TestRandomWordFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>down</html>"))
		}},
		{"empty list", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		}},
		{"empty word", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[""]`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			if _, err := RandomWord(context.Background(), server.Client(), server.URL); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRandomWordUnreachable(t *testing.T) {
	client := &http.Client{Timeout: 100 * time.Millisecond}
	if _, err := RandomWord(context.Background(), client, "http://127.0.0.1:1/word"); err == nil {
		t.Error("expected an error for an unreachable service")
	}
}

func TestFallbackToken(t *testing.T) {
	at := time.Date(2024, time.March, 7, 14, 5, 9, 0, time.UTC)
	if got := FallbackToken(at); got != "07_03_14_05_09" {
		t.Errorf("expected 07_03_14_05_09, got %q", got)
	}
}

func TestRunDirName(t *testing.T) {
	base := config.RunConfig{
		Data:      "chexpert",
		Col:       "pneumonia",
		Classes:   1,
		Network:   "densenet",
		Depth:     121,
		Optim:     "adam",
		LR:        1e-5,
		BatchSize: 64,
	}

	withWildcat := base
	withWildcat.Wildcat = &config.WildcatConfig{Maps: 4, Alpha: 0.5, K: 2}

	withFlags := base
	withFlags.Debug = true
	withFlags.Pretrained = true
	withFlags.Balanced = true

	tests := []struct {
		name     string
		cfg      config.RunConfig
		expected string
	}{
		{
			"minimal",
			base,
			"chexpert_pneumonia_lr1e-05_bs64_adam_densenet121_oriole",
		},
		{
			"wildcat head",
			withWildcat,
			"chexpert_pneumonia_lr1e-05_bs64_adam_densenet121_wildcat_maps4_alpha0.5_k2_oriole",
		},
		{
			"debug pretrained balanced",
			withFlags,
			"debug_chexpert_pneumonia_lr1e-05_bs64_adam_pre_bal_densenet121_oriole",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RunDirName(tt.cfg, "oriole"); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestResolveResumeDir(t *testing.T) {
	root := t.TempDir()
	mkdir := func(name string) {
		if err := os.Mkdir(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	mkdir("chexpert_pneumonia_lr1e-05_bs64_adam_densenet121_oriole")
	mkdir("mimic_edema_lr0.001_bs32_sgd_resnet50_heron")
	mkdir("debug_mimic_edema_lr0.001_bs32_sgd_resnet50_heron")

	dir, err := ResolveResumeDir(root, "oriole")
	if err != nil {
		t.Fatalf("ResolveResumeDir: %v", err)
	}
	expected := filepath.Join(root, "chexpert_pneumonia_lr1e-05_bs64_adam_densenet121_oriole")
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}

	if _, err := ResolveResumeDir(root, "walrus"); !errors.Is(err, ErrResumeTargetMissing) {
		t.Errorf("expected ErrResumeTargetMissing, got %v", err)
	}
	if _, err := ResolveResumeDir(root, "heron"); !errors.Is(err, ErrResumeTargetAmbiguous) {
		t.Errorf("expected ErrResumeTargetAmbiguous, got %v", err)
	}
}
