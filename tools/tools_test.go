package tools

import (
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders("Authorization: Bearer a:b; X-Key:1;broken; : empty")
	if len(got) != 2 {
		t.Fatalf("ParseHeaders() = %v, want 2 headers", got)
	}
	if got["Authorization"] != "Bearer a:b" || got["X-Key"] != "1" {
		t.Errorf("ParseHeaders() = %v", got)
	}
}

func TestVisitedReportsLongNames(t *testing.T) {
	flagCommand := flag.NewFlagSet("test", flag.ContinueOnError)
	defineStreamerFlags(flagCommand)
	if err := flagCommand.Parse([]string{"-e", "4", "--redundancy", "eager"}); err != nil {
		t.Fatal(err)
	}

	visited := Visited(flagCommand)
	if !visited["max-sse"] || !visited["redundancy"] || len(visited) != 2 {
		t.Errorf("Visited() = %v", visited)
	}
}

func TestGetTilesetFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"tileset.json", "a/tileset.json", "a/b/Tileset.JSON", "a/other.json"} {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := map[string]struct {
		input     string
		recursive bool
		want      int
	}{
		"single file":   {input: filepath.Join(root, "a", "other.json"), want: 1},
		"top level":     {input: root, want: 1},
		"recursive":     {input: root, recursive: true, want: 3},
		"missing input": {input: filepath.Join(root, "missing"), want: -1},
	}
	finder := NewStandardFileFinder()
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			files, err := finder.GetTilesetFiles(test.input, test.recursive)
			if test.want < 0 {
				if err == nil {
					t.Errorf("GetTilesetFiles() error = nil, want an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("GetTilesetFiles() error = %v", err)
			}
			sort.Strings(files)
			if len(files) != test.want {
				t.Errorf("GetTilesetFiles() = %v, want %d files", files, test.want)
			}
		})
	}
}

func TestIsRemote(t *testing.T) {
	tests := map[string]bool{
		"https://h/tileset.json": true,
		"HTTP://h/tileset.json":  true,
		"data/tileset.json":      false,
		"/abs/tileset.json":      false,
	}
	for input, want := range tests {
		if got := IsRemote(input); got != want {
			t.Errorf("IsRemote(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestPrintCommandDefaults(t *testing.T) {
	tests := map[string][]string{
		CommandInspect: {"-depth", "-recursive", "-max-sse"},
		CommandStream:  {"-frames", "-frame-delay", "-input"},
		CommandServe:   {"-address", "-orbit", "-redundancy"},
	}
	for command, wants := range tests {
		t.Run(command, func(t *testing.T) {
			var out strings.Builder
			PrintCommandDefaults(&out, command)
			for _, want := range wants {
				if !strings.Contains(out.String(), want) {
					t.Errorf("PrintCommandDefaults(%q) is missing %s", command, want)
				}
			}
		})
	}
}
