package main

import (
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

const (
	mediaCSS  = "text/css"
	mediaHTML = "text/html"
	mediaJS   = "application/javascript"
)

var mediaTypes = map[string]string{
	"css":  mediaCSS,
	"html": mediaHTML,
	"js":   mediaJS,
}

func main() {
	var (
		inputFile  = flag.String("input", "", "Input file path")
		outputFile = flag.String("output", "", "Output file path")
		fileType   = flag.String("type", "", "File type (css, js or html); defaults to the input extension")
		all        = flag.Bool("all", false, "Minify templates/ and static/ into -dist")
		dist       = flag.String("dist", "dist", "Output directory for -all")
	)
	flag.Parse()

	m := newMinifier()

	if *all {
		for _, dir := range []string{"templates", "static"} {
			n, err := minifyTree(m, dir, filepath.Join(*dist, dir))
			if err != nil {
				log.Fatalf("Error minifying %s: %v", dir, err)
			}
			fmt.Printf("📦 %s: %d files\n", dir, n)
		}
		fmt.Printf("✅ Minification complete! Files are in the '%s' directory\n", *dist)
		return
	}

	if *inputFile == "" || *outputFile == "" {
		log.Fatal("Usage: go run ./cmd/minify -input=<file> -output=<file> [-type=<css|js|html>] | -all [-dist=<dir>]")
	}

	kind := *fileType
	if kind == "" {
		kind = strings.TrimPrefix(filepath.Ext(*inputFile), ".")
	}
	mediaType, ok := mediaTypeFor(kind)
	if !ok {
		log.Fatalf("Unsupported file type: %s (supported: css, js, html)", kind)
	}

	in, out, err := minifyFile(m, *inputFile, *outputFile, mediaType)
	if err != nil {
		log.Fatalf("Failed to minify %s: %v", *inputFile, err)
	}
	fmt.Printf("Successfully minified %s -> %s (%s)\n", *inputFile, *outputFile, reduction(in, out))
}

// newMinifier keeps Go template actions intact in HTML.
func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc(mediaCSS, css.Minify)
	m.AddFunc(mediaJS, js.Minify)
	m.Add(mediaHTML, &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
		TemplateDelims:   html.GoTemplateDelims,
	})
	return m
}

func mediaTypeFor(kind string) (string, bool) {
	mt, ok := mediaTypes[strings.ToLower(kind)]
	return mt, ok
}

// minifyTree minifies every css, js and html file under src into dst,
// copying other files (images, fonts) unchanged.
func minifyTree(m *minify.M, src, dst string) (int, error) {
	count := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if mediaType, ok := mediaTypeFor(strings.TrimPrefix(filepath.Ext(path), ".")); ok {
			if _, _, err := minifyFile(m, path, target, mediaType); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		} else if err := copyFile(path, target); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func minifyFile(m *minify.M, srcPath, dstPath, mediaType string) (int, int, error) {
	src, err := os.ReadFile(srcPath)
	if err != nil {
		return 0, 0, err
	}
	minified, err := m.Bytes(mediaType, src)
	if err != nil {
		return 0, 0, err
	}
	if err := writeFile(dstPath, minified); err != nil {
		return 0, 0, err
	}
	return len(src), len(minified), nil
}

func copyFile(srcPath, dstPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	return writeFile(dstPath, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func reduction(original, minified int) string {
	if original == 0 {
		return "empty input"
	}
	ratio := float64(original-minified) / float64(original) * 100
	return fmt.Sprintf("%d bytes → %d bytes, %.1f%% reduction", original, minified, ratio)
}
