package main

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Theme is the palette a renderer uses for the OSD panel.
type Theme struct {
	Name       string `json:"name"`
	Background string `json:"background"`
	Border     string `json:"border"`
	Text       string `json:"text"`
	Fill       string `json:"fill"`
}

var themes = map[string]Theme{
	"dark": {Name: "dark", Background: "#0f0f0f", Border: "#262626", Text: "#f2f2f2", Fill: "#000000"},
	"blue": {Name: "blue", Background: "#081529", Border: "#1b6bff", Text: "#9bd6ff", Fill: "#00b7ff"},
	"grey": {Name: "grey", Background: "#2a2a2a", Border: "#3a3a3a", Text: "#dedede", Fill: "#2a2a2a"},
	"wood": {Name: "wood", Background: "#7a4a21", Border: "#3b2210", Text: "#f9ecda", Fill: "#3b230a"},
}

func themeNames() string {
	names := make([]string, 0, len(themes))
	for n := range themes {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// lookupTheme returns the named theme, or the default theme and false.
func lookupTheme(name string) (Theme, bool) {
	t, ok := themes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return themes[defaultTheme], false
	}
	return t, true
}

// themeSources are the inputs to resolveTheme, highest priority first.
type themeSources struct {
	Flag        string   // -theme
	Env         string   // OSD_THEME
	Config      string   // display.theme
	LegacyFiles []string // osd.conf candidates
}

// resolveTheme picks the theme: flag, then OSD_THEME, then the config file,
// then the first legacy osd.conf with a theme= line, then the default.
// An unknown flag value falls back to the default immediately; unknown
// values from other sources are skipped.
func resolveTheme(src themeSources, logger *slog.Logger) Theme {
	if src.Flag != "" {
		t, ok := lookupTheme(src.Flag)
		if !ok {
			logger.Warn("theme not found, using default", "theme", src.Flag, "available", themeNames())
			return t
		}
		logger.Info("theme selected", "theme", t.Name, "source", "flag")
		return t
	}

	if env := strings.TrimSpace(src.Env); env != "" {
		if t, ok := lookupTheme(env); ok {
			logger.Info("theme selected", "theme", t.Name, "source", "env")
			return t
		}
		logger.Warn("OSD_THEME not recognized", "theme", env, "available", themeNames())
	}

	if src.Config != "" {
		if t, ok := lookupTheme(src.Config); ok {
			logger.Info("theme selected", "theme", t.Name, "source", "config")
			return t
		}
		logger.Warn("display.theme not recognized", "theme", src.Config, "available", themeNames())
	}

	for _, path := range src.LegacyFiles {
		name, err := readLegacyTheme(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("failed reading theme file", "path", path, "error", err)
			}
			continue
		}
		if name == "" {
			continue
		}
		if t, ok := lookupTheme(name); ok {
			logger.Info("theme selected", "theme", t.Name, "source", path)
			return t
		}
		logger.Warn("theme in file not recognized", "theme", name, "path", path, "available", themeNames())
	}

	t := themes[defaultTheme]
	logger.Info("theme selected", "theme", t.Name, "source", "default")
	return t
}

// legacyThemeFiles lists osd.conf locations in lookup order.
func legacyThemeFiles() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths,
			filepath.Join(xdg, "osd.conf"),
			filepath.Join(xdg, "volume-osd", "osd.conf"),
		)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "osd.conf"),
			filepath.Join(home, ".config", "volume-osd", "osd.conf"),
		)
	}
	return paths
}

// readLegacyTheme returns the value of the first theme= line in an
// osd.conf, ignoring blank lines and # comments.
func readLegacyTheme(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "theme="); ok {
			return strings.ToLower(strings.TrimSpace(v)), nil
		}
	}
	return "", sc.Err()
}
